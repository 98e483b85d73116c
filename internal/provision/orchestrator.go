// Package provision drives tenant instances from provisioning to ready or
// failed.
package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/prometheus"
	"go.uber.org/zap"
)

// StepInstall is the event step of the backend install.
const StepInstall = "deploy_install"

// stepProvisioning labels failures that cannot be attributed to one step.
const stepProvisioning = "provisioning"

// Backend creates, probes and removes the cluster resources of an instance.
type Backend interface {
	// Create installs the isolated resources of tenantID. It returns once the
	// install itself has finished, not when the workloads serve traffic.
	// Retrying a failed Create is safe.
	Create(ctx context.Context, tenantID, secret string) error
	// IsReady reports whether component in namespace is available.
	IsReady(ctx context.Context, namespace, component string) (bool, error)
	// Destroy removes every resource of tenantID.
	Destroy(ctx context.Context, tenantID string) error
}

// InstanceStore is the part of the registry the orchestrator writes to.
type InstanceStore interface {
	TransitionInstance(ctx context.Context, id string, to model.InstanceStatus, reason string) (bool, error)
	DeleteInstance(ctx context.Context, id string) error
}

// Journal records provisioning progress.
type Journal interface {
	LogEvent(ctx context.Context, deploymentID, step string, status model.EventStatus, message string) (*model.DeploymentEvent, error)
	LogMessage(ctx context.Context, deploymentID string, level model.LogLevel, message string) (*model.DeploymentLog, error)
}

// Component is a workload that must become ready, in order, after install.
type Component struct {
	Step  string // event step, e.g. "postgres_ready"
	Name  string // deployment name inside the instance namespace
	Label string
}

// DefaultComponents are the workloads of the vault chart.
var DefaultComponents = []Component{
	{Step: "postgres_ready", Name: "postgres", Label: "Postgres"},
	{Step: "vaultwd_ready", Name: "vaultwd", Label: "VaultWarden"},
}

// Options tune the orchestrator. Zero values take the defaults.
type Options struct {
	PollInterval   time.Duration // default 2s
	ReadyTimeout   time.Duration // per component, default 120s
	InstallTimeout time.Duration // per Create/Destroy call, default 6m
	CallTimeout    time.Duration // per IsReady call, default 10s
	Components     []Component
	Clock          clock.Clock
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 120 * time.Second
	}
	if o.InstallTimeout <= 0 {
		o.InstallTimeout = 6 * time.Minute
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.Components == nil {
		o.Components = DefaultComponents
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// Orchestrator runs provisioning in the background and owns every status
// transition of the instances it provisions.
type Orchestrator struct {
	backend Backend
	store   InstanceStore
	journal Journal
	log     *zap.Logger
	opts    Options

	wg sync.WaitGroup
}

// NewOrchestrator returns an Orchestrator.
func NewOrchestrator(backend Backend, store InstanceStore, journal Journal, log *zap.Logger, opts Options) *Orchestrator {
	opts.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		backend: backend,
		store:   store,
		journal: journal,
		log:     log.With(zap.String("component", "provisioner")),
		opts:    opts,
	}
}

// Start provisions instanceID in a new goroutine and returns immediately.
// The run is detached from the caller; callers observe the outcome through
// the instance status.
func (o *Orchestrator) Start(instanceID, secret string) {
	o.wg.Add(1)
	prometheus.ProvisioningStarted()
	go func() {
		defer o.wg.Done()
		o.run(instanceID, secret)
	}()
}

// Wait blocks until every started run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// stepError carries the step a run failed at.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }

func (o *Orchestrator) run(instanceID, secret string) {
	ctx := context.Background()
	log := o.log.With(zap.String("instance_id", instanceID))
	start := o.opts.Clock.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Provisioning panicked", zap.Any("panic", r))
			o.fail(ctx, log, instanceID, stepProvisioning, fmt.Sprintf("provisioning panicked: %v", r))
			prometheus.RecordProvisioning("failed", o.opts.Clock.Since(start))
		}
	}()

	if err := o.provision(ctx, log, instanceID, secret); err != nil {
		step := stepProvisioning
		if se, ok := err.(*stepError); ok {
			step = se.step
		}
		o.fail(ctx, log, instanceID, step, err.Error())
		prometheus.RecordProvisioning("failed", o.opts.Clock.Since(start))
		return
	}

	ok, err := o.store.TransitionInstance(ctx, instanceID, model.InstanceReady, "")
	if err != nil {
		o.fail(ctx, log, instanceID, stepProvisioning, fmt.Sprintf("mark ready: %v", err))
		prometheus.RecordProvisioning("failed", o.opts.Clock.Since(start))
		return
	}
	if !ok {
		log.Warn("Instance left provisioning before it became ready")
		return
	}
	o.message(ctx, log, instanceID, model.LogInfo, fmt.Sprintf("Provisioning completed successfully for instance %s", instanceID))
	log.Info("Instance provisioned", zap.Duration("took", o.opts.Clock.Since(start)))
	prometheus.RecordProvisioning("ready", o.opts.Clock.Since(start))
}

func (o *Orchestrator) provision(ctx context.Context, log *zap.Logger, instanceID, secret string) error {
	o.event(ctx, log, instanceID, StepInstall, model.EventInProgress, "Starting installation")
	o.message(ctx, log, instanceID, model.LogInfo, fmt.Sprintf("Installing resources for instance %s", instanceID))

	installCtx, cancel := context.WithTimeout(ctx, o.opts.InstallTimeout)
	err := o.backend.Create(installCtx, instanceID, secret)
	cancel()
	if err != nil {
		return &stepError{step: StepInstall, err: fmt.Errorf("install failed: %w", err)}
	}
	o.event(ctx, log, instanceID, StepInstall, model.EventSuccess, "Installation completed")

	namespace := instanceID
	for _, c := range o.opts.Components {
		o.event(ctx, log, instanceID, c.Step, model.EventInProgress, fmt.Sprintf("Waiting for %s deployment", c.Name))
		if err := o.waitReady(ctx, log, instanceID, namespace, c.Name); err != nil {
			return &stepError{step: c.Step, err: err}
		}
		o.event(ctx, log, instanceID, c.Step, model.EventSuccess, fmt.Sprintf("%s deployment ready", c.Label))
	}
	return nil
}

// waitReady polls component until it is available or ReadyTimeout passes.
// A probe error counts as not ready; only the timeout fails the step.
func (o *Orchestrator) waitReady(ctx context.Context, log *zap.Logger, instanceID, namespace, component string) error {
	clk := o.opts.Clock
	deadline := clk.Now().Add(o.opts.ReadyTimeout)

	for {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		ready, err := o.backend.IsReady(callCtx, namespace, component)
		cancel()
		if err != nil {
			log.Debug("Readiness probe failed", zap.String("deployment", component), zap.Error(err))
		}
		if ready {
			return nil
		}
		if !clk.Now().Before(deadline) {
			return fmt.Errorf("timeout waiting for deployment %s after %s", component, o.opts.ReadyTimeout)
		}
		o.message(ctx, log, instanceID, model.LogDebug, fmt.Sprintf("Deployment %s not ready yet", component))
		clk.Sleep(o.opts.PollInterval)
	}
}

func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, instanceID, step, reason string) {
	log.Error("Provisioning failed", zap.String("step", step), zap.String("reason", reason))
	o.event(ctx, log, instanceID, step, model.EventFailed, reason)
	o.message(ctx, log, instanceID, model.LogError, fmt.Sprintf("Provisioning failed: %s", reason))

	if _, err := o.store.TransitionInstance(ctx, instanceID, model.InstanceFailed, reason); err != nil {
		log.Error("Failed to mark instance failed", zap.Error(err))
	}
}

// event and message never fail the run; the journal is best effort.
func (o *Orchestrator) event(ctx context.Context, log *zap.Logger, instanceID, step string, status model.EventStatus, message string) {
	if _, err := o.journal.LogEvent(ctx, instanceID, step, status, message); err != nil {
		log.Warn("Failed to record deployment event", zap.String("step", step), zap.Error(err))
	}
}

func (o *Orchestrator) message(ctx context.Context, log *zap.Logger, instanceID string, level model.LogLevel, message string) {
	if _, err := o.journal.LogMessage(ctx, instanceID, level, message); err != nil {
		log.Warn("Failed to record deployment log", zap.Error(err))
	}
}

// Destroy removes the backend resources of instanceID and then its record.
// The record is kept when the backend fails so resources are never orphaned.
func (o *Orchestrator) Destroy(ctx context.Context, instanceID string) error {
	destroyCtx, cancel := context.WithTimeout(ctx, o.opts.InstallTimeout)
	err := o.backend.Destroy(destroyCtx, instanceID)
	cancel()
	if err != nil {
		o.log.Error("Failed to destroy instance resources", zap.String("instance_id", instanceID), zap.Error(err))
		return fmt.Errorf("destroy instance %s: %w", instanceID, err)
	}
	return o.store.DeleteInstance(ctx, instanceID)
}
