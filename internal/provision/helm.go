package provision

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// argon2id parameters of the admin token handed to the vault.
const (
	argonMemory  = 64 * 1024
	argonTime    = 3
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// CommandRunner runs an external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// HelmBackend installs one release of the vault chart per instance, in a
// namespace named after the instance.
type HelmBackend struct {
	Bin       string
	ChartPath string
	Timeout   time.Duration
	Runner    CommandRunner
	Kube      kubernetes.Interface
	Log       *zap.Logger
}

// NewHelmBackend returns a HelmBackend running helm on the host.
func NewHelmBackend(bin, chartPath string, timeout time.Duration, kube kubernetes.Interface, log *zap.Logger) *HelmBackend {
	if bin == "" {
		bin = "helm"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HelmBackend{
		Bin:       bin,
		ChartPath: chartPath,
		Timeout:   timeout,
		Runner:    ExecRunner{},
		Kube:      kube,
		Log:       log,
	}
}

// Create runs helm install and waits for the release to settle.
func (h *HelmBackend) Create(ctx context.Context, tenantID, secret string) error {
	hash, err := HashAdminToken(secret)
	if err != nil {
		return err
	}

	args := []string{
		"install", tenantID, h.ChartPath,
		"--namespace", tenantID,
		"--create-namespace",
		"--set", "vaultwd.adminToken=" + escapeSetValue(hash),
		"--wait",
		"--timeout", h.Timeout.String(),
	}
	h.Log.Info("Installing helm release", zap.String("release", tenantID), zap.String("chart", h.ChartPath))

	out, err := h.Runner.Run(ctx, h.Bin, args...)
	if err != nil {
		return fmt.Errorf("helm install %s: %w: %s", tenantID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// IsReady reports whether the deployment has the Available condition.
func (h *HelmBackend) IsReady(ctx context.Context, namespace, component string) (bool, error) {
	dep, err := h.Kube.AppsV1().Deployments(namespace).Get(ctx, component, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get deployment %s/%s: %w", namespace, component, err)
	}
	for _, cond := range dep.Status.Conditions {
		if cond.Type == appsv1.DeploymentAvailable {
			return cond.Status == corev1.ConditionTrue, nil
		}
	}
	return false, nil
}

// Destroy uninstalls the release and removes its namespace. A release or
// namespace that is already gone counts as removed.
func (h *HelmBackend) Destroy(ctx context.Context, tenantID string) error {
	out, err := h.Runner.Run(ctx, h.Bin, "uninstall", tenantID, "--namespace", tenantID)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if !strings.Contains(strings.ToLower(msg), "not found") {
			return fmt.Errorf("helm uninstall %s: %w: %s", tenantID, err, msg)
		}
		h.Log.Warn("Helm release already removed", zap.String("release", tenantID))
	}

	err = h.Kube.CoreV1().Namespaces().Delete(ctx, tenantID, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete namespace %s: %w", tenantID, err)
	}
	return nil
}

// HashAdminToken returns the argon2id PHC string of secret.
func HashAdminToken(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// escapeSetValue escapes the characters helm --set treats as separators.
func escapeSetValue(v string) string {
	return strings.NewReplacer(`\`, `\\`, ",", `\,`).Replace(v)
}
