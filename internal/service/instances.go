package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/jamesmcfarland/keyforge/internal/errs"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/internal/token"
	"go.uber.org/zap"
)

// Provisioner starts and tears down instance deployments.
type Provisioner interface {
	Start(instanceID, secret string)
	Destroy(ctx context.Context, instanceID string) error
}

// KeyStore keeps the public keys of instance tokens.
type KeyStore interface {
	StoreTenantKey(ctx context.Context, tenantID, publicPEM string) error
	RevokeTenantKey(ctx context.Context, tenantID string) (int64, error)
}

// CreatedInstance is returned once, when an instance is created. It is the
// only place the admin secret and the private signing key are exposed.
type CreatedInstance struct {
	InstanceID    string               `json:"instance_id"`
	BackendURL    string               `json:"vaultwd_url"`
	AdminToken    string               `json:"admin_token"`
	JWTPrivateKey string               `json:"jwt_private_key"`
	Status        model.InstanceStatus `json:"status"`
}

// InstanceService manages tenant instances.
type InstanceService struct {
	store         Store
	keys          KeyStore
	provisioner   Provisioner
	clusterDomain string
	clock         clock.Clock
	log           *zap.Logger
}

// NewInstanceService returns an InstanceService. clusterDomain is the DNS
// suffix of in-cluster services, e.g. "svc.cluster.local".
func NewInstanceService(store Store, keys KeyStore, provisioner Provisioner, clusterDomain string, clk clock.Clock, log *zap.Logger) *InstanceService {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clusterDomain == "" {
		clusterDomain = "svc.cluster.local"
	}
	return &InstanceService{
		store:         store,
		keys:          keys,
		provisioner:   provisioner,
		clusterDomain: clusterDomain,
		clock:         clk,
		log:           log,
	}
}

// BackendURL returns the in-cluster address of the vault of instanceID.
func (s *InstanceService) BackendURL(instanceID string) string {
	return fmt.Sprintf("http://vaultwd-service.%s.%s", instanceID, s.clusterDomain)
}

// Create records a new instance, stores its token key and starts
// provisioning in the background. It returns before provisioning finishes.
func (s *InstanceService) Create(ctx context.Context, name string) (*CreatedInstance, error) {
	const op = "service.CreateInstance"
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.New(errs.EInvalid, "Instance name is required")
	}

	privatePEM, publicPEM, err := token.GenerateKeyPair()
	if err != nil {
		return nil, errs.Internal(op, err)
	}

	id := model.NewID(model.PrefixInstance)
	inst := &model.Instance{
		ID:                 id,
		Name:               name,
		BackendURL:         s.BackendURL(id),
		BackendAdminSecret: model.RandomHex(32),
		Status:             model.InstanceProvisioning,
		CreatedAt:          model.Timestamp(s.clock.Now()),
	}
	if err := s.store.CreateInstance(ctx, inst); err != nil {
		return nil, errs.Wrap(err, op)
	}

	if err := s.keys.StoreTenantKey(ctx, id, publicPEM); err != nil {
		// without a key the instance can never be addressed
		if _, terr := s.store.TransitionInstance(ctx, id, model.InstanceFailed, "failed to store instance key"); terr != nil {
			s.log.Error("Failed to mark instance failed", zap.String("instance_id", id), zap.Error(terr))
		}
		return nil, errs.Wrap(err, op)
	}

	s.provisioner.Start(id, inst.BackendAdminSecret)
	s.log.Info("Instance provisioning started", zap.String("instance_id", id), zap.String("name", name))

	return &CreatedInstance{
		InstanceID:    id,
		BackendURL:    inst.BackendURL,
		AdminToken:    inst.BackendAdminSecret,
		JWTPrivateKey: privatePEM,
		Status:        inst.Status,
	}, nil
}

// Get returns the instance with id.
func (s *InstanceService) Get(ctx context.Context, id string) (*model.Instance, error) {
	return s.store.GetInstance(ctx, id)
}

// List returns every instance, newest first.
func (s *InstanceService) List(ctx context.Context) ([]model.Instance, error) {
	return s.store.ListInstances(ctx)
}

// Delete tears down the deployment of id and removes its records.
func (s *InstanceService) Delete(ctx context.Context, id string) error {
	const op = "service.DeleteInstance"
	if _, err := s.store.GetInstance(ctx, id); err != nil {
		return errs.Wrap(err, op)
	}
	if err := s.provisioner.Destroy(ctx, id); err != nil {
		if errs.ErrorCode(err) == errs.ENotFound {
			return errs.Wrap(err, op)
		}
		return errs.Upstream(op, "Failed to delete instance", err)
	}
	s.log.Info("Instance deleted", zap.String("instance_id", id))
	return nil
}

// RevokeKey revokes the token key of instance id. It reports how many keys
// were revoked; zero means the key was already revoked.
func (s *InstanceService) RevokeKey(ctx context.Context, id string) (int64, error) {
	const op = "service.RevokeInstanceKey"
	if _, err := s.store.GetInstance(ctx, id); err != nil {
		return 0, errs.Wrap(err, op)
	}
	n, err := s.keys.RevokeTenantKey(ctx, id)
	if err != nil {
		return 0, errs.Internal(op, err)
	}
	s.log.Info("Instance key revoked", zap.String("instance_id", id), zap.Int64("revoked", n))
	return n, nil
}
