package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/jamesmcfarland/keyforge/internal/errs"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/internal/vault"
	"github.com/jamesmcfarland/keyforge/pkg/logger"
	"go.uber.org/zap"
)

// OrganisationService creates organisations inside ready instances.
type OrganisationService struct {
	store Store
	vault vault.Backend
	clock clock.Clock
	log   *zap.Logger
}

// NewOrganisationService returns an OrganisationService.
func NewOrganisationService(store Store, backend vault.Backend, clk clock.Clock, log *zap.Logger) *OrganisationService {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OrganisationService{store: store, vault: backend, clock: clk, log: log}
}

// requestLogger prefers the request scoped logger so downstream failures
// carry the request id.
func (s *OrganisationService) requestLogger(ctx context.Context) *zap.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	return s.log
}

// readyInstance returns instanceID when it exists and is ready.
func readyInstance(ctx context.Context, store Store, instanceID, op string) (*model.Instance, error) {
	inst, err := store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, errs.Wrap(err, op)
	}
	if inst.Status != model.InstanceReady {
		return nil, &errs.Error{Code: errs.EUnavailable, Op: op, Msg: fmt.Sprintf("Instance status is %s", inst.Status)}
	}
	return inst, nil
}

// Create registers a dedicated vault user, signs it in and creates the
// organisation it owns. The record is persisted as pending first and ends
// created or failed; failures are not retried.
func (s *OrganisationService) Create(ctx context.Context, instanceID, name string) (*model.Organisation, error) {
	const op = "service.CreateOrganisation"

	inst, err := readyInstance(ctx, s.store, instanceID, op)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.New(errs.EInvalid, "Organisation name is required")
	}

	id := model.NewID(model.PrefixOrganisation)
	email := id + "@keyforge.local"
	org := &model.Organisation{
		ID:               id,
		Name:             name,
		InstanceID:       instanceID,
		BackendUserEmail: &email,
		Status:           model.OrganisationPending,
		CreatedAt:        model.Timestamp(s.clock.Now()),
	}
	if err := s.store.CreateOrganisation(ctx, org); err != nil {
		return nil, errs.Wrap(err, op)
	}

	log := s.requestLogger(ctx).With(zap.String("instance_id", instanceID), zap.String("organisation_id", id))

	backendOrgID, userToken, err := s.register(ctx, inst.BackendURL, email, name)
	if err != nil {
		log.Error("Failed to create organisation downstream", zap.Error(err))
		if ferr := s.store.MarkOrganisationFailed(ctx, id); ferr != nil {
			log.Error("Failed to mark organisation failed", zap.Error(ferr))
		}
		return nil, errs.Upstream(op, "Failed to create organisation", err)
	}

	if err := s.store.MarkOrganisationCreated(ctx, id, backendOrgID, userToken); err != nil {
		return nil, errs.Wrap(err, op)
	}
	org.BackendOrgID = &backendOrgID
	org.BackendUserToken = &userToken
	org.Status = model.OrganisationCreated

	log.Info("Organisation created", zap.String("backend_org_id", backendOrgID))
	return org, nil
}

func (s *OrganisationService) register(ctx context.Context, baseURL, email, name string) (orgID, userToken string, err error) {
	masterPassword, err := s.vault.RegisterUser(ctx, baseURL, email, name)
	if err != nil {
		return "", "", err
	}
	userToken, err = s.vault.AuthenticateUser(ctx, baseURL, email, masterPassword)
	if err != nil {
		return "", "", err
	}
	orgID, err = s.vault.CreateOrganization(ctx, baseURL, userToken, name)
	if err != nil {
		return "", "", err
	}
	return orgID, userToken, nil
}

// List returns the organisations of instanceID.
func (s *OrganisationService) List(ctx context.Context, instanceID string) ([]model.Organisation, error) {
	const op = "service.ListOrganisations"
	if _, err := s.store.GetInstance(ctx, instanceID); err != nil {
		return nil, errs.Wrap(err, op)
	}
	orgs, err := s.store.ListOrganisations(ctx, instanceID)
	if err != nil {
		return nil, errs.Wrap(err, op)
	}
	return orgs, nil
}

// Get returns organisation id of instanceID.
func (s *OrganisationService) Get(ctx context.Context, instanceID, id string) (*model.Organisation, error) {
	org, err := s.store.GetOrganisation(ctx, instanceID, id)
	if err != nil {
		return nil, errs.Wrap(err, "service.GetOrganisation")
	}
	return org, nil
}
