// Package service orchestrates requests across the registry, the
// provisioner and the per-instance vault.
package service

import (
	"context"

	"github.com/jamesmcfarland/keyforge/internal/model"
)

// Store is the registry surface used by the services.
type Store interface {
	CreateInstance(ctx context.Context, inst *model.Instance) error
	GetInstance(ctx context.Context, id string) (*model.Instance, error)
	ListInstances(ctx context.Context) ([]model.Instance, error)
	TransitionInstance(ctx context.Context, id string, to model.InstanceStatus, reason string) (bool, error)

	CreateOrganisation(ctx context.Context, org *model.Organisation) error
	GetOrganisation(ctx context.Context, instanceID, id string) (*model.Organisation, error)
	ListOrganisations(ctx context.Context, instanceID string) ([]model.Organisation, error)
	MarkOrganisationCreated(ctx context.Context, id, backendOrgID, userToken string) error
	MarkOrganisationFailed(ctx context.Context, id string) error

	CreatePassword(ctx context.Context, pwd *model.Password) error
	GetPassword(ctx context.Context, organisationID, id string) (*model.Password, error)
	ListPasswords(ctx context.Context, organisationID string) ([]model.Password, error)
	DeletePassword(ctx context.Context, id string) error
}
