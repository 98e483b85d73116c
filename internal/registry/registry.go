// Package registry stores instances, organisations and passwords.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/jamesmcfarland/keyforge/internal/errs"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/prometheus"
	"gorm.io/gorm"
)

var (
	ErrInstanceNotFound     = errs.New(errs.ENotFound, "Instance not found")
	ErrOrganisationNotFound = errs.New(errs.ENotFound, "Organisation not found")
	ErrPasswordNotFound     = errs.New(errs.ENotFound, "Password not found")
	ErrDeploymentNotFound   = errs.New(errs.ENotFound, "Deployment not found")
)

// EventSource lists the provisioning events of a deployment.
type EventSource interface {
	Events(ctx context.Context, deploymentID string) ([]model.DeploymentEvent, error)
}

// DeploymentDetail is the combined view of an instance and its progress.
type DeploymentDetail struct {
	Instance      *model.Instance         `json:"instance"`
	Organisations []model.Organisation    `json:"organisations"`
	Events        []model.DeploymentEvent `json:"events"`
}

// Registry is the gorm backed store of tenant records.
type Registry struct {
	db     *gorm.DB
	events EventSource
}

// New returns a Registry. events supplies the event list of deployment details.
func New(db *gorm.DB, events EventSource) *Registry {
	return &Registry{db: db, events: events}
}

func notFound(err error, nf *errs.Error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.Wrap(nf, op)
	}
	return errs.Internal(op, err)
}

// CreateInstance persists a new instance record.
func (r *Registry) CreateInstance(ctx context.Context, inst *model.Instance) error {
	defer prometheus.TrackDBOperation("create_instance")(time.Now())
	if err := r.db.WithContext(ctx).Create(inst).Error; err != nil {
		return errs.Internal("registry.CreateInstance", err)
	}
	return nil
}

// GetInstance returns the instance with id.
func (r *Registry) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	defer prometheus.TrackDBOperation("get_instance")(time.Now())
	var inst model.Instance
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&inst).Error; err != nil {
		return nil, notFound(err, ErrInstanceNotFound, "registry.GetInstance")
	}
	return &inst, nil
}

// ListInstances returns every instance, newest first.
func (r *Registry) ListInstances(ctx context.Context) ([]model.Instance, error) {
	defer prometheus.TrackDBOperation("list_instances")(time.Now())
	instances := []model.Instance{}
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&instances).Error; err != nil {
		return nil, errs.Internal("registry.ListInstances", err)
	}
	return instances, nil
}

// TransitionInstance moves an instance out of provisioning. It reports
// false when the instance is missing or no longer provisioning, so a
// terminal status is never overwritten.
func (r *Registry) TransitionInstance(ctx context.Context, id string, to model.InstanceStatus, reason string) (bool, error) {
	defer prometheus.TrackDBOperation("transition_instance")(time.Now())

	updates := map[string]interface{}{"status": to}
	if reason != "" {
		updates["error"] = reason
	}
	res := r.db.WithContext(ctx).
		Model(&model.Instance{}).
		Where("id = ? AND status = ?", id, model.InstanceProvisioning).
		Updates(updates)
	if res.Error != nil {
		return false, errs.Internal("registry.TransitionInstance", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteInstance removes an instance; the database cascades to its
// organisations, passwords, events, logs and keys.
func (r *Registry) DeleteInstance(ctx context.Context, id string) error {
	defer prometheus.TrackDBOperation("delete_instance")(time.Now())
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Instance{})
	if res.Error != nil {
		return errs.Internal("registry.DeleteInstance", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Wrap(ErrInstanceNotFound, "registry.DeleteInstance")
	}
	return nil
}

// CreateOrganisation persists a new organisation record.
func (r *Registry) CreateOrganisation(ctx context.Context, org *model.Organisation) error {
	defer prometheus.TrackDBOperation("create_organisation")(time.Now())
	if err := r.db.WithContext(ctx).Create(org).Error; err != nil {
		return errs.Internal("registry.CreateOrganisation", err)
	}
	return nil
}

// GetOrganisation returns the organisation id belonging to instanceID.
func (r *Registry) GetOrganisation(ctx context.Context, instanceID, id string) (*model.Organisation, error) {
	defer prometheus.TrackDBOperation("get_organisation")(time.Now())
	var org model.Organisation
	err := r.db.WithContext(ctx).
		Where("id = ? AND instance_id = ?", id, instanceID).
		First(&org).Error
	if err != nil {
		return nil, notFound(err, ErrOrganisationNotFound, "registry.GetOrganisation")
	}
	return &org, nil
}

// ListOrganisations returns the organisations of instanceID, oldest first.
func (r *Registry) ListOrganisations(ctx context.Context, instanceID string) ([]model.Organisation, error) {
	defer prometheus.TrackDBOperation("list_organisations")(time.Now())
	orgs := []model.Organisation{}
	err := r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("created_at ASC").
		Find(&orgs).Error
	if err != nil {
		return nil, errs.Internal("registry.ListOrganisations", err)
	}
	return orgs, nil
}

// MarkOrganisationCreated stores the backend identifiers and moves a pending
// organisation to created in one update.
func (r *Registry) MarkOrganisationCreated(ctx context.Context, id, backendOrgID, userToken string) error {
	const op = "registry.MarkOrganisationCreated"
	defer prometheus.TrackDBOperation("update_organisation")(time.Now())
	res := r.db.WithContext(ctx).
		Model(&model.Organisation{}).
		Where("id = ? AND status = ?", id, model.OrganisationPending).
		Updates(map[string]interface{}{
			"backend_org_id":     backendOrgID,
			"backend_user_token": userToken,
			"status":             model.OrganisationCreated,
		})
	if res.Error != nil {
		return errs.Internal(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return &errs.Error{Code: errs.EUnavailable, Op: op, Msg: "Organisation is no longer pending"}
	}
	return nil
}

// MarkOrganisationFailed sets a pending organisation to failed.
func (r *Registry) MarkOrganisationFailed(ctx context.Context, id string) error {
	defer prometheus.TrackDBOperation("update_organisation")(time.Now())
	err := r.db.WithContext(ctx).
		Model(&model.Organisation{}).
		Where("id = ? AND status = ?", id, model.OrganisationPending).
		Update("status", model.OrganisationFailed).Error
	if err != nil {
		return errs.Internal("registry.MarkOrganisationFailed", err)
	}
	return nil
}

// CreatePassword persists a new password reference.
func (r *Registry) CreatePassword(ctx context.Context, pwd *model.Password) error {
	defer prometheus.TrackDBOperation("create_password")(time.Now())
	if err := r.db.WithContext(ctx).Create(pwd).Error; err != nil {
		return errs.Internal("registry.CreatePassword", err)
	}
	return nil
}

// GetPassword returns the password id belonging to organisationID.
func (r *Registry) GetPassword(ctx context.Context, organisationID, id string) (*model.Password, error) {
	defer prometheus.TrackDBOperation("get_password")(time.Now())
	var pwd model.Password
	err := r.db.WithContext(ctx).
		Where("id = ? AND organisation_id = ?", id, organisationID).
		First(&pwd).Error
	if err != nil {
		return nil, notFound(err, ErrPasswordNotFound, "registry.GetPassword")
	}
	return &pwd, nil
}

// ListPasswords returns the passwords of organisationID, oldest first.
func (r *Registry) ListPasswords(ctx context.Context, organisationID string) ([]model.Password, error) {
	defer prometheus.TrackDBOperation("list_passwords")(time.Now())
	pwds := []model.Password{}
	err := r.db.WithContext(ctx).
		Where("organisation_id = ?", organisationID).
		Order("created_at ASC").
		Find(&pwds).Error
	if err != nil {
		return nil, errs.Internal("registry.ListPasswords", err)
	}
	return pwds, nil
}

// DeletePassword removes a password reference.
func (r *Registry) DeletePassword(ctx context.Context, id string) error {
	defer prometheus.TrackDBOperation("delete_password")(time.Now())
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Password{})
	if res.Error != nil {
		return errs.Internal("registry.DeletePassword", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Wrap(ErrPasswordNotFound, "registry.DeletePassword")
	}
	return nil
}

// DeploymentDetail returns the instance id with its organisations and events.
func (r *Registry) DeploymentDetail(ctx context.Context, id string) (*DeploymentDetail, error) {
	inst, err := r.GetInstance(ctx, id)
	if err != nil {
		if errs.ErrorCode(err) == errs.ENotFound {
			return nil, errs.Wrap(ErrDeploymentNotFound, "registry.DeploymentDetail")
		}
		return nil, err
	}
	orgs, err := r.ListOrganisations(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := r.events.Events(ctx, id)
	if err != nil {
		return nil, errs.Internal("registry.DeploymentDetail", err)
	}
	return &DeploymentDetail{Instance: inst, Organisations: orgs, Events: events}, nil
}
