package service

import (
	"context"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jamesmcfarland/keyforge/internal/errs"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/internal/vault"
	"go.uber.org/zap"
)

// UnknownName is listed for passwords whose cipher is missing downstream.
const UnknownName = "Unknown"

var errNotInitialized = errs.New(errs.EUnavailable, "Organisation not properly initialized")

// PasswordInput is the body of a password create request.
type PasswordInput struct {
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Username string   `json:"username,omitempty"`
	TOTP     string   `json:"totp,omitempty"`
	URIs     []string `json:"uris,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// PasswordUpdate is a partial update; nil fields keep their current value.
type PasswordUpdate struct {
	Name     *string  `json:"name"`
	Password *string  `json:"password"`
	Username *string  `json:"username"`
	TOTP     *string  `json:"totp"`
	URIs     []string `json:"uris"`
	Notes    *string  `json:"notes"`
}

func (u PasswordUpdate) empty() bool {
	return u.Name == nil && u.Password == nil && u.Username == nil &&
		u.TOTP == nil && u.URIs == nil && u.Notes == nil
}

// PasswordSummary is one entry of a password listing.
type PasswordSummary struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// PasswordDetail merges the local record with its downstream cipher.
type PasswordDetail struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Name           string    `json:"name"`
	Username       string    `json:"username,omitempty"`
	Password       string    `json:"password"`
	TOTP           string    `json:"totp,omitempty"`
	URIs           []string  `json:"uris,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PasswordService stores passwords as ciphers in an organisation's vault.
type PasswordService struct {
	store Store
	vault vault.Backend
	clock clock.Clock
	log   *zap.Logger
}

// NewPasswordService returns a PasswordService.
func NewPasswordService(store Store, backend vault.Backend, clk clock.Clock, log *zap.Logger) *PasswordService {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PasswordService{store: store, vault: backend, clock: clk, log: log}
}

// scope is a resolved instance/organisation pair ready for vault calls.
type scope struct {
	baseURL string
	orgID   string
	token   string
	org     *model.Organisation
}

func (s *PasswordService) resolve(ctx context.Context, instanceID, organisationID, op string) (*scope, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, errs.Wrap(err, op)
	}
	org, err := s.store.GetOrganisation(ctx, instanceID, organisationID)
	if err != nil {
		return nil, errs.Wrap(err, op)
	}
	if !org.Initialized() {
		return nil, errs.Wrap(errNotInitialized, op)
	}
	return &scope{
		baseURL: inst.BackendURL,
		orgID:   *org.BackendOrgID,
		token:   *org.BackendUserToken,
		org:     org,
	}, nil
}

// Create stores a new cipher downstream and records its id.
func (s *PasswordService) Create(ctx context.Context, instanceID, organisationID string, in PasswordInput) (*PasswordSummary, error) {
	const op = "service.CreatePassword"

	sc, err := s.resolve(ctx, instanceID, organisationID, op)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, errs.New(errs.EInvalid, "Password name is required")
	}
	if in.Password == "" {
		return nil, errs.New(errs.EInvalid, "Password value is required")
	}

	cipherID, err := s.vault.CreateCipher(ctx, sc.baseURL, sc.token, sc.orgID, vault.CipherInput{
		Name:     in.Name,
		Password: in.Password,
		Username: in.Username,
		TOTP:     in.TOTP,
		URIs:     in.URIs,
		Notes:    in.Notes,
	})
	if err != nil {
		return nil, errs.Upstream(op, "Failed to create password", err)
	}

	pwd := &model.Password{
		OrganisationID:  organisationID,
		BackendCipherID: cipherID,
		CreatedAt:       model.Timestamp(s.clock.Now()),
	}
	if err := s.store.CreatePassword(ctx, pwd); err != nil {
		return nil, errs.Wrap(err, op)
	}

	s.log.Info("Password created",
		zap.String("organisation_id", organisationID),
		zap.String("password_id", pwd.ID))
	return &PasswordSummary{ID: pwd.ID, OrganisationID: organisationID, Name: in.Name, CreatedAt: pwd.CreatedAt}, nil
}

// List returns the passwords of an organisation with their names.
func (s *PasswordService) List(ctx context.Context, instanceID, organisationID string) ([]PasswordSummary, error) {
	const op = "service.ListPasswords"

	sc, err := s.resolve(ctx, instanceID, organisationID, op)
	if err != nil {
		return nil, err
	}
	pwds, err := s.store.ListPasswords(ctx, organisationID)
	if err != nil {
		return nil, errs.Wrap(err, op)
	}
	ciphers, err := s.vault.GetCiphers(ctx, sc.baseURL, sc.token, sc.orgID)
	if err != nil {
		return nil, errs.Upstream(op, "Failed to fetch passwords", err)
	}

	names := make(map[string]string, len(ciphers))
	for _, c := range ciphers {
		names[c.ID] = c.Name
	}

	out := make([]PasswordSummary, 0, len(pwds))
	for _, p := range pwds {
		name, ok := names[p.BackendCipherID]
		if !ok {
			name = UnknownName
		}
		out = append(out, PasswordSummary{ID: p.ID, OrganisationID: p.OrganisationID, Name: name, CreatedAt: p.CreatedAt})
	}
	return out, nil
}

// Get returns a password with the fields stored downstream.
func (s *PasswordService) Get(ctx context.Context, instanceID, organisationID, passwordID string) (*PasswordDetail, error) {
	const op = "service.GetPassword"

	sc, err := s.resolve(ctx, instanceID, organisationID, op)
	if err != nil {
		return nil, err
	}
	pwd, err := s.store.GetPassword(ctx, organisationID, passwordID)
	if err != nil {
		return nil, errs.Wrap(err, op)
	}
	cipher, err := s.vault.GetCipher(ctx, sc.baseURL, sc.token, pwd.BackendCipherID)
	if err != nil {
		return nil, errs.Upstream(op, "Failed to fetch password", err)
	}
	return detail(pwd, cipher), nil
}

// Update changes the fields set in u and leaves the rest as they are.
func (s *PasswordService) Update(ctx context.Context, instanceID, organisationID, passwordID string, u PasswordUpdate) (*PasswordDetail, error) {
	const op = "service.UpdatePassword"

	sc, err := s.resolve(ctx, instanceID, organisationID, op)
	if err != nil {
		return nil, err
	}
	pwd, err := s.store.GetPassword(ctx, organisationID, passwordID)
	if err != nil {
		return nil, errs.Wrap(err, op)
	}
	if u.empty() {
		return nil, errs.New(errs.EInvalid, "At least one field is required")
	}

	current, err := s.vault.GetCipher(ctx, sc.baseURL, sc.token, pwd.BackendCipherID)
	if err != nil {
		return nil, errs.Upstream(op, "Failed to update password", err)
	}

	next := *current
	pick(&next.Name, u.Name)
	pick(&next.Password, u.Password)
	pick(&next.Username, u.Username)
	pick(&next.TOTP, u.TOTP)
	pick(&next.Notes, u.Notes)
	if u.URIs != nil {
		next.URIs = u.URIs
	}

	err = s.vault.UpdateCipher(ctx, sc.baseURL, sc.token, pwd.BackendCipherID, sc.orgID, vault.CipherInput{
		Name:     next.Name,
		Password: next.Password,
		Username: next.Username,
		TOTP:     next.TOTP,
		URIs:     next.URIs,
		Notes:    next.Notes,
	})
	if err != nil {
		return nil, errs.Upstream(op, "Failed to update password", err)
	}

	s.log.Info("Password updated", zap.String("password_id", passwordID))
	return detail(pwd, &next), nil
}

// Delete removes the cipher downstream, then the local record. The record
// is kept when the downstream delete fails.
func (s *PasswordService) Delete(ctx context.Context, instanceID, organisationID, passwordID string) error {
	const op = "service.DeletePassword"

	sc, err := s.resolve(ctx, instanceID, organisationID, op)
	if err != nil {
		return err
	}
	pwd, err := s.store.GetPassword(ctx, organisationID, passwordID)
	if err != nil {
		return errs.Wrap(err, op)
	}
	if err := s.vault.DeleteCipher(ctx, sc.baseURL, sc.token, pwd.BackendCipherID); err != nil {
		return errs.Upstream(op, "Failed to delete password", err)
	}
	if err := s.store.DeletePassword(ctx, pwd.ID); err != nil {
		return errs.Wrap(err, op)
	}
	s.log.Info("Password deleted", zap.String("password_id", passwordID))
	return nil
}

func pick(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func detail(pwd *model.Password, c *vault.Cipher) *PasswordDetail {
	return &PasswordDetail{
		ID:             pwd.ID,
		OrganisationID: pwd.OrganisationID,
		Name:           c.Name,
		Username:       c.Username,
		Password:       c.Password,
		TOTP:           c.TOTP,
		URIs:           c.URIs,
		Notes:          c.Notes,
		CreatedAt:      pwd.CreatedAt,
	}
}
