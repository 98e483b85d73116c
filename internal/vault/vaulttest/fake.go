// Package vaulttest provides an in-memory vault.Backend for tests.
package vaulttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jamesmcfarland/keyforge/internal/vault"
)

// Fake is an in-memory vault. Setting one of the Fail fields makes the
// matching operation return that error.
type Fake struct {
	mu sync.Mutex

	FailRegister     error
	FailAuthenticate error
	FailOrganization error
	FailCreate       error
	FailGet          error
	FailList         error
	FailUpdate       error
	FailDelete       error
	Health           vault.HealthResult

	seq     int
	users   map[string]string // email -> master password
	orgs    map[string]string // org id -> name
	ciphers map[string]*vault.Cipher
	owner   map[string]string // cipher id -> org id
	Calls   []string
}

// New returns an empty healthy Fake.
func New() *Fake {
	return &Fake{
		Health:  vault.HealthResult{Status: vault.Healthy},
		users:   map[string]string{},
		orgs:    map[string]string{},
		ciphers: map[string]*vault.Cipher{},
		owner:   map[string]string{},
	}
}

func (f *Fake) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *Fake) record(op string) {
	f.Calls = append(f.Calls, op)
}

func (f *Fake) RegisterUser(_ context.Context, _, email, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("register")
	if f.FailRegister != nil {
		return "", f.FailRegister
	}
	pw := f.next("master")
	f.users[email] = pw
	return pw, nil
}

func (f *Fake) AuthenticateUser(_ context.Context, _, email, masterPassword string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("authenticate")
	if f.FailAuthenticate != nil {
		return "", f.FailAuthenticate
	}
	if f.users[email] != masterPassword {
		return "", &vault.StatusError{Op: "authenticate user", StatusCode: 400, Body: "invalid_grant"}
	}
	return "token-" + email, nil
}

func (f *Fake) CreateOrganization(_ context.Context, _, _, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_organization")
	if f.FailOrganization != nil {
		return "", f.FailOrganization
	}
	id := f.next("org")
	f.orgs[id] = name
	return id, nil
}

func (f *Fake) CreateCipher(_ context.Context, _, _, organizationID string, in vault.CipherInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_cipher")
	if f.FailCreate != nil {
		return "", f.FailCreate
	}
	id := f.next("cipher")
	f.ciphers[id] = &vault.Cipher{
		ID: id, Name: in.Name, Username: in.Username, Password: in.Password,
		TOTP: in.TOTP, URIs: in.URIs, Notes: in.Notes,
	}
	f.owner[id] = organizationID
	return id, nil
}

func (f *Fake) GetCipher(_ context.Context, _, _, cipherID string) (*vault.Cipher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get_cipher")
	if f.FailGet != nil {
		return nil, f.FailGet
	}
	c, ok := f.ciphers[cipherID]
	if !ok {
		return nil, &vault.StatusError{Op: "get cipher", StatusCode: 404}
	}
	cp := *c
	return &cp, nil
}

func (f *Fake) GetCiphers(_ context.Context, _, _, organizationID string) ([]vault.CipherSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get_ciphers")
	if f.FailList != nil {
		return nil, f.FailList
	}
	var out []vault.CipherSummary
	for id, c := range f.ciphers {
		if f.owner[id] == organizationID {
			out = append(out, vault.CipherSummary{ID: id, Name: c.Name})
		}
	}
	return out, nil
}

func (f *Fake) UpdateCipher(_ context.Context, _, _, cipherID, _ string, in vault.CipherInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update_cipher")
	if f.FailUpdate != nil {
		return f.FailUpdate
	}
	c, ok := f.ciphers[cipherID]
	if !ok {
		return &vault.StatusError{Op: "update cipher", StatusCode: 404}
	}
	c.Name, c.Password, c.Username = in.Name, in.Password, in.Username
	c.TOTP, c.URIs, c.Notes = in.TOTP, in.URIs, in.Notes
	return nil
}

func (f *Fake) DeleteCipher(_ context.Context, _, _, cipherID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete_cipher")
	if f.FailDelete != nil {
		return f.FailDelete
	}
	delete(f.ciphers, cipherID)
	delete(f.owner, cipherID)
	return nil
}

func (f *Fake) CheckHealth(context.Context, string) vault.HealthResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("health")
	return f.Health
}

// Forget drops a cipher without going through the API, as if it was
// removed by another client.
func (f *Fake) Forget(cipherID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ciphers, cipherID)
}

// Rename changes a cipher name without going through the API.
func (f *Fake) Rename(cipherID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.ciphers[cipherID]; ok {
		c.Name = name
	}
}

// CipherCount returns the number of stored ciphers.
func (f *Fake) CipherCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ciphers)
}

var _ vault.Backend = (*Fake)(nil)
