// Package vault talks to the Vaultwarden service running in each instance.
package vault

import (
	"context"
	"time"
)

// HealthStatus is the outcome of a health probe.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
)

// HealthResult is returned by CheckHealth.
type HealthResult struct {
	Status  HealthStatus
	Message string
}

// CipherInput holds the descriptive fields of a login cipher. Empty
// optional fields are sent as null.
type CipherInput struct {
	Name     string
	Password string
	Username string
	TOTP     string
	URIs     []string
	Notes    string
}

// Cipher is a login cipher as returned by the backend.
type Cipher struct {
	ID        string
	Name      string
	Username  string
	Password  string
	TOTP      string
	URIs      []string
	Notes     string
	CreatedAt time.Time
}

// CipherSummary is one entry of an organization's cipher listing.
type CipherSummary struct {
	ID   string
	Name string
}

// Backend is the set of downstream vault operations keyforge relies on.
// Every method takes the base URL of the instance being addressed.
type Backend interface {
	// RegisterUser creates an account for email and returns the generated
	// master password.
	RegisterUser(ctx context.Context, baseURL, email, name string) (string, error)
	// AuthenticateUser exchanges the master password for a session token.
	AuthenticateUser(ctx context.Context, baseURL, email, masterPassword string) (string, error)
	// CreateOrganization creates an organization owned by the session user
	// and returns its id.
	CreateOrganization(ctx context.Context, baseURL, userToken, name string) (string, error)

	CreateCipher(ctx context.Context, baseURL, userToken, organizationID string, in CipherInput) (string, error)
	GetCipher(ctx context.Context, baseURL, userToken, cipherID string) (*Cipher, error)
	GetCiphers(ctx context.Context, baseURL, userToken, organizationID string) ([]CipherSummary, error)
	UpdateCipher(ctx context.Context, baseURL, userToken, cipherID, organizationID string, in CipherInput) error
	DeleteCipher(ctx context.Context, baseURL, userToken, cipherID string) error

	CheckHealth(ctx context.Context, baseURL string) HealthResult
}
