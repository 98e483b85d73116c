package vault

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jamesmcfarland/keyforge/prometheus"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations   = 100000
	cipherTypeLogin = 1
	deviceTypeSDK   = "10"
	deviceName      = "keyforge"
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client is the HTTP implementation of Backend.
type Client struct {
	HTTPClient       *http.Client
	HealthRetries    int
	HealthRetryDelay time.Duration
	HealthTimeout    time.Duration
}

// NewClient returns a Client whose requests time out after timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		HTTPClient:       &http.Client{Timeout: timeout},
		HealthRetries:    3,
		HealthRetryDelay: 2 * time.Second,
		HealthTimeout:    5 * time.Second,
	}
}

var _ Backend = (*Client)(nil)

// MasterPasswordHash derives the login hash the backend expects: PBKDF2
// SHA-256 over the password, salted with the lower-cased email.
func MasterPasswordHash(email, password string) string {
	key := pbkdf2.Key([]byte(password), []byte(strings.ToLower(email)), kdfIterations, 32, sha256.New)
	return base64.StdEncoding.EncodeToString(key)
}

type keysPayload struct {
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
	PublicKey           string `json:"publicKey"`
}

type registerRequest struct {
	Email              string      `json:"email"`
	Name               string      `json:"name"`
	MasterPasswordHash string      `json:"masterPasswordHash"`
	MasterPasswordHint string      `json:"masterPasswordHint"`
	Key                string      `json:"key"`
	Keys               keysPayload `json:"keys"`
	Kdf                int         `json:"kdf"`
	KdfIterations      int         `json:"kdfIterations"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type organizationRequest struct {
	Name           string      `json:"name"`
	BillingEmail   string      `json:"billingEmail"`
	PlanType       int         `json:"planType"`
	Key            string      `json:"key"`
	Keys           keysPayload `json:"keys"`
	CollectionName string      `json:"collectionName"`
}

type idResponse struct {
	ID string `json:"id"`
}

type loginURI struct {
	URI   string  `json:"uri"`
	Match *string `json:"match"`
}

type login struct {
	Username *string    `json:"username"`
	Password *string    `json:"password"`
	TOTP     *string    `json:"totp"`
	URIs     []loginURI `json:"uris"`
}

type cipherRequest struct {
	Type           int      `json:"type"`
	OrganizationID string   `json:"organizationId"`
	Name           string   `json:"name"`
	Login          login    `json:"login"`
	Notes          *string  `json:"notes"`
	Favorite       bool     `json:"favorite"`
	FolderID       *string  `json:"folderId"`
	CollectionIDs  []string `json:"collectionIds"`
}

type cipherResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Notes        *string `json:"notes"`
	CreationDate *string `json:"creationDate"`
	Login        *login  `json:"login"`
}

type cipherListResponse struct {
	Data []cipherResponse `json:"data"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func newCipherRequest(organizationID string, in CipherInput) cipherRequest {
	req := cipherRequest{
		Type:           cipherTypeLogin,
		OrganizationID: organizationID,
		Name:           in.Name,
		Login: login{
			Username: optional(in.Username),
			Password: &in.Password,
			TOTP:     optional(in.TOTP),
		},
		Notes:         optional(in.Notes),
		CollectionIDs: []string{},
	}
	for _, u := range in.URIs {
		req.Login.URIs = append(req.Login.URIs, loginURI{URI: u})
	}
	return req
}

func (r *cipherResponse) toCipher() *Cipher {
	c := &Cipher{ID: r.ID, Name: r.Name, Notes: deref(r.Notes)}
	if r.CreationDate != nil {
		if t, err := time.Parse(time.RFC3339Nano, *r.CreationDate); err == nil {
			c.CreatedAt = t
		}
	}
	if r.Login != nil {
		c.Username = deref(r.Login.Username)
		c.Password = deref(r.Login.Password)
		c.TOTP = deref(r.Login.TOTP)
		for _, u := range r.Login.URIs {
			c.URIs = append(c.URIs, u.URI)
		}
	}
	return c
}

// do sends one request and decodes a JSON answer into out when out is not nil.
func (c *Client) do(ctx context.Context, op, method, endpoint, userToken, contentType string, body io.Reader, out interface{}) (err error) {
	defer func(start time.Time) { prometheus.TrackVaultCall(op)(start, err) }(time.Now())

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if userToken != "" {
		req.Header.Set("Authorization", "Bearer "+userToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, op, method, endpoint, userToken string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, endpoint, userToken, contentType, body, out)
}

func endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

// RegisterUser implements Backend.
func (c *Client) RegisterUser(ctx context.Context, baseURL, email, name string) (string, error) {
	masterPassword := uuid.NewString()
	req := registerRequest{
		Email:              email,
		Name:               name,
		MasterPasswordHash: MasterPasswordHash(email, masterPassword),
		Kdf:                0,
		KdfIterations:      kdfIterations,
	}
	if err := c.doJSON(ctx, "register user", http.MethodPost, endpoint(baseURL, "/identity/accounts/register"), "", req, nil); err != nil {
		return "", err
	}
	return masterPassword, nil
}

// AuthenticateUser implements Backend.
func (c *Client) AuthenticateUser(ctx context.Context, baseURL, email, masterPassword string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", email)
	form.Set("password", MasterPasswordHash(email, masterPassword))
	form.Set("scope", "api offline_access")
	form.Set("client_id", "web")
	form.Set("deviceType", deviceTypeSDK)
	form.Set("deviceName", deviceName)
	form.Set("deviceIdentifier", uuid.NewString())

	var resp tokenResponse
	err := c.do(ctx, "authenticate user", http.MethodPost, endpoint(baseURL, "/identity/connect/token"), "",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("authenticate user: response has no access_token")
	}
	return resp.AccessToken, nil
}

// CreateOrganization implements Backend.
func (c *Client) CreateOrganization(ctx context.Context, baseURL, userToken, name string) (string, error) {
	req := organizationRequest{
		Name:           name,
		BillingEmail:   "noreply@example.com",
		CollectionName: "default",
	}
	var resp idResponse
	if err := c.doJSON(ctx, "create organization", http.MethodPost, endpoint(baseURL, "/api/organizations"), userToken, req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create organization: response has no id")
	}
	return resp.ID, nil
}

// CreateCipher implements Backend.
func (c *Client) CreateCipher(ctx context.Context, baseURL, userToken, organizationID string, in CipherInput) (string, error) {
	var resp idResponse
	if err := c.doJSON(ctx, "create cipher", http.MethodPost, endpoint(baseURL, "/api/ciphers"), userToken, newCipherRequest(organizationID, in), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create cipher: response has no id")
	}
	return resp.ID, nil
}

// GetCipher implements Backend.
func (c *Client) GetCipher(ctx context.Context, baseURL, userToken, cipherID string) (*Cipher, error) {
	var resp cipherResponse
	if err := c.doJSON(ctx, "fetch cipher", http.MethodGet, endpoint(baseURL, "/api/ciphers/"+url.PathEscape(cipherID)), userToken, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toCipher(), nil
}

// GetCiphers implements Backend.
func (c *Client) GetCiphers(ctx context.Context, baseURL, userToken, organizationID string) ([]CipherSummary, error) {
	path := "/api/ciphers/organization-details?organizationId=" + url.QueryEscape(organizationID)
	var resp cipherListResponse
	if err := c.doJSON(ctx, "fetch ciphers", http.MethodGet, endpoint(baseURL, path), userToken, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]CipherSummary, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, CipherSummary{ID: d.ID, Name: d.Name})
	}
	return out, nil
}

// UpdateCipher implements Backend.
func (c *Client) UpdateCipher(ctx context.Context, baseURL, userToken, cipherID, organizationID string, in CipherInput) error {
	return c.doJSON(ctx, "update cipher", http.MethodPut, endpoint(baseURL, "/api/ciphers/"+url.PathEscape(cipherID)), userToken, newCipherRequest(organizationID, in), nil)
}

// DeleteCipher implements Backend.
func (c *Client) DeleteCipher(ctx context.Context, baseURL, userToken, cipherID string) error {
	return c.doJSON(ctx, "delete cipher", http.MethodDelete, endpoint(baseURL, "/api/ciphers/"+url.PathEscape(cipherID)), userToken, nil, nil)
}

// CheckHealth probes /api/alive. Transport errors are retried; any HTTP
// answer is final.
func (c *Client) CheckHealth(ctx context.Context, baseURL string) HealthResult {
	attempts := c.HealthRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := c.probe(ctx, baseURL)
		if err == nil {
			if status >= 200 && status <= 299 {
				return HealthResult{Status: Healthy}
			}
			return HealthResult{Status: Unhealthy, Message: fmt.Sprintf("VaultWarden returned status %d", status)}
		}
		lastErr = err

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return HealthResult{Status: Unhealthy, Message: ctx.Err().Error()}
			case <-time.After(c.HealthRetryDelay):
			}
		}
	}
	return HealthResult{Status: Unhealthy, Message: lastErr.Error()}
}

func (c *Client) probe(ctx context.Context, baseURL string) (int, error) {
	if c.HealthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.HealthTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(baseURL, "/api/alive"), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
