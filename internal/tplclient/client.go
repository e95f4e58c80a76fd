package tplclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrGone         = errors.New("gone")
)

// Client is an HTTP client for the tpled server.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New creates a new client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Auth types (mirrors internal/api/auth.go, independently defined) ---

// LoginStartResponse is the response from POST /v1/auth/login/start.
type LoginStartResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// LoginPollResponse is the response from POST /v1/auth/login/poll.
type LoginPollResponse struct {
	Status    string  `json:"status"`
	APIKey    *string `json:"api_key,omitempty"`
	UserID    *string `json:"user_id,omitempty"`
	Email     *string `json:"email,omitempty"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// MeResponse is the response from GET /v1/me.
type MeResponse struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	KeyID  string   `json:"key_id"`
	Scopes []string `json:"scopes"`
}

// --- Template types ---

// Template represents a template as seen by the caller.
type Template struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	OwnerEmail    string          `json:"owner_email,omitempty"`
	Name          string          `json:"name"`
	Role          string          `json:"role"`
	HasContent    bool            `json:"has_content"`
	LatestVersion *int            `json:"latest_version,omitempty"`
	DesignJSON    json.RawMessage `json:"design_json,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

// TemplateList is the response from GET /v1/templates.
type TemplateList struct {
	Owned  []Template `json:"owned"`
	Shared []Template `json:"shared"`
}

// Version is one saved snapshot of a template.
type Version struct {
	ID           string          `json:"id"`
	TemplateID   string          `json:"template_id"`
	Version      int             `json:"version"`
	SavedBy      string          `json:"saved_by"`
	SavedByEmail string          `json:"saved_by_email,omitempty"`
	DesignJSON   json.RawMessage `json:"design_json,omitempty"`
	HTML         *string         `json:"html,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

// SaveRequest is the body for POST /v1/templates/{id}/versions.
type SaveRequest struct {
	DesignJSON  json.RawMessage `json:"design_json,omitempty"`
	HTML        string          `json:"html"`
	CSS         string          `json:"css,omitempty"`
	BaseVersion *int            `json:"base_version,omitempty"`
}

// Share is one non-owner grant on a template.
type Share struct {
	TemplateID string `json:"template_id"`
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	CreatedAt  string `json:"created_at"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doNoAuth("GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Auth methods ---

// LoginStart initiates device auth flow. No API key required.
func (c *Client) LoginStart(email string) (*LoginStartResponse, error) {
	body := map[string]string{"email": email}
	var resp LoginStartResponse
	if err := c.doNoAuth("POST", "/v1/auth/login/start", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginPoll checks the status of a device auth request. No API key required.
func (c *Client) LoginPoll(deviceCode string) (*LoginPollResponse, error) {
	body := map[string]string{"device_code": deviceCode}
	var resp LoginPollResponse
	if err := c.doNoAuth("POST", "/v1/auth/login/poll", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the identity behind the API key.
func (c *Client) Me() (*MeResponse, error) {
	var resp MeResponse
	if err := c.do("GET", "/v1/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Template methods ---

// ListTemplates lists the caller's owned and shared templates.
func (c *Client) ListTemplates() (*TemplateList, error) {
	var resp TemplateList
	if err := c.do("GET", "/v1/templates", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateTemplate creates an empty template owned by the caller.
func (c *Client) CreateTemplate(name string) (*Template, error) {
	body := map[string]string{"name": name}
	var resp Template
	if err := c.do("POST", "/v1/templates", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTemplate fetches a template including its current design.
func (c *Client) GetTemplate(id string) (*Template, error) {
	var resp Template
	if err := c.do("GET", "/v1/templates/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RenameTemplate changes a template's name.
func (c *Client) RenameTemplate(id, name string) (*Template, error) {
	body := map[string]string{"name": name}
	var resp Template
	if err := c.do("PATCH", "/v1/templates/"+url.PathEscape(id), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteTemplate removes a template with its versions and shares.
func (c *Client) DeleteTemplate(id string) error {
	return c.do("DELETE", "/v1/templates/"+url.PathEscape(id), nil, nil)
}

// TemplateHTML downloads the latest exported HTML document.
func (c *Client) TemplateHTML(id string) ([]byte, error) {
	return c.getRaw(fmt.Sprintf("/v1/templates/%s/html", url.PathEscape(id)))
}

// --- Version methods ---

// ListVersions lists version metadata, newest first.
func (c *Client) ListVersions(templateID string, limit int) ([]Version, error) {
	path := fmt.Sprintf("/v1/templates/%s/versions", url.PathEscape(templateID))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp []Version
	if err := c.do("GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SaveVersion appends a new version. A stale BaseVersion yields ErrConflict.
func (c *Client) SaveVersion(templateID string, req *SaveRequest) (*Version, error) {
	var resp Version
	if err := c.do("POST", fmt.Sprintf("/v1/templates/%s/versions", url.PathEscape(templateID)), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetVersion fetches one version with its bodies.
func (c *Client) GetVersion(templateID string, version int) (*Version, error) {
	var resp Version
	if err := c.do("GET", fmt.Sprintf("/v1/templates/%s/versions/%d", url.PathEscape(templateID), version), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VersionHTML downloads the HTML document stored with one version.
func (c *Client) VersionHTML(templateID string, version int) ([]byte, error) {
	return c.getRaw(fmt.Sprintf("/v1/templates/%s/versions/%d/html", url.PathEscape(templateID), version))
}

// RestoreVersion copies an old version forward as the newest one.
func (c *Client) RestoreVersion(templateID string, version int) (*Version, error) {
	var resp Version
	if err := c.do("POST", fmt.Sprintf("/v1/templates/%s/versions/%d/restore", url.PathEscape(templateID), version), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Share methods ---

// ListShares lists the non-owner grants on a template.
func (c *Client) ListShares(templateID string) ([]Share, error) {
	var resp []Share
	if err := c.do("GET", fmt.Sprintf("/v1/templates/%s/shares", url.PathEscape(templateID)), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AddShare grants a registered user access by email.
func (c *Client) AddShare(templateID, email, role string) (*Share, error) {
	body := map[string]string{"email": email, "role": role}
	var resp Share
	if err := c.do("POST", fmt.Sprintf("/v1/templates/%s/shares", url.PathEscape(templateID)), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateShareRole changes a grantee's role.
func (c *Client) UpdateShareRole(templateID, userID, role string) (*Share, error) {
	body := map[string]string{"role": role}
	var resp Share
	if err := c.do("PATCH", fmt.Sprintf("/v1/templates/%s/shares/%s", url.PathEscape(templateID), url.PathEscape(userID)), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveShare revokes a grantee's access.
func (c *Client) RemoveShare(templateID, userID string) error {
	return c.do("DELETE", fmt.Sprintf("/v1/templates/%s/shares/%s", url.PathEscape(templateID), url.PathEscape(userID)), nil, nil)
}

// --- HTTP helpers ---

// APIError is the standard error body from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// do executes an authenticated HTTP request.
func (c *Client) do(method, path string, body, result any) error {
	return c.doRequest(method, path, body, result, true)
}

// doNoAuth executes an unauthenticated HTTP request.
func (c *Client) doNoAuth(method, path string, body, result any) error {
	return c.doRequest(method, path, body, result, false)
}

func (c *Client) doRequest(method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// getRaw fetches a non-JSON body such as an exported HTML document.
func (c *Client) getRaw(path string) ([]byte, error) {
	req, err := http.NewRequest("GET", c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, data)
	}
	return data, nil
}

func decodeError(status int, body []byte) error {
	var envelope struct {
		Error APIError `json:"error"`
	}
	if json.Unmarshal(body, &envelope) != nil || envelope.Error.Code == "" {
		return fmt.Errorf("HTTP %d: %s", status, string(body))
	}
	apiErr := envelope.Error
	apiErr.Status = status
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, apiErr.Message)
	case http.StatusGone:
		return fmt.Errorf("%w: %s", ErrGone, apiErr.Message)
	default:
		return &apiErr
	}
}
