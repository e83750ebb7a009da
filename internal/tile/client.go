package tile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tile cloud API constants.
const (
	// DefaultBaseURL is the production Tile API endpoint.
	DefaultBaseURL = "https://production.tile-api.com/api/v1"

	// appID and appVersion identify this client to the Tile cloud.
	// The service rejects requests without a known app identity.
	appID      = "ios-tile-production"
	appVersion = "2.89.1.4774"

	// requestTimeout bounds individual API calls when the shared session
	// has no timeout of its own.
	requestTimeout = 30 * time.Second
)

// Client is an authenticated session with the Tile cloud API.
//
// Create one with Login. The underlying *http.Client (the shared network
// session) is supplied by the caller and reused across all requests,
// including per-tile refreshes.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	baseURL string
	session *http.Client

	email    string
	password string

	clientUUID string

	// Session state, replaced on ReinitializeSession.
	userUUID string
	cookie   string
	mu       sync.RWMutex
}

// apiEnvelope is the wrapper the Tile API puts around every response body.
type apiEnvelope struct {
	Version   int             `json:"version"`
	Timestamp string          `json:"timestamp"`
	Result    json.RawMessage `json:"result"`
}

// sessionResult is the payload of a successful session creation.
type sessionResult struct {
	User struct {
		UserUUID string `json:"user_uuid"`
	} `json:"user"`
	SessionExpirationTimestamp int64 `json:"session_expiration_timestamp"`
}

// Option customises a Client. Used by tests to point at a local server.
type Option func(*Client)

// WithBaseURL overrides the production API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// Login authenticates against the Tile cloud and returns a ready client.
//
// The flow mirrors the official mobile app:
//  1. Register a client UUID with the service
//  2. Create a session for the account credentials
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - email: Account email address
//   - password: Account password
//   - session: Shared HTTP client reused for all subsequent requests
//
// Returns:
//   - *Client: Authenticated client
//   - error: ErrInvalidCredentials if the account is rejected,
//     ErrServiceUnavailable for any other failure
func Login(ctx context.Context, email, password string, session *http.Client, opts ...Option) (*Client, error) {
	if session == nil {
		session = &http.Client{Timeout: requestTimeout}
	}

	c := &Client{
		baseURL:    DefaultBaseURL,
		session:    session,
		email:      email,
		password:   password,
		clientUUID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.registerClient(ctx); err != nil {
		return nil, err
	}
	if err := c.createSession(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// ReinitializeSession establishes a fresh session after expiry.
//
// The client UUID is kept; only the session (and its cookie) is replaced.
// Safe to call concurrently; requests in flight during the swap may still
// fail with ErrSessionExpired once and should be retried next cycle.
//
// Returns:
//   - error: ErrServiceUnavailable if the session cannot be recreated
func (c *Client) ReinitializeSession(ctx context.Context) error {
	return c.createSession(ctx)
}

// UserUUID returns the account's user UUID from the active session.
func (c *Client) UserUUID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userUUID
}

// registerClient registers this client UUID with the service.
func (c *Client) registerClient(ctx context.Context) error {
	form := url.Values{
		"app_id":      {appID},
		"app_version": {appVersion},
		"locale":      {"en-GB"},
	}

	resp, err := c.do(ctx, http.MethodPut, "/clients/"+c.clientUUID, form)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: client registration returned %d", ErrServiceUnavailable, resp.StatusCode)
	}
	return nil
}

// createSession creates a session for the account credentials and stores
// the resulting user UUID and session cookie.
func (c *Client) createSession(ctx context.Context) error {
	form := url.Values{
		"email":    {c.email},
		"password": {c.password},
	}

	resp, err := c.do(ctx, http.MethodPost, "/clients/"+c.clientUUID+"/sessions", form)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrInvalidCredentials
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: session creation returned %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var result sessionResult
	if err := decodeResult(resp.Body, &result); err != nil {
		return fmt.Errorf("%w: decoding session: %w", ErrServiceUnavailable, err)
	}

	c.mu.Lock()
	c.userUUID = result.User.UserUUID
	if cookie := resp.Header.Get("Set-Cookie"); cookie != "" {
		// Keep only the name=value pair; attributes are irrelevant here.
		c.cookie = strings.SplitN(cookie, ";", 2)[0]
	}
	c.mu.Unlock()

	return nil
}

// GetTiles fetches the full set of trackable tiles for the account.
//
// Each returned Tile is bound to this client for subsequent Update calls.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - map[string]*Tile: Tiles keyed by UUID
//   - error: ErrSessionExpired or ErrServiceUnavailable
func (c *Client) GetTiles(ctx context.Context) (map[string]*Tile, error) {
	var states []tileState
	if err := c.getJSON(ctx, "/tiles/tile_states", &states); err != nil {
		return nil, err
	}

	tiles := make(map[string]*Tile, len(states))
	for _, state := range states {
		var details tileDetails
		if err := c.getJSON(ctx, "/tiles/"+state.TileID, &details); err != nil {
			return nil, err
		}
		tiles[state.TileID] = newTile(c, details)
	}

	return tiles, nil
}

// getJSON performs an authenticated GET and decodes the envelope result.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrSessionExpired
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: GET %s returned %d", ErrServiceUnavailable, path, resp.StatusCode)
	}

	if err := decodeResult(resp.Body, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrServiceUnavailable, path, err)
	}
	return nil
}

// do builds and executes one API request with app identity headers.
func (c *Client) do(ctx context.Context, method, path string, form url.Values) (*http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrServiceUnavailable, err)
	}

	req.Header.Set("tile_app_id", appID)
	req.Header.Set("tile_app_version", appVersion)
	req.Header.Set("tile_client_uuid", c.clientUUID)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.mu.RLock()
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	c.mu.RUnlock()

	resp, err := c.session.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return resp, nil
}

// decodeResult unwraps the API envelope and decodes the result payload.
func decodeResult(r io.Reader, out any) error {
	var envelope apiEnvelope
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return err
	}
	return json.Unmarshal(envelope.Result, out)
}

// drainAndClose discards any unread body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body) //nolint:errcheck // Drain for connection reuse
	_ = body.Close()                 //nolint:errcheck // Nothing to do on close failure
}
