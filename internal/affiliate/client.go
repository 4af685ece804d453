// Package affiliate talks to the Exness partnership API.  It authenticates
// with partner credentials, keeps the bearer token until shortly before it
// expires, and exposes the affiliation check, the batched client status
// query used by the reconciliation job and the dashboard summary.
package affiliate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/ea-license-service/internal/utils"
)

const (
	authPath        = "/api/v2/auth/"
	affiliationPath = "/api/partner/affiliation/"
	clientsPath     = "/api/v2/reports/clients/"
	walletPath      = "/api/wallet/accounts/"
	linkPath        = "/api/partner/default_link/"

	// renewBefore is how long before expiry a cached token is replaced.
	renewBefore = 300 * time.Second
	// fallbackTTL is assumed when the token payload has no readable exp.
	fallbackTTL = time.Hour
	// pageLimit is the largest page the clients report returns.
	pageLimit = 200
)

var (
	// ErrConfig means partner credentials are not configured.
	ErrConfig = errors.New("affiliate api credentials not configured")
	// ErrAuth means the auth endpoint refused the credentials.
	ErrAuth = errors.New("affiliate api authentication failed")
	// ErrUpstream means a data endpoint answered with a non-success status.
	ErrUpstream = errors.New("affiliate api request failed")
)

// AuthError carries the status code returned by the auth endpoint.
type AuthError struct{ Status int }

func (e *AuthError) Error() string { return fmt.Sprintf("affiliate auth failed: %d", e.Status) }
func (e *AuthError) Unwrap() error { return ErrAuth }

// UpstreamError carries the failing operation and status code.
type UpstreamError struct {
	Op     string
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("affiliate %s failed: %d", e.Op, e.Status)
}
func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// Config holds the partner credentials and transport settings.
type Config struct {
	BaseURL  string
	Login    string
	Password string
	Timeout  time.Duration
}

// Client is safe for concurrent use.  The token slot is protected by a
// mutex for memory safety only; two callers that both find the token stale
// may both authenticate, and the later token wins.
type Client struct {
	baseURL  string
	login    string
	password string
	http     *http.Client
	log      *zap.SugaredLogger
	now      func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient builds a Client.  A nil logger is replaced with a no-op one.
func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		login:    cfg.Login,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
		log:      log,
		now:      time.Now,
	}
}

// cached returns the current token if it is still outside the renewal window.
func (c *Client) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.tokenExp.Add(-renewBefore).After(c.now()) {
		return c.token, true
	}
	return "", false
}

func (c *Client) store(token string, exp time.Time) {
	c.mu.Lock()
	c.token, c.tokenExp = token, exp
	c.mu.Unlock()
}

// Invalidate drops the cached token so the next call re-authenticates.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.token, c.tokenExp = "", time.Time{}
	c.mu.Unlock()
}

// Token returns a bearer token, authenticating when the cached one is
// missing or within five minutes of expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}
	if c.login == "" || c.password == "" {
		return "", ErrConfig
	}

	body, err := json.Marshal(map[string]string{"login": c.login, "password": c.password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+authPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("affiliate auth: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{Status: resp.StatusCode}
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("affiliate auth: decode: %w", err)
	}
	if out.Token == "" {
		return "", &AuthError{Status: resp.StatusCode}
	}

	exp, err := utils.TokenExpiry(out.Token)
	if err != nil {
		c.log.Debugw("affiliate token expiry unreadable, assuming one hour", "error", err)
		exp = c.now().Add(fallbackTTL)
	}
	c.store(out.Token, exp)
	return out.Token, nil
}

// doAuthed sends a request built by newReq with a bearer token.  A 401
// drops the cached token, re-authenticates once and retries exactly once.
func (c *Client) doAuthed(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	send := func() (*http.Response, error) {
		tok, err := c.Token(ctx)
		if err != nil {
			return nil, err
		}
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		return c.http.Do(req)
	}

	resp, err := send()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.Invalidate()
		return send()
	}
	return resp, nil
}

// AffiliationResult is the outcome of an affiliation check.
type AffiliationResult struct {
	Affiliated bool
	ClientUID  *string
}

// CheckAffiliation asks whether email belongs to a client registered under
// the partner account.
func (c *Client) CheckAffiliation(ctx context.Context, email string) (AffiliationResult, error) {
	body, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return AffiliationResult{}, err
	}
	resp, err := c.doAuthed(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+affiliationPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return AffiliationResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return AffiliationResult{}, &UpstreamError{Op: "affiliation check", Status: resp.StatusCode}
	}

	var out struct {
		Affiliation bool     `json:"affiliation"`
		Accounts    []string `json:"accounts"`
		ClientUID   *string  `json:"client_uid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return AffiliationResult{}, fmt.Errorf("affiliation check: decode: %w", err)
	}
	return AffiliationResult{Affiliated: out.Affiliation, ClientUID: out.ClientUID}, nil
}

// ListClientStatuses returns client_status keyed by client_uid for every
// uid the partner API still knows.  Unknown uids are simply absent from the
// result.  Uids are queried in pages of 200.
func (c *Client) ListClientStatuses(ctx context.Context, uids []string) (map[string]string, error) {
	out := make(map[string]string, len(uids))
	for start := 0; start < len(uids); start += pageLimit {
		end := start + pageLimit
		if end > len(uids) {
			end = len(uids)
		}
		page, err := c.fetchClients(ctx, uids[start:end])
		if err != nil {
			return out, err
		}
		for _, cl := range page.Data {
			out[cl.ClientUID] = cl.ClientStatus
		}
	}
	return out, nil
}

// fetchClients queries the clients report, optionally filtered by uid.
func (c *Client) fetchClients(ctx context.Context, uids []string) (*ClientsReport, error) {
	q := url.Values{}
	for _, uid := range uids {
		q.Add("client_uid", uid)
	}
	q.Set("limit", fmt.Sprint(pageLimit))

	var report ClientsReport
	if err := c.getJSON(ctx, clientsPath+"?"+q.Encode(), "clients report", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// getJSON performs an authenticated GET and decodes the response into dst.
func (c *Client) getJSON(ctx context.Context, path, op string, dst any) error {
	resp, err := c.doAuthed(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Op: op, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}
