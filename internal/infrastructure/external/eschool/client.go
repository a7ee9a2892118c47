// Package eschool implements the eSchool electronic diary API client.
// It owns the authenticated session (cookies, user id, evaluation period),
// re-authenticates once when the session expires, and exposes typed
// accessors for grades, homework, diary lessons and chats.
package eschool

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/domain/shared"
	"github.com/eschool-hub/eschool-watcher/pkg/retry"
)

const (
	// DefaultBaseURL is the production diary API.
	DefaultBaseURL = "https://app.eschool.center/ec-server"

	// DefaultPeriod is the evaluation period used when none is configured.
	DefaultPeriod = "145624"
)

// ErrReauthExhausted is returned when the session is still rejected after
// the single re-login. It matches shared.ErrTransport.
var ErrReauthExhausted = shared.NewDomainError("eschool", "Reauthenticate", shared.ErrTransport, "session rejected after re-authentication")

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the eSchool API client.
type ClientConfig struct {
	// BaseURL is the API root, e.g. https://app.eschool.center/ec-server
	BaseURL string

	// Period is the evaluation period id (eiId)
	Period string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// ChatCount is how many chat threads Chats requests
	ChatCount int

	// MessageCount is how many recent messages Messages requests per thread
	MessageCount int

	// RateLimiterConfig paces requests; zero RequestsPerSecond disables it
	RateLimiterConfig RateLimiterConfig

	// HTTPClient overrides the HTTP client (its Jar is replaced)
	HTTPClient *http.Client

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables request logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:      DefaultBaseURL,
		Period:       DefaultPeriod,
		Timeout:      30 * time.Second,
		ChatCount:    250,
		MessageCount: 3,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the eSchool API client. It is safe for concurrent use.
type Client struct {
	config      ClientConfig
	baseURL     *url.URL
	cookieURL   *url.URL
	httpClient  *http.Client
	jar         *cookiejar.Jar
	logger      *slog.Logger
	rateLimiter *RateLimiter
	mapper      *Mapper
	reauth      *retry.Retrier

	// Session management
	session   diary.Session
	sessionMu sync.RWMutex

	// relogins collapses concurrent re-logins from both poll loops into one.
	relogins singleflight.Group
}

// NewClient creates a new eSchool API client.
func NewClient(config ClientConfig) (*Client, error) {
	defaults := DefaultClientConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Period == "" {
		config.Period = defaults.Period
	}
	if config.ChatCount <= 0 {
		config.ChatCount = defaults.ChatCount
	}
	if config.MessageCount <= 0 {
		config.MessageCount = defaults.MessageCount
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q must be absolute", shared.ErrInvalidInput, config.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	if config.HTTPClient != nil {
		clone := *config.HTTPClient
		httpClient = &clone
	}
	httpClient.Jar = jar

	return &Client{
		config:      config,
		baseURL:     base,
		cookieURL:   &url.URL{Scheme: base.Scheme, Host: base.Host, Path: strings.TrimRight(base.Path, "/") + "/"},
		httpClient:  httpClient,
		jar:         jar,
		logger:      config.Logger.With("component", "eschool_client"),
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		mapper:      NewMapper(),
		reauth:      retry.ReauthRetrier(shared.IsAuthExpired),
		session:     diary.Session{Period: config.Period},
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION STATE
// ══════════════════════════════════════════════════════════════════════════════

// HashPassword returns the hex SHA-256 digest the service expects as password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Session returns a copy of the current session state including cookies.
func (c *Client) Session() diary.Session {
	c.sessionMu.RLock()
	s := c.session
	c.sessionMu.RUnlock()

	s.Cookies = make(map[string]string)
	for _, cookie := range c.jar.Cookies(c.cookieURL) {
		s.Cookies[cookie.Name] = cookie.Value
	}
	return s
}

// RestoreSession loads a previously saved session so that requests can be
// made without logging in again.
func (c *Client) RestoreSession(s diary.Session) {
	if s.Period == "" {
		s.Period = c.config.Period
	}

	cookies := make([]*http.Cookie, 0, len(s.Cookies))
	for name, value := range s.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	c.jar.SetCookies(c.cookieURL, cookies)

	s.Cookies = nil
	c.sessionMu.Lock()
	c.session = s
	c.sessionMu.Unlock()
}

// UserID returns the resolved user id.
func (c *Client) UserID() string {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.session.UserID
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// Login hashes the password and authenticates.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	return c.Authenticate(ctx, username, HashPassword(password))
}

// Authenticate establishes a session with a username and password digest and
// resolves the user id. It never re-authenticates by itself.
func (c *Client) Authenticate(ctx context.Context, username, passwordDigest string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", passwordDigest)

	err := c.doOnce(ctx, "Authenticate", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("login"), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, nil)
	if err != nil {
		return "", fmt.Errorf("login %s: %w", username, err)
	}

	var state StateDTO
	err = c.doOnce(ctx, "Authenticate", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("student/diary"), nil)
	}, decodeInto("Authenticate", &state))
	if err != nil {
		return "", fmt.Errorf("resolve user id: %w", err)
	}
	if len(state.User) == 0 || state.User[0].ID == "" {
		return "", shared.Malformed("Authenticate", "missing user id")
	}

	userID := state.User[0].ID.String()

	c.sessionMu.Lock()
	c.session.Username = username
	c.session.PasswordDigest = passwordDigest
	c.session.UserID = userID
	c.sessionMu.Unlock()

	c.logger.Info("authenticated", "username", username, "user_id", userID)

	return userID, nil
}

// relogin authenticates again with the stored credentials. Callers that
// arrive while a re-login is in flight wait for it and share its result.
func (c *Client) relogin(ctx context.Context) error {
	_, err, _ := c.relogins.Do("relogin", func() (any, error) {
		return nil, c.reloginOnce(ctx)
	})
	return err
}

func (c *Client) reloginOnce(ctx context.Context) error {
	c.sessionMu.RLock()
	s := c.session
	c.sessionMu.RUnlock()

	if !s.HasCredentials() {
		return shared.WrapError("eschool", "Reauthenticate", shared.ErrTransport, "cannot re-authenticate", shared.ErrNoCredentials)
	}

	c.logger.Warn("session expired, re-authenticating", "username", s.Username)

	if _, err := c.Authenticate(ctx, s.Username, s.PasswordDigest); err != nil {
		return fmt.Errorf("re-authenticate: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RAW OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Get calls {base}/{prefix}/{method}/?userId=..&eiId=..&params and decodes
// the JSON body into out (if non-nil).
func (c *Client) Get(ctx context.Context, method, prefix string, params url.Values, out any) error {
	if prefix == "" {
		prefix = "student"
	}
	return c.do(ctx, method, func(ctx context.Context) (*http.Request, error) {
		c.sessionMu.RLock()
		query := "userId=" + url.QueryEscape(c.session.UserID) + "&eiId=" + url.QueryEscape(c.session.Period)
		c.sessionMu.RUnlock()
		if len(params) > 0 {
			query += "&" + params.Encode()
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(prefix+"/"+method+"/")+"?"+query, nil)
	}, decodeInto(method, out))
}

// Put sends body as JSON to {base}/{prefix}/{method}?query and decodes the
// JSON reply into out (if non-nil).
func (c *Client) Put(ctx context.Context, method string, body any, query url.Values, prefix string, out any) error {
	if prefix == "" {
		prefix = "chat"
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	target := c.endpoint(prefix + "/" + method)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, method, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, decodeInto(method, out))
}

// DownloadFile returns the raw content of an attachment.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var content []byte
	err := c.do(ctx, "DownloadFile", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("files/"+url.PathEscape(fileID)), nil)
	}, func(body []byte) error {
		content = body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	return content, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// HTTPError is a non-2xx response. 401 and 403 are treated as an expired
// session and match shared.ErrAuthExpired; everything else matches
// shared.ErrTransport.
type HTTPError struct {
	Op         string
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("eschool %s: %s %s: status %d", e.Op, e.Method, e.URL, e.StatusCode)
}

// AuthExpired reports whether the status means the session is no longer valid.
func (e *HTTPError) AuthExpired() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Is implements errors.Is matching against the shared error kinds.
func (e *HTTPError) Is(target error) bool {
	if e.AuthExpired() {
		return target == shared.ErrAuthExpired
	}
	return target == shared.ErrTransport
}

type requestFactory func(ctx context.Context) (*http.Request, error)

// do performs a request and, on an expired session, re-logs in once and
// retries. A second expiry is returned as ErrReauthExhausted.
func (c *Client) do(ctx context.Context, op string, newRequest requestFactory, handle func([]byte) error) error {
	err := c.reauth.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if err := c.relogin(ctx); err != nil {
				return retry.Permanent(err)
			}
		}
		return c.doOnce(ctx, op, newRequest, handle)
	})
	if err != nil && shared.IsAuthExpired(err) {
		return fmt.Errorf("%w: %s: %w", ErrReauthExhausted, op, err)
	}
	return err
}

// doOnce performs a single HTTP request.
func (c *Client) doOnce(ctx context.Context, op string, newRequest requestFactory, handle func([]byte) error) error {
	if err := c.rateLimiter.Allow(ctx); err != nil {
		return shared.WrapError("eschool", op, shared.ErrTransport, "rate limiter", err)
	}

	req, err := newRequest(ctx)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.config.Debug {
		c.logger.Debug("eschool api request", "method", req.Method, "path", req.URL.Path)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return shared.WrapError("eschool", op, shared.ErrTransport, "http request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return shared.WrapError("eschool", op, shared.ErrTransport, "read response", err)
	}

	if c.config.Debug {
		c.logger.Debug("eschool api response",
			"path", req.URL.Path,
			"status", resp.StatusCode,
			"latency", time.Since(started).String(),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{
			Op:         op,
			Method:     req.Method,
			URL:        req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 512),
		}
	}

	if handle == nil {
		return nil
	}
	return handle(body)
}

// endpoint joins a relative path to the base URL.
func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String()
}

// decodeInto returns a body handler that unmarshals JSON into out.
func decodeInto(op string, out any) func([]byte) error {
	return func(body []byte) error {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			var syntaxErr *json.SyntaxError
			msg := "unexpected response shape"
			if errors.As(err, &syntaxErr) {
				msg = "response is not JSON"
			}
			return shared.WrapError("eschool", op, shared.ErrMalformedResponse, msg, err)
		}
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
