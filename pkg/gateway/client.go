package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/roboricindustries/rescue-events/pkg/pubsub"
	"github.com/roboricindustries/rescue-events/pkg/schemas/common"
	"github.com/roboricindustries/rescue-events/pkg/schemas/requests"
)

const (
	DefaultBaseURL = "http://localhost:8080/api/v1"
	DefaultTimeout = 15 * time.Second
)

// API is the slice of the backend the session drives.
type API interface {
	Login(ctx context.Context, in LoginRequest) (AuthResponse, error)
	Register(ctx context.Context, in RegisterRequest) (AuthResponse, error)
	CurrentUser(ctx context.Context) (User, error)

	MyRequests(ctx context.Context) ([]requests.BreakdownRequest, error)
	GetRequest(ctx context.Context, id string) (requests.BreakdownRequest, error)
	CreateRequest(ctx context.Context, in requests.CreateInput) (requests.BreakdownRequest, error)
	AcceptRequest(ctx context.Context, id string) error
	RejectRequest(ctx context.Context, id string) error
	CancelRequest(ctx context.Context, id string) error
	CompleteRequest(ctx context.Context, id string, in requests.CompleteInput) error

	RegisterMechanic(ctx context.Context, in MechanicRegistration) (MechanicProfile, error)
	UpdateAvailability(ctx context.Context, available bool) error
	UpdateLocation(ctx context.Context, lat, lng float64) error

	SetToken(token string)
	ClearToken()
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	// OnUnauthorized is called for every 401, after the token was dropped.
	OnUnauthorized func(error)
}

// Client talks to the REST backend. It keeps the bearer token in memory
// only.
type Client struct {
	baseURL        string
	http           *http.Client
	log            *slog.Logger
	onUnauthorized func(error)

	mu    sync.RWMutex
	token string
}

var _ API = (*Client)(nil)

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:        strings.TrimRight(pubsub.FirstNonEmpty(opts.BaseURL, DefaultBaseURL), "/"),
		http:           hc,
		log:            logger.With("component", "gateway"),
		onUnauthorized: opts.OnUnauthorized,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) ClearToken() { c.SetToken("") }

func (c *Client) Login(ctx context.Context, in LoginRequest) (AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, in, &out); err != nil {
		return AuthResponse{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

// Register creates an account. Role defaults to CUSTOMER.
func (c *Client) Register(ctx context.Context, in RegisterRequest) (AuthResponse, error) {
	if in.Role == "" {
		in.Role = RoleCustomer
	}
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, in, &out); err != nil {
		return AuthResponse{}, err
	}
	if out.Token != "" {
		c.SetToken(out.Token)
	}
	return out, nil
}

func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &u)
	return u, err
}

func (c *Client) MyRequests(ctx context.Context) ([]requests.BreakdownRequest, error) {
	var list []requests.BreakdownRequest
	err := c.do(ctx, http.MethodGet, "/requests/my-requests", nil, nil, &list)
	return list, err
}

func (c *Client) GetRequest(ctx context.Context, id string) (requests.BreakdownRequest, error) {
	var r requests.BreakdownRequest
	err := c.do(ctx, http.MethodGet, requestPath(id, ""), nil, nil, &r)
	return r, err
}

// CreateRequest posts a new request. The backend answers with either the
// created request or just its id; in the latter case the request is fetched.
func (c *Client) CreateRequest(ctx context.Context, in requests.CreateInput) (requests.BreakdownRequest, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/requests", nil, in, &raw); err != nil {
		return requests.BreakdownRequest{}, err
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return c.GetRequest(ctx, id)
	}
	var r requests.BreakdownRequest
	if err := json.Unmarshal(raw, &r); err != nil {
		return requests.BreakdownRequest{}, fmt.Errorf("gateway: decode created request: %w", err)
	}
	return r, nil
}

func (c *Client) AcceptRequest(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, requestPath(id, "accept"), nil, nil, nil)
}

func (c *Client) RejectRequest(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, requestPath(id, "reject"), nil, nil, nil)
}

func (c *Client) CancelRequest(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, requestPath(id, "cancel"), nil, nil, nil)
}

func (c *Client) CompleteRequest(ctx context.Context, id string, in requests.CompleteInput) error {
	return c.do(ctx, http.MethodPut, requestPath(id, "complete"), nil, in, nil)
}

func (c *Client) RegisterMechanic(ctx context.Context, in MechanicRegistration) (MechanicProfile, error) {
	var p MechanicProfile
	err := c.do(ctx, http.MethodPost, "/mechanics/register", nil, in, &p)
	return p, err
}

func (c *Client) UpdateAvailability(ctx context.Context, available bool) error {
	q := url.Values{"available": {strconv.FormatBool(available)}}
	return c.do(ctx, http.MethodPut, "/mechanics/availability", q, nil, nil)
}

func (c *Client) UpdateLocation(ctx context.Context, lat, lng float64) error {
	q := url.Values{
		"lat": {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lng": {strconv.FormatFloat(lng, 'f', -1, 64)},
	}
	return c.do(ctx, http.MethodPost, "/mechanics/location", q, nil, nil)
}

func requestPath(id, action string) string {
	p := "/requests/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

// do sends one call and unwraps the {success, message, data} envelope into
// result.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: marshal %s body: %w", path, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gateway: read %s %s: %w", method, path, err)
	}
	c.log.Debug("call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", reqID),
		slog.Duration("took", time.Since(start)),
	)

	var env common.Response[json.RawMessage]
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Method: method, Path: path}
		if decodeErr == nil && env.Message != "" {
			apiErr.Message = env.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		if errors.Is(apiErr, ErrUnauthorized) {
			c.ClearToken()
			c.log.Warn("token rejected", slog.String("path", path))
			if c.onUnauthorized != nil {
				c.onUnauthorized(apiErr)
			}
		}
		return apiErr
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("gateway: decode %s %s: %w", method, path, decodeErr)
	}
	if !env.Success {
		return &APIError{Status: resp.StatusCode, Method: method, Path: path, Message: env.Message}
	}
	if result == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("gateway: decode %s %s data: %w", method, path, err)
	}
	return nil
}
