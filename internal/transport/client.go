package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vpnpanel/internal/metrics"
	"vpnpanel/internal/storage/models"
	pkgerrors "vpnpanel/pkg/errors"
)

// maxBodySize bounds every response body read from the API.
const maxBodySize = 1 << 20

// maxDetailRunes bounds the response text kept in an error.
const maxDetailRunes = 256

// Legacy parameter names the settings endpoint still expects alongside the
// canonical ones.
var legacyNames = map[string]string{
	"protocol":   "preferredProtocol",
	"encryption": "preferredEncryption",
}

// Client talks to the settings, feature-access, session and catalog
// endpoints. It never retries: every call issues exactly one request.
type Client struct {
	client    *http.Client
	baseURL   *url.URL
	token     string
	userAgent string
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Config represents client configuration
type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://127.0.0.1:8080/api",
		UserAgent: "vpnpanel/1.0",
		Timeout:   15 * time.Second,
	}
}

// New creates a new API client
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultConfig().Timeout
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}

	return &Client{
		client:    httpClient,
		baseURL:   base,
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}, nil
}

// GetSettings fetches the current remote settings record.
func (c *Client) GetSettings(ctx context.Context) (*models.Settings, error) {
	settings := &models.Settings{}
	if err := c.do(ctx, http.MethodGet, "/settings", nil, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// UpdateField sends a single field change. See UpdateFields.
func (c *Client) UpdateField(ctx context.Context, name string, value any) (*models.Settings, error) {
	return c.UpdateFields(ctx, map[string]any{name: value})
}

// UpdateFields sends one POST /settings carrying every field in fields.
// Protocol and encryption are duplicated under their legacy names.
func (c *Client) UpdateFields(ctx context.Context, fields map[string]any) (*models.Settings, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty update", pkgerrors.ErrInvalidValue)
	}

	body := make(map[string]any, len(fields)+len(legacyNames))
	for name, value := range fields {
		body[name] = value
		if legacy, ok := legacyNames[name]; ok {
			body[legacy] = value
		}
	}

	settings := &models.Settings{}
	if err := c.do(ctx, http.MethodPost, "/settings", body, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

type featureAccessResponse struct {
	HasAccess bool `json:"hasAccess"`
}

// FeatureAccess reports whether the account may use feature.
func (c *Client) FeatureAccess(ctx context.Context, feature string) (bool, error) {
	var resp featureAccessResponse
	if err := c.do(ctx, http.MethodGet, "/feature-access/"+url.PathEscape(feature), nil, &resp); err != nil {
		return false, err
	}
	return resp.HasAccess, nil
}

// CurrentSession returns the active session, or nil when none is active.
func (c *Client) CurrentSession(ctx context.Context) (*models.Session, error) {
	var session *models.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/current", nil, &session); err != nil {
		return nil, err
	}
	return session, nil
}

// Servers fetches the full server catalog.
func (c *Client) Servers(ctx context.Context) ([]models.ServerRef, error) {
	var servers []models.ServerRef
	if err := c.do(ctx, http.MethodGet, "/servers", nil, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// RegionServers fetches the catalog grouped by region.
func (c *Client) RegionServers(ctx context.Context) ([]models.ServerRef, error) {
	var servers []models.ServerRef
	if err := c.do(ctx, http.MethodGet, "/servers/regions", nil, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// do performs a single request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + endpoint

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	log := c.logger.With(
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.String("request_id", requestID),
	)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.TransportRequests.WithLabelValues(endpointLabel(endpoint), "error").Inc()
		log.Debug("request failed", zap.Error(err))
		return &pkgerrors.TransportError{Method: method, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	c.metrics.TransportRequests.WithLabelValues(endpointLabel(endpoint), strconv.Itoa(resp.StatusCode)).Inc()
	log.Debug("request completed",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &pkgerrors.TransportError{Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Err: err}
	}

	if err := classifyStatus(method, endpoint, resp.StatusCode, payload); err != nil {
		return err
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &pkgerrors.TransportError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode response: %w", err),
		}
	}
	return nil
}

type requestIDKey struct{}

// WithRequestID makes requests issued under ctx carry id as X-Request-ID
// instead of a fresh one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// classifyStatus maps non-2xx responses onto the error taxonomy.
func classifyStatus(method, endpoint string, status int, payload []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	detail := errors.New(http.StatusText(status))
	if msg := strings.TrimSpace(string(payload)); msg != "" {
		if r := []rune(msg); len(r) > maxDetailRunes {
			msg = string(r[:maxDetailRunes])
		}
		detail = errors.New(msg)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &pkgerrors.AuthorizationError{StatusCode: status, Err: detail}
	}
	return &pkgerrors.TransportError{Method: method, Endpoint: endpoint, StatusCode: status, Err: detail}
}

// endpointLabel collapses per-feature paths so metric cardinality stays flat.
func endpointLabel(endpoint string) string {
	if strings.HasPrefix(endpoint, "/feature-access/") {
		return "/feature-access"
	}
	return endpoint
}
