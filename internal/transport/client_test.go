package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vpnpanel/internal/metrics"
	pkgerrors "vpnpanel/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *metrics.Metrics) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m := metrics.Nop()
	c, err := New(Config{
		BaseURL: srv.URL + "/api",
		Token:   "secret",
		Logger:  zaptest.NewLogger(t),
		Metrics: m,
	})
	require.NoError(t, err)
	return c, m
}

func TestUpdateFieldSendsLegacyNames(t *testing.T) {
	var mu sync.Mutex
	var body map[string]any
	var calls atomic.Int32

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/settings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		mu.Lock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Unlock()
		w.Write([]byte(`{"protocol":"wireguard","encryption":"aes_256_gcm"}`))
	})

	settings, err := c.UpdateFields(context.Background(), map[string]any{
		"protocol":   "wireguard",
		"encryption": "aes_256_gcm",
	})
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "wireguard", body["protocol"])
	assert.Equal(t, "wireguard", body["preferredProtocol"])
	assert.Equal(t, "aes_256_gcm", body["encryption"])
	assert.Equal(t, "aes_256_gcm", body["preferredEncryption"])
	assert.Equal(t, "wireguard", settings.EffectiveProtocol())
}

func TestUpdateFieldBooleanHasNoLegacyName(t *testing.T) {
	var mu sync.Mutex
	var body map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Unlock()
		w.Write([]byte(`{"killSwitch":true}`))
	})

	settings, err := c.UpdateField(context.Background(), "killSwitch", true)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]any{"killSwitch": true}, body)
	v, ok := settings.Flag("killSwitch")
	assert.True(t, ok)
	assert.True(t, v)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   pkgerrors.ErrorKind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, kind: pkgerrors.KindAuthorization},
		{name: "forbidden", status: http.StatusForbidden, kind: pkgerrors.KindAuthorization},
		{name: "bad request", status: http.StatusBadRequest, kind: pkgerrors.KindTransport},
		{name: "conflict", status: http.StatusConflict, kind: pkgerrors.KindTransport},
		{name: "server error", status: http.StatusInternalServerError, kind: pkgerrors.KindTransport},
		{name: "unavailable", status: http.StatusServiceUnavailable, kind: pkgerrors.KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			})

			_, err := c.UpdateField(context.Background(), "obfuscation", true)
			require.Error(t, err)
			assert.Equal(t, tt.kind, pkgerrors.Kind(err))
			assert.Equal(t, int32(1), calls.Load(), "transport must not retry")
		})
	}
}

func TestTransportErrorCarriesStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.GetSettings(context.Background())
	var transportErr *pkgerrors.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
	assert.Equal(t, "/settings", transportErr.Endpoint)
}

func TestNetworkFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: base})
	require.NoError(t, err)

	_, err = c.GetSettings(context.Background())
	assert.Equal(t, pkgerrors.KindTransport, pkgerrors.Kind(err))
}

func TestMalformedBodyIsTransportError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	_, err := c.GetSettings(context.Background())
	assert.Equal(t, pkgerrors.KindTransport, pkgerrors.Kind(err))
}

func TestFeatureAccess(t *testing.T) {
	c, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/feature-access/obfuscation":
			w.Write([]byte(`{"hasAccess":false}`))
		case "/api/feature-access/double_vpn":
			w.Write([]byte(`{"hasAccess":true}`))
		default:
			http.NotFound(w, r)
		}
	})

	ok, err := c.FeatureAccess(context.Background(), "obfuscation")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.FeatureAccess(context.Background(), "double_vpn")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransportRequests.WithLabelValues("/feature-access", "200")))
}

func TestCurrentSession(t *testing.T) {
	var active atomic.Bool
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/current", r.URL.Path)
		if !active.Load() {
			w.Write([]byte(`null`))
			return
		}
		w.Write([]byte(`{"id":"s1","serverId":"de-1","startedAt":"2026-10-19T10:00:00Z"}`))
	})

	session, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)

	active.Store(true)
	session, err = c.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "de-1", session.ServerID)
	assert.Equal(t, 2026, session.StartedAt.Year())
}

func TestServers(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/servers":
			w.Write([]byte(`[{"id":"de-1","name":"Frankfurt","country":"DE","region":"europe","latency":20,"load":55,"premium":true}]`))
		case "/api/servers/regions":
			w.Write([]byte(`[{"id":"us-1","name":"New York","region":"americas"}]`))
		}
	})

	servers, err := c.Servers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, 55, servers[0].Load)
	assert.True(t, servers[0].Premium)

	regions, err := c.RegionServers(context.Background())
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "americas", regions[0].Region)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "://bad"})
	assert.Error(t, err)
}

func TestRequestIDFromContext(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("X-Request-ID"))
		mu.Unlock()
		w.Write([]byte(`{}`))
	})

	_, err := c.UpdateFields(WithRequestID(context.Background(), "update-42"), map[string]any{"killSwitch": true})
	require.NoError(t, err)
	_, err = c.UpdateFields(context.Background(), map[string]any{"killSwitch": false})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, "update-42", seen[0])
	assert.NotEmpty(t, seen[1])
	assert.NotEqual(t, "update-42", seen[1])
}

func TestErrorDetailKeepsWholeRunes(t *testing.T) {
	detail := strings.Repeat("é", 300)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(detail))
	})

	_, err := c.GetSettings(context.Background())
	var transportErr *pkgerrors.TransportError
	require.True(t, errors.As(err, &transportErr))
	require.Error(t, transportErr.Err)

	msg := transportErr.Err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, strings.Repeat("é", 256), msg)
}
