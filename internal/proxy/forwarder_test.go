package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/routes"
)

func backendRule(backendURL string) *routes.Rule {
	return &routes.Rule{
		Method:   "GET",
		Path:     "/v1/quote",
		ToolID:   "quote",
		Price:    "0.01",
		Provider: routes.Provider{ID: "quotes", BackendURL: backendURL},
	}
}

func TestForwardBasics(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, `{"qty":1}`, string(body))
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"q":42}`))
	}))
	defer srv.Close()

	f := NewForwarder(srv.Client())
	result, err := f.Forward(context.Background(), backendRule(srv.URL),
		"POST", "/v1/orders", "limit=5", http.Header{"Content-Type": {"application/json"}}, []byte(`{"qty":1}`))
	require.NoError(t, err)

	require.Equal(t, "/v1/orders", got.URL.Path)
	require.Equal(t, "limit=5", got.URL.RawQuery)
	require.Equal(t, http.StatusCreated, result.Status)
	require.Equal(t, `{"q":42}`, string(result.Body))
	require.Equal(t, "yes", result.Header.Get("X-Upstream"))

	sum := sha256.Sum256([]byte(`{"q":42}`))
	require.Equal(t, hex.EncodeToString(sum[:]), result.ResponseHash)
}

func TestForwardStripsInternalAndHopByHop(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	in := http.Header{}
	in.Set("X-Payment", "base64payment")
	in.Set("X-Mandate", "base64mandate")
	in.Set("X-Mandate-Confirm", "yes")
	in.Set("X-Request-Idempotency-Key", "key-1")
	in.Set("X-Receipt", "r")
	in.Set("X-Agent-Address", "0xabc")
	in.Set("X-Api-Key", "gw-key")
	in.Set("Authorization", "Bearer gw-token")
	in.Set("Connection", "keep-alive")
	in.Set("Transfer-Encoding", "chunked")
	in.Set("Proxy-Authorization", "Basic x")
	in.Set("Accept", "application/json")
	in.Set("User-Agent", "agent/1.0")

	f := NewForwarder(srv.Client())
	_, err := f.Forward(context.Background(), backendRule(srv.URL), "GET", "/v1/quote", "", in, nil)
	require.NoError(t, err)

	for _, name := range []string{
		"X-Payment", "X-Mandate", "X-Mandate-Confirm", "X-Request-Idempotency-Key",
		"X-Receipt", "X-Agent-Address", "X-Api-Key", "Authorization",
		"Transfer-Encoding", "Proxy-Authorization",
	} {
		require.Empty(t, got.Get(name), "header %s leaked upstream", name)
	}
	require.Equal(t, "application/json", got.Get("Accept"))
	require.Equal(t, "agent/1.0", got.Get("User-Agent"))
}

func TestForwardInjectsProviderAuth(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	rule := backendRule(srv.URL)
	rule.Provider.Auth = &routes.ProviderAuth{Header: "X-Provider-Key", Value: "sk_live"}

	in := http.Header{}
	in.Set("Authorization", "Bearer gateway-token")

	f := NewForwarder(srv.Client())
	_, err := f.Forward(context.Background(), rule, "GET", "/v1/quote", "", in, nil)
	require.NoError(t, err)

	require.Equal(t, "sk_live", got.Get("X-Provider-Key"))
	require.Empty(t, got.Get("Authorization"))
}

func TestForwardJoinsMultiValueHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	in := http.Header{"Accept": {"application/json", "text/plain"}}

	f := NewForwarder(srv.Client())
	_, err := f.Forward(context.Background(), backendRule(srv.URL), "GET", "/v1/quote", "", in, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"application/json, text/plain"}, got.Values("Accept"))
}

func TestForwardUpstreamNon2xxIsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer srv.Close()

	f := NewForwarder(srv.Client())
	result, err := f.Forward(context.Background(), backendRule(srv.URL), "GET", "/v1/quote", "", http.Header{}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusTeapot, result.Status)
}

func TestForwardTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := NewForwarder(http.DefaultClient)
	_, err := f.Forward(context.Background(), backendRule(url), "GET", "/v1/quote", "", http.Header{}, nil)
	require.Error(t, err)

	var upstream *ErrUpstream
	require.True(t, errors.As(err, &upstream))
}
