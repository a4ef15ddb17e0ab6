package authority

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posync/internal/pos"
)

func createTestServer(t *testing.T) (*Client, *Store) {
	t.Helper()
	a, _, _ := createTestAuthority(t)
	srv := httptest.NewServer(NewServer(a))
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: time.Second, Retries: 1, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	return c, a
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := createTestServer(t)

	require.NoError(t, c.Health(ctx))

	cat, err := c.FetchCatalog(ctx, nil)
	require.NoError(t, err)
	require.Len(t, cat.Products, 1)
	assert.Equal(t, "8.5", cat.Products[0].Price.String())
	assert.True(t, cat.AsOf.Equal(t0))

	ack, err := c.SubmitSale(ctx, coffeeSale("s-1", 2))
	require.NoError(t, err)
	assert.False(t, ack.Duplicate)
	assert.Positive(t, ack.AuthorityID)

	dup, err := c.SubmitSale(ctx, coffeeSale("s-1", 2))
	require.NoError(t, err, "a duplicate is an acknowledgment")
	assert.True(t, dup.Duplicate)
	assert.Equal(t, ack.AuthorityID, dup.AuthorityID)

	delta, err := c.FetchCatalog(ctx, &cat.AsOf)
	require.NoError(t, err)
	assert.False(t, delta.Full)
}

func TestClient_RejectionIsConflict(t *testing.T) {
	c, _ := createTestServer(t)
	bad := coffeeSale("s-1", 1)
	bad.PaymentMethod = "barter"

	_, err := c.SubmitSale(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, pos.IsConflict(err))
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	a, _, _ := createTestAuthority(t)
	inner := NewServer(a)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{BaseURL: srv.URL, Retries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	_, err = c.SubmitSale(context.Background(), coffeeSale("s-1", 1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{BaseURL: srv.URL, Retries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	_, err = c.FetchCatalog(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, pos.IsConnectivity(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_UnreachableIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(ClientOptions{BaseURL: url, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, pos.IsConnectivity(c.Health(context.Background())))
}

func TestClient_TimeoutIsConnectivity(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, pos.IsConnectivity(c.Health(context.Background())))
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient(ClientOptions{BaseURL: "not a url"})
	assert.True(t, pos.IsValidation(err))
}

func TestServer_KeyMismatch(t *testing.T) {
	a, _, _ := createTestAuthority(t)
	srv := httptest.NewServer(NewServer(a))
	defer srv.Close()

	c, err := NewClient(ClientOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.submit(context.Background(), "/sales", "other-key", coffeeSale("s-1", 1))
	assert.True(t, pos.IsConflict(err))
}
