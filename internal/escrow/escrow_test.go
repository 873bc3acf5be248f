package escrow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticClientRelease(t *testing.T) {
	c := NewStaticClient()
	tx, err := c.Release(context.Background(), Request{ToWallet: "wallet-1", Amount: 0.1})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tx, "static-"))
}

func TestStaticClientRequiresWallet(t *testing.T) {
	c := NewStaticClient()
	_, err := c.Release(context.Background(), Request{Amount: 0.1})
	assert.Error(t, err)
}

func TestHTTPClientRelease(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transfer", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"signature": "sig-abc"})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	tx, err := c.Release(context.Background(), Request{ToWallet: "wallet-1", Amount: 0.25})
	require.NoError(t, err)
	assert.Equal(t, "sig-abc", tx)
	assert.Equal(t, "wallet-1", gotBody["toWallet"])
	assert.Equal(t, 0.25, gotBody["amount"])
}

func TestHTTPClientReleaseRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient escrow balance", http.StatusConflict)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Release(context.Background(), Request{ToWallet: "wallet-1", Amount: 0.25})
	assert.Error(t, err)
}

func TestHTTPClientReleaseEmptySignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Release(context.Background(), Request{ToWallet: "wallet-1", Amount: 0.25})
	assert.Error(t, err)
}

func TestHTTPClientDoesNotRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Release(context.Background(), Request{ToWallet: "wallet-1", Amount: 0.25})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
