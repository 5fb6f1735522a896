package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"edgemesh/pkg/fabricerr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Invoke(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/lambda", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Response{ID: got.ID, RetCode: RetOK, Output: "echo " + got.Input, Hops: got.Hops})
	}))
	defer srv.Close()

	c := NewHTTPClient(0)
	req := Request{ID: uuid.New(), Name: "clambda0", Input: "hello", Forward: true, Hops: 2}

	resp, err := c.Invoke(context.Background(), srv.URL, req)
	require.NoError(t, err)
	assert.Equal(t, req, got)
	assert.Equal(t, "echo hello", resp.Output)
	assert.Equal(t, uint32(2), resp.Hops)

	resp, err = c.Execute(context.Background(), srv.URL+"/", req)
	require.NoError(t, err)
	assert.Equal(t, RetOK, resp.RetCode)
}

func TestHTTPClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	c := NewHTTPClient(0)

	_, err := c.Invoke(context.Background(), srv.URL, Request{Name: "f"})
	assert.ErrorIs(t, err, fabricerr.ErrMalformedMessage)

	_, err = c.Invoke(context.Background(), "", Request{Name: "f"})
	assert.ErrorIs(t, err, fabricerr.ErrConfiguration)

	srv.Close()
	_, err = c.Invoke(context.Background(), srv.URL, Request{Name: "f"})
	assert.ErrorIs(t, err, fabricerr.ErrTransport)
}

func TestHTTPClient_ServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(0).Execute(context.Background(), srv.URL, Request{Name: "f"})
	assert.ErrorIs(t, err, fabricerr.ErrTransport)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:6473", BaseURL("10.0.0.1:6473"))
	assert.Equal(t, "https://edge.example", BaseURL("https://edge.example/"))
}
