package jsonapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSendsBasicAuthAndQuery(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [{"type": "file", "id": "1"}]}`))
	}))
	defer srv.Close()

	client := New(Options{Username: "alice", Password: "secret", VerifyTLS: true})
	doc, err := client.Fetch(context.Background(), srv.URL, url.Values{"limit": {"1000"}})
	require.NoError(t, err)
	require.Len(t, doc.Data, 1)

	assert.Contains(t, gotAuth, "Basic ")
	assert.Equal(t, "limit=1000", gotQuery)
}

func TestSubmitPostsFormBody(t *testing.T) {
	var gotMethod, gotBody, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseForm())
		gotBody = r.PostForm.Get("command")
		_, _ = w.Write([]byte(`{"data": [{"type": "stream_http", "id": "s1"}]}`))
	}))
	defer srv.Close()

	client := New(Options{VerifyTLS: true})
	doc, err := client.Submit(context.Background(), srv.URL, nil, url.Values{"command": {"stream"}})
	require.NoError(t, err)
	require.Len(t, doc.Data, 1)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, "stream", gotBody)
}

func TestFetchFailuresSurfaceAsTransportError(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		client := New(Options{VerifyTLS: true})
		_, err := client.Fetch(context.Background(), "http://127.0.0.1:1/api/", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTransport))
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusForbidden)
		}))
		defer srv.Close()

		client := New(Options{VerifyTLS: true})
		_, err := client.Fetch(context.Background(), srv.URL, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTransport))

		var reqErr *RequestError
		require.True(t, errors.As(err, &reqErr))
		assert.Equal(t, http.StatusForbidden, reqErr.Status)
	})

	t.Run("non-decodable body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>not json</html>"))
		}))
		defer srv.Close()

		client := New(Options{VerifyTLS: true})
		_, err := client.Fetch(context.Background(), srv.URL, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTransport))
	})
}

func TestFetchMalformedPayloadIsParseErrorNotTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"id": "no-type"}}`))
	}))
	defer srv.Close()

	client := New(Options{VerifyTLS: true})
	_, err := client.Fetch(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResource))
	assert.False(t, errors.Is(err, ErrTransport))
}

func TestFetchAppendsQueryToURLWithExistingQuery(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := New(Options{VerifyTLS: true})
	_, err := client.Fetch(context.Background(), srv.URL+"/api?page=2", url.Values{"limit": {"10"}})
	require.NoError(t, err)

	assert.Equal(t, "2", gotQuery.Get("page"))
	assert.Equal(t, "10", gotQuery.Get("limit"))
}
