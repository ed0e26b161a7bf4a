package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostJSONSendsBodyAndAuthHeader(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(2 * time.Second)
	data, status, err := c.PostJSON(context.Background(), srv.URL, []byte(`{"a":1}`), "tok-123")

	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, `{"ok":true}`, string(data))
	require.Equal(t, "Bearer tok-123", gotAuth)
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, `{"a":1}`, string(gotBody))
}

func TestPostJSONOmitsAuthHeaderWhenTokenEmpty(t *testing.T) {
	var sawHeader bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHeader = r.Header["Authorization"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(time.Second)
	_, _, err := c.PostJSON(context.Background(), srv.URL, []byte(`{}`), "")
	require.NoError(t, err)
	require.False(t, sawHeader)
}
