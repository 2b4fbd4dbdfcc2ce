package bunny

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/kc-zone/images/2026/10/blues-night.png", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("AccessKey"))
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient("kc-zone", "secret", "https://kc.b-cdn.net/", WithStorageURL(srv.URL+"/"), WithRateLimit(0))
	url, err := c.Upload(context.Background(), "/images/2026/10/blues-night.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://kc.b-cdn.net/images/2026/10/blues-night.png", url)
	assert.Equal(t, []byte("png"), gotBody)
}

func TestUpload_Rejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"Message":"Unauthorized"}`))
	}))
	defer srv.Close()

	c := NewClient("kc-zone", "wrong", "https://kc.b-cdn.net", WithStorageURL(srv.URL))
	_, err := c.Upload(context.Background(), "a.png", []byte("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestUpload_MissingCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewClient("", "", "").Upload(context.Background(), "a.png", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access key are required")
}
