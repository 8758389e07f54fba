package capture

import (
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceReloadsEveryAttempt(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Query().Get("_reload")] = true
		mu.Unlock()
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		assert.Equal(t, "1", r.URL.Query().Get("cam"), "original query is preserved")
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, gray(100))
	}))
	defer srv.Close()

	src := NewHTTPSource("cctv-1", srv.URL+"/snapshot?cam=1", time.Second)
	assert.Equal(t, "cctv-1", src.ID())

	for i := 0; i < 3; i++ {
		img, err := src.Capture(context.Background())
		require.NoError(t, err)
		require.NotNil(t, img)
		assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())
	}
	assert.Len(t, seen, 3, "each attempt uses a distinct cache-busting token")
}

func TestHTTPSourceNoContentMeansNoFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	img, err := NewHTTPSource("", srv.URL, time.Second).Capture(context.Background())
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestHTTPSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/garbage" {
			_, _ = w.Write([]byte("<html>loading...</html>"))
			return
		}
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPSource("", srv.URL, time.Second).Capture(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	_, err = NewHTTPSource("", srv.URL+"/garbage", time.Second).Capture(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode snapshot")
}

func TestHTTPSourceDefaultsIDToURL(t *testing.T) {
	src := NewHTTPSource("", "http://cctv.local/snap.jpg", time.Second)
	assert.Equal(t, "http://cctv.local/snap.jpg", src.ID())
}
