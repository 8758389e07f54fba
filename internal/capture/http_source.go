package capture

import (
	"context"
	"image"
	_ "image/jpeg" // JPEG decoder registration
	_ "image/png"  // PNG decoder registration
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	_ "golang.org/x/image/webp" // CCTV gateways serve WebP snapshots
)

// maxSnapshotBytes bounds a single snapshot body
const maxSnapshotBytes = 32 << 20

// HTTPSource fetches a still from a snapshot URL. Every call is a full reload:
// the request carries a per-attempt cache-busting parameter and no-cache headers.
type HTTPSource struct {
	id     string
	url    string
	client *http.Client
	seq    atomic.Uint64
}

// NewHTTPSource returns a source for the given snapshot URL
func NewHTTPSource(id, snapshotURL string, timeout time.Duration) *HTTPSource {
	if id == "" {
		id = snapshotURL
	}
	return &HTTPSource{
		id:     id,
		url:    snapshotURL,
		client: &http.Client{Timeout: timeout},
	}
}

// ID returns the source identifier
func (s *HTTPSource) ID() string {
	return s.id
}

// Capture downloads and decodes one snapshot. HTTP 204 yields a nil image.
func (s *HTTPSource) Capture(ctx context.Context) (image.Image, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid snapshot url %q", s.url)
	}
	q := u.Query()
	q.Set("_reload", strconv.FormatInt(time.Now().UnixNano(), 36)+"-"+strconv.FormatUint(s.seq.Add(1), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build snapshot request")
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("snapshot request returned %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return img, nil
}
