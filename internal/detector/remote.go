// Package detector provides object-detection model clients.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

// DefaultTimeout bounds one remote inference call
const DefaultTimeout = 30 * time.Second

// Remote calls a model server that exposes POST <base>/detect
type Remote struct {
	sourceID string
	baseURL  string
	model    string
	client   *http.Client
}

// detectResponse is the model server's reply
type detectResponse struct {
	Detections []struct {
		BBox       []float64 `json:"bbox"`
		Confidence float64   `json:"confidence"`
		ClassID    int       `json:"class_id"`
	} `json:"detections"`
}

// NewRemote creates a client for the model identified by sourceID. The model name
// is sent as the "model" form field so one server can host several weights files.
func NewRemote(sourceID, baseURL, model string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if model == "" {
		model = sourceID
	}
	return &Remote{
		sourceID: sourceID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

// SourceID returns the detector id used for weighting and remapping
func (r *Remote) SourceID() string {
	return r.sourceID
}

// Detect uploads img as JPEG and decodes the returned boxes
func (r *Remote) Detect(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
	if img == nil {
		return nil, errors.New("no image to detect on")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", r.model); err != nil {
		return nil, errors.Wrap(err, "write model field")
	}
	part, err := writer.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, errors.Wrap(err, "create form file")
	}
	if err := imaging.Encode(part, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/detect", body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "detect request to %s", r.sourceID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("model server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, errors.Wrap(err, "decode detect response")
	}

	dets := make([]types.RawDetection, 0, len(dr.Detections))
	for i, d := range dr.Detections {
		if len(d.BBox) != 4 {
			return nil, errors.Errorf("detection %d has %d bbox values, want 4", i, len(d.BBox))
		}
		dets = append(dets, types.RawDetection{
			SourceID:     r.sourceID,
			BBox:         types.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]},
			Confidence:   d.Confidence,
			LocalClassID: d.ClassID,
		})
	}
	logger.Debug("Detector", "%s: %d boxes in %v", r.sourceID, len(dets), time.Since(start))
	return dets, nil
}
