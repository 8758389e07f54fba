// Package archive stores accepted frames as JPEG files for later review.
package archive

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/logger"
	"github.com/2025-SMHRD-SW-BigData/DevMour/pkg/types"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Archive writes frames to <basePath>/<yyyymmdd>/<source>_<hhmmss>_<id>.jpg.
// Frames submitted with detections also get an <id>_annotated.jpg copy.
type Archive struct {
	mu           sync.RWMutex
	basePath     string
	quality      int
	running      bool
	frameCount   uint64
	annotated    uint64
	bytesWritten uint64
	dropped      uint64
	writeErrors  uint64
	lastFile     string
	startTime    time.Time
	frameChan    chan entry
	done         chan struct{}
	wg           sync.WaitGroup
}

type entry struct {
	frame      *types.Frame
	analysisID string
	annotate   bool
	detections []types.FusedDetection
}

// New creates an archive rooted at basePath. quality is the JPEG quality (1-100).
func New(basePath string, quality int) *Archive {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &Archive{
		basePath: basePath,
		quality:  quality,
	}
}

// Start starts the background writer
func (a *Archive) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return errors.New("archive already running")
	}
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return errors.Wrap(err, "create archive directory")
	}

	a.running = true
	a.startTime = time.Now()
	a.frameChan = make(chan entry, 16)
	a.done = make(chan struct{})

	a.wg.Add(1)
	go a.writeFrames(a.frameChan, a.done)

	logger.Info("Archive", "writing frames to %s", a.basePath)
	return nil
}

// Stop stops the writer after draining queued frames
func (a *Archive) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return errors.New("archive not running")
	}
	a.running = false
	close(a.done)
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}

// Submit queues a frame (non-blocking). Returns false when not running or the queue is full.
func (a *Archive) Submit(frame *types.Frame, analysisID string) bool {
	return a.enqueue(entry{frame: frame, analysisID: analysisID})
}

// SubmitAnnotated queues a frame together with its fused detections. The raw frame and
// an annotated copy are both written.
func (a *Archive) SubmitAnnotated(frame *types.Frame, analysisID string, detections []types.FusedDetection) bool {
	return a.enqueue(entry{frame: frame, analysisID: analysisID, annotate: true, detections: detections})
}

func (a *Archive) enqueue(e entry) bool {
	frame := e.frame
	if frame == nil || frame.Image == nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}

	select {
	case a.frameChan <- e:
		return true
	default:
		a.dropped++
		logger.Warn("Archive", "queue full, dropping frame of %s", frame.SourceID)
		return false
	}
}

// writeFrames consumes the queue until done is closed, then drains it
func (a *Archive) writeFrames(frames <-chan entry, done <-chan struct{}) {
	defer a.wg.Done()

	for {
		select {
		case e := <-frames:
			a.writeFrame(e)
		case <-done:
			for {
				select {
				case e := <-frames:
					a.writeFrame(e)
				default:
					return
				}
			}
		}
	}
}

// writeFrame encodes and stores one frame and, when requested, its annotated copy
func (a *Archive) writeFrame(e entry) {
	ts := e.frame.CapturedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	dir := filepath.Join(a.basePath, ts.Format("20060102"))
	base := fmt.Sprintf("%s_%s_%s", sanitize(e.frame.SourceID), ts.Format("150405"), e.analysisID)

	path := filepath.Join(dir, base+".jpg")
	n, err := a.writeJPEG(dir, path, e.frame.Image)
	a.recordWrite(path, n, err, false)
	if err != nil || !e.annotate {
		return
	}

	path = filepath.Join(dir, base+"_annotated.jpg")
	n, err = a.writeJPEG(dir, path, Annotate(e.frame.Image, e.detections))
	a.recordWrite(path, n, err, true)
}

func (a *Archive) writeJPEG(dir, path string, img image.Image) (int, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(a.quality)); err != nil {
		return 0, errors.Wrap(err, "encode jpeg")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrap(err, "create day directory")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}

func (a *Archive) recordWrite(path string, n int, err error, annotated bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.writeErrors++
		logger.Error("Archive", "failed to write %s: %v", path, err)
		return
	}
	if annotated {
		a.annotated++
	} else {
		a.frameCount++
	}
	a.bytesWritten += uint64(n)
	a.lastFile = path
}

func sanitize(id string) string {
	s := unsafeChars.ReplaceAllString(id, "_")
	if s == "" {
		return "frame"
	}
	if len(s) > 64 {
		s = s[len(s)-64:]
	}
	return s
}

// IsRunning returns true if the writer is active
func (a *Archive) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Status returns the archive counters
func (a *Archive) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return Status{
		Running:      a.running,
		BasePath:     a.basePath,
		LastFile:     a.lastFile,
		FrameCount:   a.frameCount,
		Annotated:    a.annotated,
		BytesWritten: a.bytesWritten,
		Dropped:      a.dropped,
		WriteErrors:  a.writeErrors,
		StartTime:    a.startTime,
	}
}

// Status holds the archive counters
type Status struct {
	Running      bool      `json:"running"`
	BasePath     string    `json:"base_path"`
	LastFile     string    `json:"last_file"`
	FrameCount   uint64    `json:"frame_count"`
	Annotated    uint64    `json:"annotated_count"`
	BytesWritten uint64    `json:"bytes_written"`
	Dropped      uint64    `json:"dropped"`
	WriteErrors  uint64    `json:"write_errors"`
	StartTime    time.Time `json:"start_time"`
}
