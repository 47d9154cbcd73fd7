package cloud

import (
	"errors"
	"io"
	"sync"

	"github.com/rescale/dndupload/internal/constants"
)

var errNotSeekable = errors.New("reader does not support seeking")

// ProgressReader wraps a file body and reports the fraction read through a
// ProgressCallback. It seeks when the underlying reader does, so SDKs can
// rewind it for signing or retries; the reported fraction never goes back.
type ProgressReader struct {
	r        io.Reader
	total    int64
	callback ProgressCallback

	mu       sync.Mutex
	read     int64
	reported float64
}

// NewProgressReader reports progress over total bytes read from r.
// A nil callback makes it a plain pass-through.
func NewProgressReader(r io.Reader, total int64, callback ProgressCallback) *ProgressReader {
	return &ProgressReader{r: r, total: total, callback: callback, reported: -1}
}

// Read reads from the underlying reader.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.advance(int64(n))
	}
	return n, err
}

// Seek rewinds or moves the underlying reader if it supports seeking.
func (pr *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	s, ok := pr.r.(io.Seeker)
	if !ok {
		return 0, errNotSeekable
	}
	pos, err := s.Seek(offset, whence)
	if err == nil {
		pr.mu.Lock()
		pr.read = pos
		pr.mu.Unlock()
	}
	return pos, err
}

// Report emits the first event (0) without reading.
func (pr *ProgressReader) Report() {
	pr.advance(0)
}

func (pr *ProgressReader) advance(n int64) {
	if pr.callback == nil {
		return
	}

	pr.mu.Lock()
	pr.read += n
	fraction := 1.0
	if pr.total > 0 {
		fraction = float64(pr.read) / float64(pr.total)
	}
	if fraction > 1 {
		fraction = 1
	}
	// Report at most once per step, plus the final 100%.
	emit := fraction > pr.reported &&
		(fraction-pr.reported >= constants.ProgressReportStep || fraction == 1 || pr.reported < 0)
	if emit {
		pr.reported = fraction
	}
	pr.mu.Unlock()

	if emit {
		pr.callback(fraction)
	}
}
