// Package cloud defines the storage backends an upload task can send a file
// to, and the timing instrumentation shared by their implementations.
package cloud

import (
	"context"
	"io"

	"github.com/rescale/dndupload/internal/models"
)

// ProgressCallback is called during transfers to report progress (0.0 to 1.0)
type ProgressCallback func(progress float64)

// UploadParams describes one file transfer.
type UploadParams struct {
	// Required
	File *models.File

	// DirectUploadURL is the blob reservation endpoint rendered on the input.
	// Only the direct backend reads it.
	DirectUploadURL string

	// Optional: Called with values from 0.0 to 1.0
	ProgressCallback ProgressCallback

	// Optional: status messages
	OutputWriter io.Writer
}

// UploadResult identifies the stored file.
type UploadResult struct {
	// Key is the object key (S3), blob name (Azure) or blob key (direct)
	Key string

	// Location is a URL or bucket-qualified path for the stored object
	Location string

	// SignedID is the token a form submits to attach a direct upload.
	// Empty for the other backends.
	SignedID string

	// ServerID is the id the server assigned to the blob, if any
	ServerID string

	Size int64
}

// Uploader sends one file to a storage backend. Implementations must be
// safe to call from the goroutine a task starts for its transfer.
type Uploader interface {
	// Reserve runs the steps that identify the upload before any bytes are
	// sent. It may return an empty ServerID; Upload must accept a nil
	// reservation.
	Reserve(ctx context.Context, params UploadParams) (*Reservation, error)

	// Upload transfers the file bytes.
	Upload(ctx context.Context, params UploadParams, reservation *Reservation) (*UploadResult, error)

	// Backend returns the backend name ("direct", "s3" or "azure").
	Backend() string
}

// Reservation is what a backend learned before transferring bytes.
type Reservation struct {
	ServerID string
	Key      string
	SignedID string

	// UploadURL and Headers describe where the bytes go (direct backend)
	UploadURL string
	Headers   map[string]string
}
