package models

// BlobRequest is the body POSTed to a direct upload endpoint to reserve a blob.
type BlobRequest struct {
	Blob BlobAttributes `json:"blob"`
}

// BlobAttributes describes the file about to be uploaded.
type BlobAttributes struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ByteSize    int64  `json:"byte_size"`
	Checksum    string `json:"checksum"` // base64 MD5 of the content
}

// Blob is the direct upload endpoint's answer: a reserved blob plus the
// short-lived credentials needed to PUT its bytes.
type Blob struct {
	ID           int64                   `json:"id"`
	Key          string                  `json:"key"`
	Filename     string                  `json:"filename"`
	SignedID     string                  `json:"signed_id"`
	DirectUpload DirectUploadCredentials `json:"direct_upload"`
}

// DirectUploadCredentials is the pre-signed target for the byte transfer.
type DirectUploadCredentials struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}
