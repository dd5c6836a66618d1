// Package filesend runs the attachment upload pipeline: reads meta.json,
// applies the image-resize rule, uploads thumbnail and body via HTTP
// multipart, and dispatches the regular message-send RPC with the
// composed content JSON.
package filesend

// SourceMeta describes the original attachment as captured at message
// creation time.
type SourceMeta struct {
	OriginalFilename string `json:"original_filename"`
	Mime             string `json:"mime"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	FileSize         int64  `json:"file_size,omitempty"`
	DurationMs       int64  `json:"duration_ms,omitempty"`
}

// TargetMeta describes the (possibly resized) body actually uploaded.
type TargetMeta struct {
	SendMode string `json:"send_mode,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	Codec    string `json:"codec,omitempty"`
	Quality  int    `json:"quality,omitempty"`
}

// ThumbnailMeta describes the uploaded thumbnail, if any.
type ThumbnailMeta struct {
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	Mime     string `json:"mime,omitempty"`
}

// ProcessingMeta records how the body was produced, for diagnostics.
type ProcessingMeta struct {
	Strategy  string `json:"strategy,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// Meta is the full meta.json document.
type Meta struct {
	Source     SourceMeta      `json:"source"`
	Target     *TargetMeta     `json:"target,omitempty"`
	Thumbnail  *ThumbnailMeta  `json:"thumbnail,omitempty"`
	Processing *ProcessingMeta `json:"processing,omitempty"`
}

// ContentPayload is the JSON dispatched as the message-send RPC's content
// once both uploads complete.
type ContentPayload struct {
	FileID          string `json:"file_id"`
	ThumbnailFileID string `json:"thumbnail_file_id,omitempty"`
	MimeType        string `json:"mime_type"`
	Filename        string `json:"filename"`
	StorageSourceID int    `json:"storage_source_id"`
}

// UploadTokenResponse is the file/request_upload_token RPC result.
type UploadTokenResponse struct {
	Token      string `json:"token"`
	UploadURL  string `json:"upload_url"`
}

// UploadResponse is the HTTP multipart upload's JSON body.
type UploadResponse struct {
	FileID          string  `json:"file_id"`
	FileURL         string  `json:"file_url"`
	ThumbnailURL    string  `json:"thumbnail_url,omitempty"`
	FileSize        int64   `json:"file_size"`
	MimeType        string  `json:"mime_type"`
	StorageSourceID int     `json:"storage_source_id,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	Duration        float64 `json:"duration,omitempty"`
}

// placeholderThumbnailPNG is a constant 67-byte 1x1 transparent PNG,
// embedded for video messages when no client-side thumbnail hook is
// registered.
var placeholderThumbnailPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
