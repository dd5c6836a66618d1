package filesend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"privchat-sdk/internal/transport"
)

// HTTPUploader performs the client-side half of the multipart upload
// flow: a "file" form field, an "X-Upload-Token" header carrying the
// token obtained via file/request_upload_token. The whole multipart body
// is assembled in memory before the POST; it is not streamed from disk.
type HTTPUploader struct {
	Client *http.Client
	// BaseURL roots the file API's GET endpoints (FileURL); empty means no
	// file API was configured and only token-addressed uploads work.
	BaseURL string
	tr      transport.Transport
}

// NewHTTPUploader builds an uploader that requests tokens over tr and
// performs the HTTP multipart POST with client. baseURL may be empty when
// the deployment has no file API (uploads then rely solely on the URLs
// carried inside upload tokens).
func NewHTTPUploader(tr transport.Transport, client *http.Client, baseURL string) *HTTPUploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUploader{Client: client, BaseURL: baseURL, tr: tr}
}

// RequestToken calls file/request_upload_token.
func (u *HTTPUploader) RequestToken(ctx context.Context, kind, mime string, size int64) (UploadTokenResponse, error) {
	params, err := json.Marshal(struct {
		Kind string `json:"kind"`
		Mime string `json:"mime"`
		Size int64  `json:"size"`
	}{kind, mime, size})
	if err != nil {
		return UploadTokenResponse{}, fmt.Errorf("filesend: marshal token request: %w", err)
	}
	raw, err := u.tr.Request(ctx, transport.MethodFileRequestUploadToken, params)
	if err != nil {
		return UploadTokenResponse{}, err
	}
	var resp UploadTokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return UploadTokenResponse{}, fmt.Errorf("filesend: unmarshal token response: %w", err)
	}
	return resp, nil
}

// UploadFile sends filePath's contents to uploadURL as a multipart POST with
// token in the X-Upload-Token header, returning the server's parsed
// UploadResponse.
func (u *HTTPUploader) UploadFile(ctx context.Context, uploadURL, token, filePath string) (UploadResponse, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("filesend: open upload body: %w", err)
	}
	defer f.Close()
	return u.uploadReader(ctx, uploadURL, token, filepath.Base(filePath), f)
}

// UploadBytes uploads an in-memory payload (used for every thumbnail:
// generated, hook-produced, or the constant placeholder).
func (u *HTTPUploader) UploadBytes(ctx context.Context, uploadURL, token, filename string, data []byte) (UploadResponse, error) {
	return u.uploadReader(ctx, uploadURL, token, filename, bytes.NewReader(data))
}

func (u *HTTPUploader) uploadReader(ctx context.Context, uploadURL, token, filename string, body io.Reader) (UploadResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("filesend: create multipart field: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return UploadResponse{}, fmt.Errorf("filesend: write multipart body: %w", err)
	}
	if err := w.Close(); err != nil {
		return UploadResponse{}, fmt.Errorf("filesend: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &buf)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("filesend: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Upload-Token", token)

	resp, err := u.Client.Do(req)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("filesend: upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return UploadResponse{}, fmt.Errorf("filesend: upload rejected: %w", echo.NewHTTPError(resp.StatusCode, string(data)))
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResponse{}, fmt.Errorf("filesend: decode upload response: %w", err)
	}
	return out, nil
}
