package filesend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
)

// FileURLResponse is the time-limited download grant returned by the file
// API's url endpoint.
type FileURLResponse struct {
	FileURL         string `json:"file_url"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	ExpiresAt       int64  `json:"expires_at,omitempty"`
	StorageSourceID int    `json:"storage_source_id,omitempty"`
}

// FileURL resolves fileID to a time-limited download URL via
// GET <base>/api/app/files/<file_id>/url?user_id=<uid>. BaseURL must have
// been configured; without a file API there is nothing to resolve against.
func (u *HTTPUploader) FileURL(ctx context.Context, fileID, userID string) (FileURLResponse, error) {
	if u.BaseURL == "" {
		return FileURLResponse{}, fmt.Errorf("filesend: file api base url not configured")
	}
	endpoint := fmt.Sprintf("%s/api/app/files/%s/url?user_id=%s",
		u.BaseURL, url.PathEscape(fileID), url.QueryEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FileURLResponse{}, fmt.Errorf("filesend: build file url request: %w", err)
	}
	resp, err := u.Client.Do(req)
	if err != nil {
		return FileURLResponse{}, fmt.Errorf("filesend: file url request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return FileURLResponse{}, fmt.Errorf("filesend: file url rejected: %w", echo.NewHTTPError(resp.StatusCode, string(data)))
	}

	var out FileURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return FileURLResponse{}, fmt.Errorf("filesend: decode file url response: %w", err)
	}
	return out, nil
}
