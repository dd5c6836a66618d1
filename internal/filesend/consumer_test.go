package filesend

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/kv"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/transport"
)

type fakeStore struct {
	mu     sync.Mutex
	status map[int64]model.MessageStatus
}

func newFakeStore() *fakeStore { return &fakeStore{status: make(map[int64]model.MessageStatus)} }

func (f *fakeStore) UpdateStatus(_ context.Context, id int64, status model.MessageStatus, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = status
	return nil
}

func (f *fakeStore) UpdateSendResult(_ context.Context, id int64, _, _ uint64, status model.MessageStatus, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = status
	return nil
}

func (f *fakeStore) get(id int64) model.MessageStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[id]
}

// fakeTransport services the token, upload-callback, and send RPCs the
// pipeline issues.
type fakeTransport struct {
	uploadURL string
}

func (t *fakeTransport) Request(_ context.Context, method string, _ []byte) ([]byte, error) {
	switch method {
	case transport.MethodFileRequestUploadToken:
		return json.Marshal(UploadTokenResponse{Token: "tok", UploadURL: t.uploadURL})
	case transport.MethodFileUploadCallback:
		return []byte(`{}`), nil
	case transport.MethodMessageSend:
		return json.Marshal(struct {
			ServerMessageID uint64 `json:"server_message_id"`
			Pts             uint64 `json:"pts"`
		}{ServerMessageID: 55, Pts: 1})
	}
	return nil, nil
}
func (t *fakeTransport) Subscribe(func(transport.PushMessage)) func() { return func() {} }
func (t *fakeTransport) State() transport.ConnState                  { return transport.StateConnected }
func (t *fakeTransport) Close() error                                { return nil }

func writeTestJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 100, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create test jpeg: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
}

func TestFileSendConsumerImagePipeline(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	uid := "u1"
	msgID := int64(7)
	msgDir := filepath.Join(dataDir, "users", uid, "files", time.Now().UTC().Format("200601"), "7")
	if err := os.MkdirAll(msgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeTestJPEG(t, filepath.Join(msgDir, "photo.jpg"), 2000, 1000)

	meta := Meta{Source: SourceMeta{OriginalFilename: "photo.jpg", Mime: "image/jpeg", Width: 2000, Height: 1000}}
	raw, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(msgDir, "meta.json"), raw, 0o644); err != nil {
		t.Fatalf("write meta.json: %v", err)
	}

	var uploadCount int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Upload-Token") != "tok" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		mu.Lock()
		uploadCount++
		n := uploadCount
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(UploadResponse{FileID: "file-" + string(rune('0'+n)), FileURL: "http://x/file", StorageSourceID: 1})
	}))
	defer srv.Close()

	tr := &fakeTransport{uploadURL: srv.URL}
	up := NewHTTPUploader(tr, srv.Client(), srv.URL)
	st, err := kv.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	defer st.Close()
	q := NewQueue(st.Tree(uid))

	fs := newFakeStore()
	bus := events.New(8)
	defer bus.Close()

	task := model.FileSendTask{
		SendTask: model.SendTask{
			TaskID:     "ft-1",
			ID:         msgID,
			ChannelID:  1,
			Priority:   model.PriorityNormal,
			Status:     model.TaskPending,
			CreatedAt:  time.Now().Unix(),
			MaxRetries: model.PriorityNormal.MaxRetries(),
			TimeoutAt:  time.Now().Add(model.PriorityNormal.Timeout()).Unix(),
			MessageData: model.MessageData{
				ChannelID:   1,
				ChannelType: model.ChannelTypeDirect,
				MessageType: "image",
			},
		},
		OriginalFilename: "photo.jpg",
		Mime:             "image/jpeg",
		MessageType:      model.FileMessageImage,
		NeedsThumbnail:   true,
	}
	if err := q.Push(uid, task); err != nil {
		t.Fatalf("push: %v", err)
	}

	cfg := Config{DataDir: dataDir, UID: uid, ImageSendMaxEdge: 800, Workers: 1, PollInterval: 10 * time.Millisecond}
	c := New(cfg, q, up, tr, fs, bus)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	deadline := time.After(3 * time.Second)
	for fs.get(msgID) != model.StatusSent {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for send, last status=%s", fs.get(msgID))
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	c.Shutdown()

	if q.Len() != 0 {
		t.Fatalf("expected task removed from queue, len=%d", q.Len())
	}

	tmpDir := filepath.Join(dataDir, "users", uid, "files", "tmp", time.Now().UTC().Format("20060102"))

	body, err := os.ReadFile(filepath.Join(tmpDir, "7_body.jpg"))
	if err != nil {
		t.Fatalf("expected resized body file to exist: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("resized body file is empty")
	}

	thumbFile, err := os.Open(filepath.Join(tmpDir, "7_thumb.jpg"))
	if err != nil {
		t.Fatalf("expected thumbnail file to exist: %v", err)
	}
	defer thumbFile.Close()
	thumbImg, err := jpeg.Decode(thumbFile)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	bounds := thumbImg.Bounds()
	longEdge := bounds.Dx()
	if bounds.Dy() > longEdge {
		longEdge = bounds.Dy()
	}
	if longEdge != thumbnailMaxEdge {
		t.Fatalf("thumbnail long edge = %d, want %d", longEdge, thumbnailMaxEdge)
	}
}
