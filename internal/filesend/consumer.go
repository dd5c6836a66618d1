package filesend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/store"
	"privchat-sdk/internal/transport"
)

// ThumbnailHook lets the embedding application produce a video thumbnail
// client-side; when nil, the consumer falls back to the constant
// placeholder PNG.
type ThumbnailHook func(ctx context.Context, t model.FileSendTask, sourcePath string) (data []byte, mime string, err error)

// Config configures one user's FileSendConsumer.
type Config struct {
	DataDir           string
	UID               string
	ImageSendMaxEdge  int // 0 = send at original resolution
	Workers           int
	PollInterval      time.Duration
	ThumbnailHook     ThumbnailHook
}

// DefaultConfig mirrors sendconsumer's worker-count/poll-interval
// defaults; file uploads are comparatively expensive so this pipeline
// runs fewer workers by default.
func DefaultConfig() Config {
	return Config{Workers: 2, PollInterval: 200 * time.Millisecond}
}

// Store is the subset of *store.Store the consumer touches.
type Store interface {
	UpdateStatus(ctx context.Context, id int64, status model.MessageStatus, updatedAt int64) error
	UpdateSendResult(ctx context.Context, id int64, serverMessageID, pts uint64, status model.MessageStatus, updatedAt int64) error
}

var _ Store = (*store.Store)(nil)

// Consumer runs the attachment upload pipeline for tasks popped from a
// Queue: read meta.json, resize, upload thumbnail, upload body, compose
// content, dispatch the send RPC.
type Consumer struct {
	cfg      Config
	queue    *Queue
	uploader *HTTPUploader
	tr       transport.Transport
	store    Store
	bus      *events.Bus

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Consumer.
func New(cfg Config, queue *Queue, uploader *HTTPUploader, tr transport.Transport, st Store, bus *events.Bus) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Consumer{cfg: cfg, queue: queue, uploader: uploader, tr: tr, store: st, bus: bus, stop: make(chan struct{})}
}

// Start launches cfg.Workers goroutines polling the queue.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx)
	}
}

// Shutdown stops every worker after its current task completes.
func (c *Consumer) Shutdown() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Consumer) workerLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t, ok, err := c.queue.Pop(c.cfg.UID)
			if err != nil {
				slog.Error("filesend: pop failed", "err", err)
				continue
			}
			if !ok {
				continue
			}
			c.process(ctx, t)
		}
	}
}

// messageDir is <data_dir>/users/<uid>/files/<yyyymm>/<message_id>.
func (c *Consumer) messageDir(t model.FileSendTask) string {
	yyyymm := time.Unix(t.CreatedAt, 0).UTC().Format("200601")
	return filepath.Join(c.cfg.DataDir, "users", c.cfg.UID, "files", yyyymm, fmt.Sprint(t.ID))
}

func (c *Consumer) tmpDir() string {
	yyyymmdd := time.Now().UTC().Format("20060102")
	return filepath.Join(c.cfg.DataDir, "users", c.cfg.UID, "files", "tmp", yyyymmdd)
}

func (c *Consumer) process(ctx context.Context, t model.FileSendTask) {
	dir := c.messageDir(t)
	metaPath := filepath.Join(dir, "meta.json")

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		c.fail(ctx, t, fmt.Errorf("filesend: read meta.json: %w", err))
		return
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		c.fail(ctx, t, fmt.Errorf("filesend: parse meta.json: %w", err))
		return
	}

	bodyPath, bodyMime, target, err := c.prepareBody(t, dir, meta)
	if err != nil {
		c.fail(ctx, t, err)
		return
	}
	meta.Target = target

	var thumbnailFileID string
	if t.NeedsThumbnail {
		fileID, err := c.uploadThumbnail(ctx, t, dir)
		if err != nil {
			c.fail(ctx, t, err)
			return
		}
		thumbnailFileID = fileID
	}

	bodyResp, err := c.uploadBody(ctx, bodyPath, bodyMime)
	if err != nil {
		c.fail(ctx, t, err)
		return
	}
	if err := c.confirmUpload(ctx, bodyResp); err != nil {
		c.fail(ctx, t, err)
		return
	}

	content := ContentPayload{
		FileID:          bodyResp.FileID,
		ThumbnailFileID: thumbnailFileID,
		MimeType:        meta.Source.Mime,
		Filename:        meta.Source.OriginalFilename,
		StorageSourceID: bodyResp.StorageSourceID,
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		c.fail(ctx, t, fmt.Errorf("filesend: marshal content: %w", err))
		return
	}

	if err := c.dispatchSend(ctx, t, string(contentJSON)); err != nil {
		c.fail(ctx, t, err)
		return
	}

	now := time.Now().UnixMilli()
	_ = c.store.UpdateSendResult(ctx, t.ID, 0, 0, model.StatusSent, now)
	c.bus.Emit(events.Event{
		Type:      events.TypeSendStatusUpdate,
		ChannelID: t.ChannelID,
		SendStatusUpdate: &events.SendStatusUpdate{
			LocalMessageID: t.MessageData.LocalMessageID,
			Phase:          events.SendSent,
		},
	})
	_ = c.queue.RemoveByID(c.cfg.UID, t.TaskID)
}

// prepareBody applies the image-resize rule when applicable, returning
// the path/mime to upload as the body plus the TargetMeta to record.
func (c *Consumer) prepareBody(t model.FileSendTask, dir string, meta Meta) (path, mime string, target *TargetMeta, err error) {
	original := filepath.Join(dir, meta.Source.OriginalFilename)

	if t.MessageType != model.FileMessageImage || c.cfg.ImageSendMaxEdge <= 0 {
		return original, meta.Source.Mime, nil, nil
	}

	if err := os.MkdirAll(c.tmpDir(), 0o755); err != nil {
		return "", "", nil, fmt.Errorf("filesend: create tmp dir: %w", err)
	}
	bodyPath := filepath.Join(c.tmpDir(), fmt.Sprintf("%d_body.jpg", t.ID))

	res, err := resizeLongEdge(original, bodyPath, c.cfg.ImageSendMaxEdge)
	if err != nil {
		return "", "", nil, err
	}
	sendMode, bodyMime := "original", meta.Source.Mime
	if res.Resized {
		sendMode, bodyMime = "resized", "image/jpeg"
	}
	return bodyPath, bodyMime, &TargetMeta{
		SendMode: sendMode,
		Width:    res.Width,
		Height:   res.Height,
		Quality:  jpegQuality,
	}, nil
}

func (c *Consumer) uploadThumbnail(ctx context.Context, t model.FileSendTask, dir string) (string, error) {
	var data []byte
	var mime string

	switch {
	case t.PreUploadedThumbnailFileID != "":
		return t.PreUploadedThumbnailFileID, nil
	case t.MessageType == model.FileMessageImage:
		thumbPath := filepath.Join(c.tmpDir(), fmt.Sprintf("%d_thumb.jpg", t.ID))
		if err := os.MkdirAll(c.tmpDir(), 0o755); err != nil {
			return "", fmt.Errorf("filesend: create tmp dir: %w", err)
		}
		original := filepath.Join(dir, t.OriginalFilename)
		if _, err := resizeLongEdge(original, thumbPath, thumbnailMaxEdge); err != nil {
			return "", fmt.Errorf("filesend: generate thumbnail: %w", err)
		}
		raw, err := os.ReadFile(thumbPath)
		if err != nil {
			return "", fmt.Errorf("filesend: read generated thumbnail: %w", err)
		}
		data, mime = raw, "image/jpeg"
	case c.cfg.ThumbnailHook != nil:
		original := filepath.Join(dir, t.OriginalFilename)
		out, m, err := c.cfg.ThumbnailHook(ctx, t, original)
		if err != nil {
			return "", fmt.Errorf("filesend: thumbnail hook: %w", err)
		}
		data, mime = out, m
	default:
		data, mime = placeholderThumbnailPNG, "image/png"
	}

	tok, err := c.uploader.RequestToken(ctx, "thumbnail", mime, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("filesend: request thumbnail token: %w", err)
	}
	resp, err := c.uploader.UploadBytes(ctx, tok.UploadURL, tok.Token, fmt.Sprintf("%d_thumb", t.ID), data)
	if err != nil {
		return "", fmt.Errorf("filesend: upload thumbnail: %w", err)
	}
	return resp.FileID, nil
}

func (c *Consumer) uploadBody(ctx context.Context, path, mime string) (UploadResponse, error) {
	info, err := os.Stat(path)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("filesend: stat body: %w", err)
	}
	tok, err := c.uploader.RequestToken(ctx, "body", mime, info.Size())
	if err != nil {
		return UploadResponse{}, fmt.Errorf("filesend: request body token: %w", err)
	}
	resp, err := c.uploader.UploadFile(ctx, tok.UploadURL, tok.Token, path)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("filesend: upload body: %w", err)
	}
	return resp, nil
}

// confirmUpload reports the completed body upload back to the server so
// the file record is finalized before any message references it.
func (c *Consumer) confirmUpload(ctx context.Context, resp UploadResponse) error {
	params, err := json.Marshal(struct {
		FileID          string `json:"file_id"`
		FileSize        int64  `json:"file_size"`
		StorageSourceID int    `json:"storage_source_id"`
	}{resp.FileID, resp.FileSize, resp.StorageSourceID})
	if err != nil {
		return fmt.Errorf("filesend: marshal upload callback: %w", err)
	}
	if _, err := c.tr.Request(ctx, transport.MethodFileUploadCallback, params); err != nil {
		return fmt.Errorf("filesend: upload callback: %w", err)
	}
	return nil
}

type sendParams struct {
	ChannelID      uint64 `json:"channel_id"`
	ChannelType    int    `json:"channel_type"`
	MessageType    string `json:"message_type"`
	Content        string `json:"content"`
	LocalMessageID int64  `json:"local_message_id"`
}

func (c *Consumer) dispatchSend(ctx context.Context, t model.FileSendTask, content string) error {
	params, err := json.Marshal(sendParams{
		ChannelID:      t.ChannelID,
		ChannelType:    int(t.MessageData.ChannelType),
		MessageType:    t.MessageData.MessageType,
		Content:        content,
		LocalMessageID: t.MessageData.LocalMessageID,
	})
	if err != nil {
		return fmt.Errorf("filesend: marshal send params: %w", err)
	}
	_, err = c.tr.Request(ctx, transport.MethodMessageSend, params)
	return err
}

// fail marks the task Failed and removes it from the queue without
// retrying. File tasks are fail-fast: a failed step (read, resize,
// upload, dispatch) does not get automatic per-step retry. A thumbnail
// already uploaded before a later step fails is left orphaned on the
// server rather than rolled back.
func (c *Consumer) fail(ctx context.Context, t model.FileSendTask, err error) {
	slog.Warn("filesend: task failed, not retrying", "task_id", t.TaskID, "err", err)
	now := time.Now().UnixMilli()
	_ = c.store.UpdateStatus(ctx, t.ID, model.StatusFailed, now)
	_ = c.queue.RemoveByID(c.cfg.UID, t.TaskID)

	c.bus.Emit(events.Event{
		Type:      events.TypeSendStatusUpdate,
		ChannelID: t.ChannelID,
		SendStatusUpdate: &events.SendStatusUpdate{
			LocalMessageID: t.MessageData.LocalMessageID,
			Phase:          events.SendFailed,
		},
	})
	c.bus.Emit(events.Event{
		Type:      events.TypeMessageSendFailed,
		ChannelID: t.ChannelID,
		MessageSendFailed: &events.MessageSendFailed{
			LocalMessageID: t.MessageData.LocalMessageID,
			Err:            err.Error(),
		},
	})
}
