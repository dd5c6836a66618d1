// Package privchat is the root facade wiring the persistence layer, the
// pts manager, the rate limiters, the send/receive queues and their
// consumers, and the sync engine behind one per-user Client. Every
// worker pool it owns runs on a ctx-bound goroutine joined by a
// sync.WaitGroup on Shutdown.
package privchat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/filesend"
	"privchat-sdk/internal/idgen"
	"privchat-sdk/internal/kv"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/pts"
	"privchat-sdk/internal/ratelimit"
	"privchat-sdk/internal/receiveconsumer"
	"privchat-sdk/internal/receivequeue"
	"privchat-sdk/internal/sendconsumer"
	"privchat-sdk/internal/sendqueue"
	"privchat-sdk/internal/store"
	"privchat-sdk/internal/syncengine"
	"privchat-sdk/internal/timefmt"
	"privchat-sdk/internal/transport"
)

// RevokeWindow is how long after sending a message its author may still
// revoke it.
const RevokeWindow = 120 * time.Second

// Client owns one local user's wired-together subsystem graph: the
// transport handle and SQLite connection are exclusively owned here;
// every subsystem below holds only a reference.
type Client struct {
	cfg    Config
	uid    uint64
	uidStr string
	tr     transport.Transport

	store *store.Store
	kv    *kv.Store
	tree  *kv.Tree

	ptsMgr *pts.Manager

	msgLimiter    *ratelimit.MessageRateLimiter
	rpcLimiter    *ratelimit.RpcLimiter
	reconnLimiter *ratelimit.ReconnectLimiter

	sendQueue    *sendqueue.Queue
	sendConsumer *sendconsumer.Consumer

	fileQueue    *filesend.Queue
	fileConsumer *filesend.Consumer
	uploader     *filesend.HTTPUploader

	recvQueue    *receivequeue.Queue
	recvConsumer *receiveconsumer.Consumer

	applier *syncengine.CommitApplier
	sync    *syncengine.Engine

	bus *events.Bus

	timefmt *timefmt.Formatter
	ids     *idgen.Snowflake

	unsubscribePush func()
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// Open wires every subsystem for local user uid: the persistence layer
// and KV store first, then the pts manager and rate limiters, then the
// queues and their consumers, then the sync engine, with the event bus
// threaded through all of them. tr is the caller-supplied Transport;
// Open does not connect it, only subscribes to its push stream.
func Open(ctx context.Context, uid uint64, cfg Config, tr transport.Transport) (*Client, error) {
	uidStr := fmt.Sprintf("%d", uid)

	st, err := store.Open(ctx, cfg.DataDir, uidStr, cfg.AssetsDir)
	if err != nil {
		return nil, NewError(KindDatabase, "open persistence layer", err)
	}
	kvStore, err := kv.Open(cfg.DataDir)
	if err != nil {
		_ = st.Close()
		return nil, NewError(KindKvStore, "open kv store", err)
	}
	tree := kvStore.Tree(uidStr)

	bus := events.New(cfg.Event.BufferCapacity)
	ptsMgr := pts.New(st)

	msgLimiter := ratelimit.NewMessageRateLimiter(ratelimit.DefaultMessageLimiterConfig())
	rpcLimiter := ratelimit.NewRpcLimiter(ratelimit.DefaultRpcLimiterConfig())
	reconnLimiter := ratelimit.NewReconnectLimiter(ratelimit.DefaultReconnectLimiterConfig())

	sendQ := sendqueue.New(tree)
	if err := sendQ.Recover(uidStr); err != nil {
		_ = st.Close()
		_ = kvStore.Close()
		return nil, NewError(KindKvStore, "recover send queue", err)
	}
	sendC := sendconsumer.New(uidStr, sendQ, sendconsumer.NewTransportSender(tr), st, msgLimiter, bus, sendconsumer.Config{
		Workers:      cfg.Queue.SendWorkerCount,
		PollInterval: cfg.Queue.SendPollInterval,
	})

	fileQ := filesend.NewQueue(tree)
	if err := fileQ.Recover(uidStr); err != nil {
		_ = st.Close()
		_ = kvStore.Close()
		return nil, NewError(KindKvStore, "recover file send queue", err)
	}
	httpClient := cfg.HTTPClient.buildClient()
	uploader := filesend.NewHTTPUploader(tr, httpClient, cfg.FileAPIBaseURL)
	fileC := filesend.New(filesend.Config{
		DataDir:          cfg.DataDir,
		UID:              uidStr,
		ImageSendMaxEdge: cfg.ImageSendMaxEdge,
		Workers:          cfg.Queue.SendWorkerCount,
		PollInterval:     cfg.Queue.SendPollInterval,
	}, fileQ, uploader, tr, st, bus)

	recvQ := receivequeue.New(receivequeue.Config{
		BatchMaxSize:         cfg.Queue.BatchMaxSize,
		BatchTimeout:         cfg.Queue.BatchTimeout,
		TimeoutCheckInterval: cfg.Queue.TimeoutCheckInterval,
	})
	recvC := receiveconsumer.New(receiveconsumer.Config{
		Workers:      cfg.Queue.ReceiveWorkerCount,
		PollInterval: cfg.Queue.ReceivePollInterval,
		DBTimeout:    cfg.Queue.DBTimeout,
		LocalUID:     uid,
	}, recvQ, st, ptsMgr, bus)

	applier := syncengine.NewCommitApplier(st, bus)
	syncEngine := syncengine.New(tr, ptsMgr, applier, st, bus)

	c := &Client{
		cfg: cfg, uid: uid, uidStr: uidStr, tr: tr,
		store: st, kv: kvStore, tree: tree,
		ptsMgr:        ptsMgr,
		msgLimiter:    msgLimiter,
		rpcLimiter:    rpcLimiter,
		reconnLimiter: reconnLimiter,
		sendQueue:     sendQ, sendConsumer: sendC,
		fileQueue: fileQ, fileConsumer: fileC, uploader: uploader,
		recvQueue: recvQ, recvConsumer: recvC,
		applier: applier, sync: syncEngine,
		bus:     bus,
		timefmt: cfg.Timefmt(),
		ids:     idgen.NewSnowflake(),
	}
	return c, nil
}

// Start launches every worker pool, subscribes to the transport's push
// stream, and kicks off a bootstrap sync. Call once after Open.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.sendConsumer.Start(ctx)
	c.fileConsumer.Start(ctx)
	c.recvConsumer.Start(ctx, c.cfg.Queue.TimeoutCheckInterval)

	c.unsubscribePush = c.tr.Subscribe(c.handlePush)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.sync.RunBootstrapSync(ctx); err != nil {
			slog.Warn("bootstrap sync failed", "err", err)
		}
	}()

	c.wg.Add(1)
	go c.tmpCleanupLoop(ctx)
}

// tmpCleanupLoop sweeps stale daily thumbnail/resize directories once at
// startup and then every 24h, keeping only today's.
func (c *Client) tmpCleanupLoop(ctx context.Context) {
	defer c.wg.Done()
	if err := filesend.CleanupTmp(c.cfg.DataDir, c.uidStr, time.Now()); err != nil {
		slog.Warn("tmp cleanup failed", "err", err)
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := filesend.CleanupTmp(c.cfg.DataDir, c.uidStr, now); err != nil {
				slog.Warn("tmp cleanup failed", "err", err)
			}
		}
	}
}

// FileURL resolves an uploaded file id to a time-limited download URL via
// the configured file API.
func (c *Client) FileURL(ctx context.Context, fileID string) (filesend.FileURLResponse, error) {
	resp, err := c.uploader.FileURL(ctx, fileID, c.uidStr)
	if err != nil {
		return filesend.FileURLResponse{}, NewError(KindIO, "resolve file url", err)
	}
	return resp, nil
}

// Shutdown notifies every worker to stop, waits for in-flight tasks to
// finish (bounded by their own RPC timeouts), and releases the database
// and kv handles. No in-flight message is abandoned mid-send: it either
// completes or is left in Retrying to resume on next start.
func (c *Client) Shutdown() {
	if c.unsubscribePush != nil {
		c.unsubscribePush()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.sendConsumer.Shutdown()
	c.fileConsumer.Shutdown()
	c.recvConsumer.Shutdown()
	c.rpcLimiter.Close()
	c.wg.Wait()
	c.bus.Close()
	_ = c.store.Close()
	_ = c.kv.Close()
}

// Events returns the bus so the embedding application can Subscribe or
// register typed On listeners.
func (c *Client) Events() *events.Bus { return c.bus }

// Send enqueues a text/rich message for the given channel. It blocks
// only long enough to satisfy MessageRateLimiter.CheckSend, then
// persists the message as Draft, builds a SendTask, and pushes it onto
// the SendQueue — returning QueueFull without partial mutation if the
// queue is already at capacity.
func (c *Client) Send(ctx context.Context, channelID uint64, channelType model.ChannelType, messageType, content string) (model.Message, error) {
	if content == "" && messageType == "text" {
		return model.Message{}, NewError(KindInvalidInput, "empty content", nil)
	}
	if c.sendQueue.Len() >= c.cfg.Queue.SendQueueCapacity {
		return model.Message{}, NewError(KindQueueFull, "send queue at capacity", nil)
	}

	isGroup := channelType == model.ChannelTypeGroup
	if err := c.waitForSendSlot(ctx, isGroup); err != nil {
		return model.Message{}, err
	}

	now := time.Now().UnixMilli()
	localMsgID := c.ids.Next()
	msg := &model.Message{
		ChannelID:      channelID,
		ChannelType:    channelType,
		FromUID:        c.uid,
		MessageType:    messageType,
		Content:        content,
		LocalMessageID: localMsgID,
		Status:         model.StatusDraft,
		Timestamp:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	id, err := c.store.InsertMessage(ctx, msg)
	if err != nil {
		return model.Message{}, NewError(KindDatabase, "insert draft message", err)
	}
	msg.ID = id

	priority := model.PriorityNormal
	task := model.SendTask{
		TaskID:    fmt.Sprintf("%d", id),
		ID:        id,
		ChannelID: channelID,
		MessageData: model.MessageData{
			ChannelID:      channelID,
			ChannelType:    channelType,
			FromUID:        c.uid,
			MessageType:    messageType,
			Content:        content,
			CreatedAt:      now,
			LocalMessageID: localMsgID,
		},
		Priority:   priority,
		Status:     model.TaskPending,
		CreatedAt:  now,
		MaxRetries: priority.MaxRetries(),
		TimeoutAt:  time.Now().Add(priority.Timeout()).Unix(),
	}
	if err := c.sendQueue.Push(c.uidStr, task); err != nil {
		return model.Message{}, NewError(KindQueueFull, "enqueue send task", err)
	}

	c.bus.Emit(events.Event{
		Type:        events.TypeSendStatusUpdate,
		ChannelID:   channelID,
		ChannelType: channelType,
		SendStatusUpdate: &events.SendStatusUpdate{
			LocalMessageID: localMsgID,
			Phase:          events.SendEnqueued,
		},
	})
	return *msg, nil
}

// waitForSendSlot blocks until MessageRateLimiter.CheckSend admits the
// send or ctx is cancelled.
func (c *Client) waitForSendSlot(ctx context.Context, isGroup bool) error {
	for {
		wait := c.msgLimiter.CheckSend(isGroup)
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewError(KindTimeout, "context cancelled waiting for send slot", ctx.Err())
		case <-timer.C:
		}
	}
}

// SendFile enqueues an attachment send. meta.json and the
// original file are expected to already be staged under
// <data_dir>/users/<uid>/files/<yyyymm>/<message_id>/ by the caller
// (the embedding application owns the file-picker/camera UI; this SDK
// only owns the upload pipeline from there).
func (c *Client) SendFile(ctx context.Context, channelID uint64, channelType model.ChannelType, msgType model.FileMessageType, originalFilename, mime string) (model.Message, error) {
	isGroup := channelType == model.ChannelTypeGroup
	if err := c.waitForSendSlot(ctx, isGroup); err != nil {
		return model.Message{}, err
	}

	now := time.Now().UnixMilli()
	localMsgID := c.ids.Next()
	msg := &model.Message{
		ChannelID:      channelID,
		ChannelType:    channelType,
		FromUID:        c.uid,
		MessageType:    string(msgType),
		LocalMessageID: localMsgID,
		Status:         model.StatusDraft,
		Timestamp:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	id, err := c.store.InsertMessage(ctx, msg)
	if err != nil {
		return model.Message{}, NewError(KindDatabase, "insert draft file message", err)
	}
	msg.ID = id

	priority := model.PriorityNormal
	task := model.FileSendTask{
		SendTask: model.SendTask{
			TaskID:    fmt.Sprintf("%d", id),
			ID:        id,
			ChannelID: channelID,
			MessageData: model.MessageData{
				ChannelID: channelID, ChannelType: channelType, FromUID: c.uid,
				MessageType: string(msgType), CreatedAt: now, LocalMessageID: localMsgID,
			},
			Priority:   priority,
			Status:     model.TaskPending,
			CreatedAt:  time.UnixMilli(now).Unix(), // unix seconds: filesend derives the staged <yyyymm> dir from it
			MaxRetries: priority.MaxRetries(),
			TimeoutAt:  time.Now().Add(priority.Timeout()).Unix(),
		},
		OriginalFilename: originalFilename,
		Mime:             mime,
		MessageType:      msgType,
		NeedsThumbnail:   msgType == model.FileMessageImage || msgType == model.FileMessageVideo,
	}
	if err := c.fileQueue.Push(c.uidStr, task); err != nil {
		return model.Message{}, NewError(KindQueueFull, "enqueue file send task", err)
	}
	return *msg, nil
}

// RevokeMessage enforces the revoke permission window: the author may
// revoke a Sent message within RevokeWindow of its creation; past that,
// or if it is already in a terminal status, the attempt fails with
// InvalidOperation.
func (c *Client) RevokeMessage(ctx context.Context, messageID int64, revokedBy uint64) error {
	msg, err := c.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return NewError(KindNotFound, "message not found", err)
	}
	if msg.Status.IsTerminal() {
		return NewError(KindInvalidOperation, "message status is terminal", nil)
	}
	age := time.Since(time.UnixMilli(msg.CreatedAt))
	if age > RevokeWindow {
		return NewError(KindInvalidOperation, "revoke window elapsed", nil)
	}

	params, _ := json.Marshal(struct {
		ChannelID       uint64 `json:"channel_id"`
		ServerMessageID uint64 `json:"server_message_id"`
	}{msg.ChannelID, msg.ServerMessageID})
	if _, err := c.callRPC(ctx, transport.MethodMessageRevoke, params); err != nil {
		return err
	}

	revokedAt := time.Now().UnixMilli()
	if err := c.store.MarkRevoked(ctx, msg.ChannelID, msg.ServerMessageID, revokedBy, revokedAt); err != nil {
		return NewError(KindDatabase, "mark revoked", err)
	}
	c.bus.Emit(events.Event{
		Type: events.TypeMessageRevoked, ChannelID: msg.ChannelID, ChannelType: msg.ChannelType,
		MessageRevoked: &events.MessageRevoked{ServerMessageID: msg.ServerMessageID, RevokedBy: revokedBy},
	})
	return nil
}

// SearchUsers calls account/search/query, gated by the RpcLimiter's
// global bucket and in-flight dedup: a second call with the same query
// while the first is still pending returns *ratelimit.DuplicateRequestError
// rather than being retried internally.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]byte, error) {
	params, _ := json.Marshal(struct {
		Query string `json:"query"`
	}{query})
	return c.callRPC(ctx, transport.MethodAccountSearchQuery, params)
}

// callRPC wraps a transport call with the RpcLimiter's rate gate and
// in-flight dedup. A DuplicateRequestError is returned to the caller
// unchanged — it MUST NOT be retried automatically. A nonzero rate-limit
// wait is slept out internally instead, since that condition is expected
// to clear on its own.
func (c *Client) callRPC(ctx context.Context, method string, params []byte) ([]byte, error) {
	hash := ratelimit.HashParams(json.RawMessage(params))
	for {
		wait, err := c.rpcLimiter.Begin(method, hash)
		if err != nil {
			return nil, err
		}
		if wait <= 0 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, NewError(KindTimeout, "context cancelled waiting for rate limit", ctx.Err())
		case <-timer.C:
		}
	}
	defer c.rpcLimiter.MarkComplete(method, hash)

	reqCtx, cancel := context.WithTimeout(ctx, transport.RequestTimeout)
	defer cancel()
	resp, err := c.tr.Request(reqCtx, method, params)
	if err != nil {
		return nil, NewError(KindTransport, "rpc "+method, err)
	}
	return resp, nil
}

// TotalUnread forwards to the persistence layer's aggregation.
func (c *Client) TotalUnread(ctx context.Context) (int, error) {
	n, err := c.store.TotalUnread(ctx)
	if err != nil {
		return 0, NewError(KindDatabase, "total unread", err)
	}
	return n, nil
}

// TotalUnreadExcludeMuted forwards to the persistence layer's
// mute-aware aggregation.
func (c *Client) TotalUnreadExcludeMuted(ctx context.Context) (int, error) {
	n, err := c.store.TotalUnreadExcludeMuted(ctx)
	if err != nil {
		return 0, NewError(KindDatabase, "total unread exclude muted", err)
	}
	return n, nil
}

// FormatMessageTime renders a message's UTC-millisecond timestamp as
// "YYYY-MM-DD HH:MM:SS" in the timezone this Client was configured with
// (Config.TimezoneOffsetSeconds).
func (c *Client) FormatMessageTime(utcMillis int64) string {
	return c.timefmt.FormatStandard(utcMillis)
}

// ParseDisplayTime parses a "YYYY-MM-DD HH:MM:SS" string, interpreted in
// this Client's configured timezone, back into a UTC millisecond
// timestamp suitable for a query-descriptor time range.
func (c *Client) ParseDisplayTime(s string) (int64, error) {
	ts, err := c.timefmt.ParseToUTCTimestamp(s)
	if err != nil {
		return 0, NewError(KindInvalidInput, "parse display time", err)
	}
	return ts, nil
}

// pushEnvelope is the JSON shape this client expects inside
// transport.PushMessage.Payload for Kind=="message" pushes: the minimal
// shape SyncEngine's gap check and ReceiveQueue need.
type pushEnvelope struct {
	ChannelID       uint64          `json:"channel_id"`
	ChannelType     model.ChannelType `json:"channel_type"`
	ServerMessageID uint64          `json:"server_message_id"`
	Pts             uint64          `json:"pts"`
	FromUID         uint64          `json:"from_uid"`
	MessageType     string          `json:"message_type"`
	Content         string          `json:"content"`
	CreatedAt       int64           `json:"created_at"`
}

// handlePush routes an unsolicited transport frame by kind: "message"
// frames feed the receive pipeline (or trigger SyncEngine on a pts jump),
// the rest translate directly into bus events.
func (c *Client) handlePush(pm transport.PushMessage) {
	switch pm.Kind {
	case "message":
	case "typing":
		c.handleTypingPush(pm.Payload)
		return
	case "presence":
		c.handlePresencePush(pm.Payload)
		return
	case "read_receipt":
		c.handleReadReceiptPush(pm.Payload)
		return
	default:
		slog.Debug("unhandled push kind", "kind", pm.Kind)
		return
	}
	var env pushEnvelope
	if err := json.Unmarshal(pm.Payload, &env); err != nil {
		return
	}

	ctx := context.Background()
	isNext, err := c.ptsMgr.IsNextInSequence(ctx, env.ChannelID, env.ChannelType, env.Pts)
	if err == nil && !isNext {
		go func() {
			_ = c.sync.OnPushGap(context.Background(), env.ChannelID, env.ChannelType)
		}()
		return
	}

	c.recvQueue.Enqueue(env.ChannelID, env.ChannelType, model.ReceiveTask{
		TaskID:      fmt.Sprintf("recv_%d_%d", env.ServerMessageID, env.Pts),
		ServerMsgID: env.ServerMessageID,
		SequenceID:  env.Pts,
		Source:      model.SourceRealTime,
		Status:      model.TaskPending,
		CreatedAt:   time.Now().UnixMilli(),
		MessageData: model.MessageData{
			ChannelID: env.ChannelID, ChannelType: env.ChannelType, FromUID: env.FromUID,
			MessageType: env.MessageType, Content: env.Content, CreatedAt: env.CreatedAt,
		},
	})
}

// handleTypingPush surfaces a peer's typing transition as a bus event.
func (c *Client) handleTypingPush(payload []byte) {
	var env struct {
		ChannelID   uint64            `json:"channel_id"`
		ChannelType model.ChannelType `json:"channel_type"`
		FromUID     uint64            `json:"from_uid"`
		Typing      bool              `json:"typing"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	t := events.TypeTypingStopped
	if env.Typing {
		t = events.TypeTypingStarted
	}
	c.bus.Emit(events.Event{
		Type: t, ChannelID: env.ChannelID, ChannelType: env.ChannelType, UserID: env.FromUID,
		Typing: &events.Typing{FromUID: env.FromUID},
	})
}

// handlePresencePush surfaces a subscribed user's online transition.
func (c *Client) handlePresencePush(payload []byte) {
	var env struct {
		UID      uint64 `json:"uid"`
		Online   bool   `json:"online"`
		LastSeen int64  `json:"last_seen"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	c.bus.Emit(events.Event{
		Type: events.TypeUserPresenceChanged, UserID: env.UID,
		UserPresenceChanged: &events.UserPresenceChanged{Online: env.Online, LastSeen: env.LastSeen},
	})
}

// handleReadReceiptPush advances local send statuses to Read for every
// message the peer confirmed, then surfaces the receipt.
func (c *Client) handleReadReceiptPush(payload []byte) {
	var env struct {
		ChannelID   uint64            `json:"channel_id"`
		ChannelType model.ChannelType `json:"channel_type"`
		UpToPts     uint64            `json:"up_to_pts"`
		ByUID       uint64            `json:"by_uid"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	ctx := context.Background()
	if _, err := c.store.MarkReadUpToPts(ctx, env.ChannelID, env.ChannelType, c.uid, env.UpToPts, time.Now().UnixMilli()); err != nil {
		slog.Warn("apply read receipt failed", "channel_id", env.ChannelID, "err", err)
	}
	c.bus.Emit(events.Event{
		Type: events.TypeReadReceiptReceived, ChannelID: env.ChannelID, ChannelType: env.ChannelType, UserID: env.ByUID,
		ReadReceiptReceived: &events.ReadReceiptReceived{UpToPts: env.UpToPts, ByUID: env.ByUID},
	})
}

// OnReconnected runs a full batch resync across every known channel and
// informs ReconnectLimiter of the success.
func (c *Client) OnReconnected(ctx context.Context) error {
	c.reconnLimiter.OnSuccess()
	if err := c.sync.OnReconnect(ctx); err != nil {
		return NewError(KindTransport, "reconnect resync", err)
	}
	return nil
}

// OnConnectFailed records a failed connection attempt and returns the
// backoff duration the caller should wait before retrying.
func (c *Client) OnConnectFailed() time.Duration {
	return c.reconnLimiter.OnFailure()
}

// OnConnectionStateChanged lets a concrete Transport report a connectivity
// transition. It always republishes the change as a ConnectionStateChanged
// event; a disconnect whose err is not a graceful close
// (transport.IsGracefulClose) also counts as a failure against
// ReconnectLimiter, the same way a failed dial would.
func (c *Client) OnConnectionStateChanged(state transport.ConnState, err error) {
	c.bus.Emit(events.Event{Type: events.TypeConnectionState, ConnectionState: &events.ConnectionStateChanged{State: state}})
	switch state {
	case transport.StateConnected:
		c.reconnLimiter.OnSuccess()
	case transport.StateDisconnected:
		if !transport.IsGracefulClose(err) {
			slog.Warn("transport disconnected abnormally", "err", err)
			c.reconnLimiter.OnFailure()
		}
	}
}
