// Package syncengine implements the per-channel gap-detection and
// catch-up protocol: compare local pts to the server's, pull
// get_difference batches, apply them through CommitApplier, and advance
// local pts.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/pts"
	"privchat-sdk/internal/store"
	"privchat-sdk/internal/transport"
)

// DifferenceLimit bounds one sync/get_difference page.
const DifferenceLimit = 100

// State tags a channel's last-known sync status. Tracked in-memory only
// (mirroring internal/pts.Manager's cache-over-store shape) since the
// persistence schema has no sync_state column: this is reconcilable
// session state, not data that must survive a process restart.
type State int

const (
	StateUnknown State = iota
	StateSyncing
	StateSynced
)

// ChannelStore is the subset of *store.Store the gap-detection loop
// itself calls (distinct from ApplierStore, which CommitApplier uses).
type ChannelStore interface {
	ListChannels(ctx context.Context) ([]model.Channel, error)
}

var _ ChannelStore = (*store.Store)(nil)

type channelKey struct {
	id  uint64
	typ model.ChannelType
}

// Engine is the SyncEngine. One Engine per local user.
type Engine struct {
	tr      transport.Transport
	pts     *pts.Manager
	applier *CommitApplier
	store   ChannelStore
	bus     *events.Bus

	chanMu sync.Mutex
	locks  map[channelKey]*sync.Mutex

	stateMu sync.RWMutex
	state   map[channelKey]State
	lastSync map[channelKey]int64
}

// New builds a SyncEngine.
func New(tr transport.Transport, ptsMgr *pts.Manager, applier *CommitApplier, st ChannelStore, bus *events.Bus) *Engine {
	return &Engine{
		tr:       tr,
		pts:      ptsMgr,
		applier:  applier,
		store:    st,
		bus:      bus,
		locks:    make(map[channelKey]*sync.Mutex),
		state:    make(map[channelKey]State),
		lastSync: make(map[channelKey]int64),
	}
}

func (e *Engine) lockFor(key channelKey) *sync.Mutex {
	e.chanMu.Lock()
	defer e.chanMu.Unlock()
	m, ok := e.locks[key]
	if !ok {
		m = &sync.Mutex{}
		e.locks[key] = m
	}
	return m
}

func (e *Engine) setState(key channelKey, s State) {
	e.stateMu.Lock()
	e.state[key] = s
	if s == StateSynced {
		e.lastSync[key] = time.Now().Unix()
	}
	e.stateMu.Unlock()
}

// State reports a channel's last-known sync state.
func (e *Engine) State(channelID uint64, channelType model.ChannelType) State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state[channelKey{channelID, channelType}]
}

// LastSyncAt returns the unix timestamp of the channel's last successful
// sync, or zero if it has never synced.
func (e *Engine) LastSyncAt(channelID uint64, channelType model.ChannelType) int64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.lastSync[channelKey{channelID, channelType}]
}

// OnReconnect walks the channel list and batch-syncs all of them. On a
// transport reconnect this re-checks every known channel for a pts gap
// in one pass instead of waiting for individual push events.
func (e *Engine) OnReconnect(ctx context.Context) error {
	channels, err := e.store.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: list channels: %w", err)
	}
	pairs := make([]model.Channel, 0, len(channels))
	pairs = append(pairs, channels...)
	return e.BatchSyncChannels(ctx, pairs)
}

// OnPushGap is triggered when an incoming push's pts exceeds local_pts+1
// for one channel.
func (e *Engine) OnPushGap(ctx context.Context, channelID uint64, channelType model.ChannelType) error {
	return e.SyncChannel(ctx, channelID, channelType)
}

// RunBootstrapSync is the explicit application-demand trigger, identical
// in effect to OnReconnect.
func (e *Engine) RunBootstrapSync(ctx context.Context) error {
	return e.OnReconnect(ctx)
}

type batchPtsRequest struct {
	Channels []batchPtsChannel `json:"channels"`
}

type batchPtsChannel struct {
	ChannelID   uint64            `json:"channel_id"`
	ChannelType model.ChannelType `json:"channel_type"`
}

type batchPtsResponse struct {
	Results []batchPtsResult `json:"results"`
}

type batchPtsResult struct {
	ChannelID   uint64            `json:"channel_id"`
	ChannelType model.ChannelType `json:"channel_type"`
	ServerPts   uint64            `json:"server_pts"`
}

// BatchSyncChannels issues one sync/batch_get_channel_pts RPC for every
// given channel, then delegates per-channel catch-up.
func (e *Engine) BatchSyncChannels(ctx context.Context, channels []model.Channel) error {
	if len(channels) == 0 {
		return nil
	}

	req := batchPtsRequest{Channels: make([]batchPtsChannel, len(channels))}
	for i, c := range channels {
		req.Channels[i] = batchPtsChannel{ChannelID: c.ChannelID, ChannelType: c.ChannelType}
	}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return err
	}

	rpcCtx, cancel := context.WithTimeout(ctx, transport.RequestTimeout)
	defer cancel()
	respBytes, err := e.tr.Request(rpcCtx, transport.MethodSyncBatchGetChannelPts, reqBytes)
	if err != nil {
		return fmt.Errorf("syncengine: batch_get_channel_pts: %w", err)
	}
	var resp batchPtsResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return fmt.Errorf("syncengine: decode batch_get_channel_pts: %w", err)
	}

	serverPts := make(map[channelKey]uint64, len(resp.Results))
	for _, r := range resp.Results {
		serverPts[channelKey{r.ChannelID, r.ChannelType}] = r.ServerPts
	}

	for _, c := range channels {
		key := channelKey{c.ChannelID, c.ChannelType}
		sp, ok := serverPts[key]
		if !ok {
			continue
		}
		if err := e.syncChannelToPts(ctx, c.ChannelID, c.ChannelType, sp); err != nil {
			slog.Error("syncengine: channel catch-up failed", "err", err, "channel_id", c.ChannelID)
		}
	}
	return nil
}

type channelPtsRequest struct {
	ChannelID   uint64            `json:"channel_id"`
	ChannelType model.ChannelType `json:"channel_type"`
}

type channelPtsResponse struct {
	ServerPts uint64 `json:"server_pts"`
}

// SyncChannel runs the single-channel gap-fill algorithm under that
// channel's mutex so concurrent triggers (a reconnect sweep and a
// push-gap trigger racing on the same channel) serialize rather than
// double-apply.
func (e *Engine) SyncChannel(ctx context.Context, channelID uint64, channelType model.ChannelType) error {
	key := channelKey{channelID, channelType}
	lock := e.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	rpcCtx, cancel := context.WithTimeout(ctx, transport.RequestTimeout)
	defer cancel()
	reqBytes, err := json.Marshal(channelPtsRequest{ChannelID: channelID, ChannelType: channelType})
	if err != nil {
		return err
	}
	respBytes, err := e.tr.Request(rpcCtx, transport.MethodSyncGetChannelPts, reqBytes)
	if err != nil {
		return fmt.Errorf("syncengine: get_channel_pts: %w", err)
	}
	var resp channelPtsResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return fmt.Errorf("syncengine: decode get_channel_pts: %w", err)
	}
	return e.syncChannelToPtsLocked(ctx, channelID, channelType, resp.ServerPts)
}

// syncChannelToPts acquires the channel's mutex before delegating, for
// callers (BatchSyncChannels) that already know the server pts and skip
// the get_channel_pts round-trip.
func (e *Engine) syncChannelToPts(ctx context.Context, channelID uint64, channelType model.ChannelType, serverPts uint64) error {
	key := channelKey{channelID, channelType}
	lock := e.lockFor(key)
	lock.Lock()
	defer lock.Unlock()
	return e.syncChannelToPtsLocked(ctx, channelID, channelType, serverPts)
}

type getDifferenceRequest struct {
	ChannelID   uint64            `json:"channel_id"`
	ChannelType model.ChannelType `json:"channel_type"`
	LastPts     uint64            `json:"last_pts"`
	Limit       int               `json:"limit"`
}

type getDifferenceResponse struct {
	Commits    []wireCommit `json:"commits"`
	HasMore    bool         `json:"has_more"`
	CurrentPts uint64       `json:"current_pts"`
}

// wireCommit is the over-the-wire shape of one commit; it flattens to
// model.Commit via toModel once decoded.
type wireCommit struct {
	Kind        model.CommitKind `json:"kind"`
	ChannelID   uint64           `json:"channel_id"`
	ChannelType model.ChannelType `json:"channel_type"`
	Pts         uint64           `json:"pts"`

	MessageCreated         *model.CommitMessageCreatedPayload `json:"message_created,omitempty"`
	MessageEdited          *model.CommitMessageEditedPayload  `json:"message_edited,omitempty"`
	MessageRevoked         *model.CommitMessageRevokedPayload `json:"message_revoked,omitempty"`
	ReactionAdded          *model.CommitReactionPayload       `json:"reaction_added,omitempty"`
	ReactionRemoved        *model.CommitReactionPayload       `json:"reaction_removed,omitempty"`
	MemberAdded            *model.CommitMemberAddedPayload    `json:"member_added,omitempty"`
	MemberRemoved          *model.CommitMemberRemovedPayload  `json:"member_removed,omitempty"`
	ChannelSettingsUpdated *model.CommitChannelSettingsPayload `json:"channel_settings_updated,omitempty"`
}

func (w wireCommit) toModel() model.Commit {
	return model.Commit{
		Kind:                   w.Kind,
		ChannelID:              w.ChannelID,
		ChannelType:            w.ChannelType,
		Pts:                    w.Pts,
		MessageCreated:         w.MessageCreated,
		MessageEdited:          w.MessageEdited,
		MessageRevoked:         w.MessageRevoked,
		ReactionAdded:          w.ReactionAdded,
		ReactionRemoved:        w.ReactionRemoved,
		MemberAdded:            w.MemberAdded,
		MemberRemoved:          w.MemberRemoved,
		ChannelSettingsUpdated: w.ChannelSettingsUpdated,
	}
}

// syncChannelToPtsLocked is the core catch-up loop: page through
// get_difference until caught up, applying each page's commits. Callers
// must already hold the channel's mutex.
func (e *Engine) syncChannelToPtsLocked(ctx context.Context, channelID uint64, channelType model.ChannelType, serverPts uint64) error {
	key := channelKey{channelID, channelType}
	localPts, err := e.pts.GetLocalPts(ctx, channelID, channelType)
	if err != nil {
		return fmt.Errorf("syncengine: get local pts: %w", err)
	}

	gap := int64(serverPts) - int64(localPts)
	if gap <= 0 {
		e.setState(key, StateSynced)
		return nil
	}

	e.setState(key, StateSyncing)

	for {
		reqBytes, err := json.Marshal(getDifferenceRequest{
			ChannelID:   channelID,
			ChannelType: channelType,
			LastPts:     localPts,
			Limit:       DifferenceLimit,
		})
		if err != nil {
			return err
		}

		rpcCtx, cancel := context.WithTimeout(ctx, transport.RequestTimeout)
		respBytes, err := e.tr.Request(rpcCtx, transport.MethodSyncGetDifference, reqBytes)
		cancel()
		if err != nil {
			return fmt.Errorf("syncengine: get_difference: %w", err)
		}

		var resp getDifferenceResponse
		if err := json.Unmarshal(respBytes, &resp); err != nil {
			return fmt.Errorf("syncengine: decode get_difference: %w", err)
		}

		if len(resp.Commits) == 0 {
			break
		}

		commits := make([]model.Commit, len(resp.Commits))
		for i, wc := range resp.Commits {
			commits[i] = wc.toModel()
		}
		if err := e.applier.ApplyCommits(ctx, commits); err != nil {
			return err
		}

		localPts = commits[len(commits)-1].Pts
		if err := e.pts.UpdateLocalPts(ctx, channelID, channelType, localPts); err != nil {
			return fmt.Errorf("syncengine: update local pts: %w", err)
		}

		if !resp.HasMore || localPts >= serverPts {
			break
		}
	}

	e.setState(key, StateSynced)
	// The event union has no dedicated sync-state variant, so a completed
	// catch-up surfaces as a ChannelListUpdate the same way any other
	// channel metadata change does.
	e.bus.Emit(events.Event{
		Type:      events.TypeChannelListUpdate,
		ChannelID: channelID,
		ChannelListUpdate: &events.ChannelListUpdate{
			Kind: events.ChannelListKindUpdate,
		},
	})
	return nil
}
