// Package pts maintains each channel's local pts — a monotonic
// server-assigned per-channel sequence counter. It is a read-through
// cache over internal/store's channel DAO guarded by a sync.RWMutex.
package pts

import (
	"context"
	"fmt"
	"sync"

	"privchat-sdk/internal/model"
	"privchat-sdk/internal/store"
)

type channelKey struct {
	id  uint64
	typ model.ChannelType
}

// Manager caches last-known pts per channel so repeated reads during a
// sync burst don't all round-trip to SQLite.
type Manager struct {
	st *store.Store

	mu    sync.RWMutex
	cache map[channelKey]uint64
}

// New returns a PtsManager backed by st.
func New(st *store.Store) *Manager {
	return &Manager{st: st, cache: make(map[channelKey]uint64)}
}

// GetLocalPts returns the channel's cached local pts, reading through to
// the persistence layer on a cache miss.
func (m *Manager) GetLocalPts(ctx context.Context, channelID uint64, channelType model.ChannelType) (uint64, error) {
	key := channelKey{channelID, channelType}

	m.mu.RLock()
	if v, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return v, nil
	}
	m.mu.RUnlock()

	pts, err := m.st.GetLocalPts(ctx, channelID, channelType)
	if err != nil {
		return 0, fmt.Errorf("pts: get local pts: %w", err)
	}

	m.mu.Lock()
	m.cache[key] = pts
	m.mu.Unlock()
	return pts, nil
}

// UpdateLocalPts advances the channel's pts only if newPts is greater than
// the current value — never regresses.
func (m *Manager) UpdateLocalPts(ctx context.Context, channelID uint64, channelType model.ChannelType, newPts uint64) error {
	if _, err := m.st.GetChannel(ctx, channelID, channelType); err != nil {
		if err == store.ErrNotFound {
			// Unseen channel: create a minimal row so pts has somewhere to live.
			if err := m.st.UpsertChannel(ctx, &model.Channel{ChannelID: channelID, ChannelType: channelType, Extra: "{}"}); err != nil {
				return fmt.Errorf("pts: seed channel row: %w", err)
			}
		} else {
			return fmt.Errorf("pts: lookup channel: %w", err)
		}
	}

	if err := m.st.UpdateLocalPtsIfGreater(ctx, channelID, channelType, newPts); err != nil {
		return fmt.Errorf("pts: update local pts: %w", err)
	}

	key := channelKey{channelID, channelType}
	m.mu.Lock()
	if cur, ok := m.cache[key]; !ok || newPts > cur {
		m.cache[key] = newPts
	}
	m.mu.Unlock()
	return nil
}

// IsNextInSequence reports whether incomingPts directly follows the
// channel's current local pts (local_pts + 1), meaning it can be applied
// directly without a SyncEngine gap-fill.
func (m *Manager) IsNextInSequence(ctx context.Context, channelID uint64, channelType model.ChannelType, incomingPts uint64) (bool, error) {
	local, err := m.GetLocalPts(ctx, channelID, channelType)
	if err != nil {
		return false, err
	}
	return incomingPts == local+1, nil
}

// InvalidateCache drops the cached pts for a channel, forcing the next
// read to go through the persistence layer. Used after an external write
// to channel.last_msg_pts that didn't go through UpdateLocalPts.
func (m *Manager) InvalidateCache(channelID uint64, channelType model.ChannelType) {
	m.mu.Lock()
	delete(m.cache, channelKey{channelID, channelType})
	m.mu.Unlock()
}
