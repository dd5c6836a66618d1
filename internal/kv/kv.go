// Package kv provides the embedded key-value store used for queue state,
// presence cache, and sync cursors. It is a tree-per-user abstraction
// over go.etcd.io/bbolt: one top-level bucket named "user_<uid>", with
// logical namespaces expressed as key prefixes within it.
package kv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// Store wraps one bbolt database file shared by every user tree on this
// device; each user gets its own top-level bucket.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the shared bbolt file at <dataDir>/kv.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "kv")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	slog.Info("kv store opened", "path", path)
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Tree is a per-user handle scoping every operation to bucket "user_<uid>".
type Tree struct {
	db     *bbolt.DB
	bucket []byte
}

// Tree returns the namespaced handle for one local user.
func (s *Store) Tree(uid string) *Tree {
	return &Tree{db: s.db, bucket: []byte("user_" + uid)}
}

func (t *Tree) withBucket(writable bool, fn func(b *bbolt.Bucket) error) error {
	if writable {
		return t.db.Update(func(tx *bbolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists(t.bucket)
			if err != nil {
				return err
			}
			return fn(b)
		})
	}
	return t.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(t.bucket)
		if b == nil {
			return fn(nil)
		}
		return fn(b)
	})
}

// ttlEnvelope is the stored shape for SetWithTTL/GetWithTTL.
type ttlEnvelope struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expires_at"`
}

// Set JSON-serializes value and stores it under key.
func (t *Tree) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: marshal %q: %w", key, err)
	}
	return t.withBucket(true, func(b *bbolt.Bucket) error {
		return b.Put([]byte(key), raw)
	})
}

// Get deserializes the value stored at key into dst. Returns false if the
// key is absent.
func (t *Tree) Get(key string, dst any) (bool, error) {
	var raw []byte
	err := t.withBucket(false, func(b *bbolt.Bucket) error {
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("kv: unmarshal %q: %w", key, err)
	}
	return true, nil
}

// Delete removes key; deleting an absent key is a no-op.
func (t *Tree) Delete(key string) error {
	return t.withBucket(true, func(b *bbolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}

// Exists reports whether key is present without deserializing its value.
func (t *Tree) Exists(key string) (bool, error) {
	var found bool
	err := t.withBucket(false, func(b *bbolt.Bucket) error {
		if b == nil {
			return nil
		}
		found = b.Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// SetBatch writes every entry in one bbolt transaction.
func (t *Tree) SetBatch(entries map[string]any) error {
	marshaled := make(map[string][]byte, len(entries))
	for k, v := range entries {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("kv: marshal %q: %w", k, err)
		}
		marshaled[k] = raw
	}
	return t.withBucket(true, func(b *bbolt.Bucket) error {
		for k, raw := range marshaled {
			if err := b.Put([]byte(k), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// ScanPrefix returns every key/raw-value pair whose key starts with
// prefix, as a map keyed by the full key, so iteration order is not
// defined. Callers unmarshal each value themselves, mirroring
// bbolt's own cursor-seek idiom.
func (t *Tree) ScanPrefix(prefix string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	err := t.withBucket(false, func(b *bbolt.Bucket) error {
		if b == nil {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			out[string(k)] = append(json.RawMessage(nil), v...)
		}
		return nil
	})
	return out, err
}

// IncrementCounter atomically adds delta to the integer stored at key,
// retrying on write contention with millisecond jitter. bbolt already
// serializes Update transactions, so the retry loop absorbs transient
// failures rather than true lock-free contention.
func (t *Tree) IncrementCounter(key string, delta int64) (int64, error) {
	const maxAttempts = 10
	var result int64
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := t.withBucket(true, func(b *bbolt.Bucket) error {
			var current int64
			if v := b.Get([]byte(key)); v != nil {
				if err := json.Unmarshal(v, &current); err != nil {
					return fmt.Errorf("kv: unmarshal counter %q: %w", key, err)
				}
			}
			current += delta
			raw, err := json.Marshal(current)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), raw); err != nil {
				return err
			}
			result = current
			return nil
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		time.Sleep(time.Duration(rand.Intn(10)+1) * time.Millisecond)
	}
	return 0, fmt.Errorf("kv: increment counter %q: %w", key, lastErr)
}

// SetWithTTL stores value plus an absolute expiry.
func (t *Tree) SetWithTTL(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: marshal %q: %w", key, err)
	}
	env := ttlEnvelope{Value: raw, ExpiresAt: time.Now().Add(ttl).Unix()}
	return t.Set(key, env)
}

// GetWithTTL deserializes into dst, lazily expiring (deleting and
// reporting absent) if the TTL has passed.
func (t *Tree) GetWithTTL(key string, dst any) (bool, error) {
	var env ttlEnvelope
	found, err := t.Get(key, &env)
	if err != nil || !found {
		return false, err
	}
	if time.Now().Unix() >= env.ExpiresAt {
		_ = t.Delete(key)
		return false, nil
	}
	if err := json.Unmarshal(env.Value, dst); err != nil {
		return false, fmt.Errorf("kv: unmarshal ttl value %q: %w", key, err)
	}
	return true, nil
}

// CleanupExpired sweeps every TTL-tagged entry under prefix and deletes
// those past expiry, returning the count removed.
func (t *Tree) CleanupExpired(prefix string) (int, error) {
	var toDelete []string
	err := t.withBucket(false, func(b *bbolt.Bucket) error {
		if b == nil {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		now := time.Now().Unix()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var env ttlEnvelope
			if err := json.Unmarshal(v, &env); err != nil {
				continue // not a TTL envelope; skip
			}
			if env.ExpiresAt != 0 && now >= env.ExpiresAt {
				toDelete = append(toDelete, string(k))
			}
		}
		return nil
	})
	if err != nil || len(toDelete) == 0 {
		return 0, err
	}
	err = t.withBucket(true, func(b *bbolt.Bucket) error {
		for _, k := range toDelete {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(toDelete), nil
}

// joinKey builds a namespaced key the way the queue packages address
// their entries, e.g. joinKey("queue", uid, "tasks", taskID).
func joinKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// JoinKey exposes joinKey for sibling packages that build queue/cache keys.
func JoinKey(parts ...string) string { return joinKey(parts...) }
