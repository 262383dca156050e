// Package cache is the content-addressed audio cache. Synthesized audio is
// stored in an embedded bbolt database under its cache key (see [Key]) with a
// secondary index mapping (novel id, segment index, voice id) back to the
// key, and evicted least-recently-accessed-first once the configured byte
// budget is exceeded.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// The two keyspaces share one bucket and are kept disjoint by prefix:
// entryPrefix keys hold serialized entries, mappingPrefix keys hold the cache
// key for a (novel, segment, voice) triple.
const (
	entryPrefix   = "cache:"
	mappingPrefix = "mapping:"
)

var bucketAudio = []byte("audio")

// Metadata describes the audio stored under a cache key.
type Metadata struct {
	NovelID      uuid.UUID
	SegmentIndex uint32
	VoiceID      uuid.UUID
	ContentHash  string
	DurationMS   uint64
	SampleRate   uint32 // 0 when unknown
}

// Stats is a point-in-time snapshot of cache occupancy and effectiveness.
// Bytes is eventually consistent: it may lag while a put or remove is in
// flight.
type Stats struct {
	Entries  int
	Bytes    uint64
	MaxBytes uint64
	Hits     uint64
	Misses   uint64
}

// entry is the stored representation of one cached segment.
type entry struct {
	AudioData    []byte `json:"audio_data"`
	SizeBytes    uint64 `json:"size_bytes"`
	DurationMS   uint64 `json:"duration_ms"`
	ContentHash  string `json:"content_hash"`
	NovelID      string `json:"novel_id"`
	SegmentIndex uint32 `json:"segment_index"`
	VoiceID      string `json:"voice_id"`
	LastAccessed int64  `json:"last_accessed"` // unix nanos, LRU ordering
	CreatedAt    int64  `json:"created_at"`
	SampleRate   uint32 `json:"sample_rate,omitempty"`
}

// Cache is a concurrent byte-bounded audio store backed by bbolt. There is no
// bound on the number of keys, only on the total stored bytes. All methods
// are safe for concurrent use; bbolt provides per-transaction atomicity.
type Cache struct {
	db       *bolt.DB
	maxBytes uint64

	curBytes atomic.Int64
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// Open opens (or creates) the cache database at path with the given byte
// budget. The live byte counter is rebuilt by scanning existing entries, so
// reopening a populated cache resumes with correct occupancy.
func Open(path string, maxBytes uint64) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open %q: %w", path, err)
	}

	c := &Cache{db: db, maxBytes: maxBytes}

	var total int64
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketAudio)
		if err != nil {
			return err
		}
		cur := b.Cursor()
		prefix := []byte(entryPrefix)
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			total += int64(e.SizeBytes)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init %q: %w", path, err)
	}
	c.curBytes.Store(total)

	slog.Info("audio cache opened",
		"path", path,
		"max_bytes", maxBytes,
		"current_bytes", total,
	)
	return c, nil
}

// Close flushes and closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Put stores audio under key together with its secondary-index record. If the
// insert would exceed the byte budget, least-recently-accessed entries are
// evicted first. A single entry larger than the whole budget empties the
// cache and is then inserted anyway.
//
// Two concurrent puts may transiently overshoot the budget; the next bounded
// operation drives the total back down.
func (c *Cache) Put(key string, audio []byte, meta Metadata) error {
	size := uint64(len(audio))
	now := time.Now().UnixNano()

	raw, err := json.Marshal(&entry{
		AudioData:    audio,
		SizeBytes:    size,
		DurationMS:   meta.DurationMS,
		ContentHash:  meta.ContentHash,
		NovelID:      meta.NovelID.String(),
		SegmentIndex: meta.SegmentIndex,
		VoiceID:      meta.VoiceID.String(),
		LastAccessed: now,
		CreatedAt:    now,
		SampleRate:   meta.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("cache: encode entry %q: %w", key, err)
	}

	var freed int64
	err = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudio)

		// Overwriting a key releases the bytes of the entry it replaces.
		if old := b.Get(entryKey(key)); old != nil {
			var e entry
			if err := json.Unmarshal(old, &e); err == nil {
				freed += int64(e.SizeBytes)
			}
			if err := b.Delete(entryKey(key)); err != nil {
				return err
			}
		}

		for uint64(c.curBytes.Load()-freed)+size > c.maxBytes {
			n, err := evictOldest(b)
			if err != nil {
				return err
			}
			if n == 0 {
				break // nothing left to evict
			}
			freed += n
		}

		if err := b.Put(entryKey(key), raw); err != nil {
			return err
		}
		return b.Put(mappingKey(meta.NovelID.String(), meta.SegmentIndex, meta.VoiceID.String()), []byte(key))
	})
	if err != nil {
		return fmt.Errorf("cache: put %q: %w", key, err)
	}

	c.curBytes.Add(int64(size) - freed)
	slog.Debug("audio cached", "cache_key", key, "size_bytes", size)
	return nil
}

// Get returns the audio stored under key, or (nil, nil) on a miss. A hit
// advances the entry's last-accessed timestamp; a failure to write that touch
// is logged but does not fail the read.
func (c *Cache) Get(key string) ([]byte, error) {
	var e entry
	found := false

	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAudio).Get(entryKey(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("decode entry: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache: get %q: %w", key, err)
	}
	if !found {
		c.misses.Add(1)
		return nil, nil
	}

	c.hits.Add(1)
	if err := c.touch(key); err != nil {
		slog.Warn("cache: lru touch failed", "cache_key", key, "err", err)
	}
	return e.AudioData, nil
}

// Lookup resolves a (novel, segment, voice) triple to its cache key via the
// secondary index only. It does not count as an access for LRU purposes.
func (c *Cache) Lookup(novelID uuid.UUID, segmentIndex uint32, voiceID uuid.UUID) (string, bool, error) {
	var key string
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAudio).Get(mappingKey(novelID.String(), segmentIndex, voiceID.String()))
		if v != nil {
			key = string(v)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("cache: lookup %s/%d/%s: %w", novelID, segmentIndex, voiceID, err)
	}
	return key, key != "", nil
}

// Exists reports whether key is present. Like Lookup it leaves the LRU
// ordering untouched.
func (c *Cache) Exists(key string) (bool, error) {
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketAudio).Get(entryKey(key)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cache: exists %q: %w", key, err)
	}
	return found, nil
}

// Remove deletes the entry under key and its secondary-index record. Removing
// an absent key is a no-op.
func (c *Cache) Remove(key string) error {
	var freed int64
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudio)
		raw := b.Get(entryKey(key))
		if raw == nil {
			return nil
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err == nil {
			if err := b.Delete(mappingKey(e.NovelID, e.SegmentIndex, e.VoiceID)); err != nil {
				return err
			}
			freed = int64(e.SizeBytes)
		}
		return b.Delete(entryKey(key))
	})
	if err != nil {
		return fmt.Errorf("cache: remove %q: %w", key, err)
	}
	c.curBytes.Add(-freed)
	return nil
}

// Stats returns current occupancy and hit/miss counters.
func (c *Cache) Stats() Stats {
	entries := 0
	_ = c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketAudio).Cursor()
		prefix := []byte(entryPrefix)
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
			entries++
		}
		return nil
	})

	cur := c.curBytes.Load()
	if cur < 0 {
		cur = 0
	}
	return Stats{
		Entries:  entries,
		Bytes:    uint64(cur),
		MaxBytes: c.maxBytes,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

// touch rewrites the entry under key with an advanced last-accessed
// timestamp.
func (c *Cache) touch(key string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudio)
		raw := b.Get(entryKey(key))
		if raw == nil {
			return nil // evicted between read and touch; nothing to do
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		e.LastAccessed = time.Now().UnixNano()
		updated, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		return b.Put(entryKey(key), updated)
	})
}

// evictOldest scans the full entry keyspace, deletes the entry with the
// smallest last-accessed timestamp along with its mapping record, and returns
// the number of bytes freed. Returns 0 when the cache is empty.
func evictOldest(b *bolt.Bucket) (int64, error) {
	var (
		oldestKey   []byte
		oldestEntry entry
		have        bool
	)

	cur := b.Cursor()
	prefix := []byte(entryPrefix)
	for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
		var e entry
		if err := json.Unmarshal(v, &e); err != nil {
			continue
		}
		if !have || e.LastAccessed < oldestEntry.LastAccessed {
			oldestKey = append(oldestKey[:0], k...)
			oldestEntry = e
			have = true
		}
	}
	if !have {
		return 0, nil
	}

	if err := b.Delete(oldestKey); err != nil {
		return 0, err
	}
	if err := b.Delete(mappingKey(oldestEntry.NovelID, oldestEntry.SegmentIndex, oldestEntry.VoiceID)); err != nil {
		return 0, err
	}

	slog.Debug("lru evicted cache entry",
		"cache_key", string(oldestKey),
		"size_bytes", oldestEntry.SizeBytes,
	)
	return int64(oldestEntry.SizeBytes), nil
}

func entryKey(key string) []byte {
	return []byte(entryPrefix + key)
}

func mappingKey(novelID string, segmentIndex uint32, voiceID string) []byte {
	return []byte(mappingPrefix + novelID + ":" + strconv.FormatUint(uint64(segmentIndex), 10) + ":" + voiceID)
}
