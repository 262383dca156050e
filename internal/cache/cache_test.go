package cache

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestCache(t *testing.T, maxBytes uint64) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"), maxBytes)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testMeta(novelID, voiceID uuid.UUID, index uint32) Metadata {
	return Metadata{
		NovelID:      novelID,
		SegmentIndex: index,
		VoiceID:      voiceID,
		ContentHash:  "hash",
		DurationMS:   1000,
		SampleRate:   22050,
	}
}

func TestCache_PutGet(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, 1<<20)
	novelID, voiceID := uuid.New(), uuid.New()
	audio := []byte{1, 2, 3, 4, 5}

	if err := c.Put("k1", audio, testMeta(novelID, voiceID, 0)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := c.Get("k1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("Get() = %v, want %v", got, audio)
	}

	exists, err := c.Exists("k1")
	if err != nil || !exists {
		t.Errorf("Exists() = %v, %v, want true, nil", exists, err)
	}

	stats := c.Stats()
	if stats.Entries != 1 {
		t.Errorf("Stats().Entries = %d, want 1", stats.Entries)
	}
	if stats.Bytes != uint64(len(audio)) {
		t.Errorf("Stats().Bytes = %d, want %d", stats.Bytes, len(audio))
	}
	if stats.Hits != 1 {
		t.Errorf("Stats().Hits = %d, want 1", stats.Hits)
	}
}

func TestCache_GetMiss(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, 1<<20)

	got, err := c.Get("absent")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %v, want nil", got)
	}
	if misses := c.Stats().Misses; misses != 1 {
		t.Errorf("Stats().Misses = %d, want 1", misses)
	}
}

func TestCache_Lookup(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, 1<<20)
	novelID, voiceID := uuid.New(), uuid.New()

	if err := c.Put("my_key", []byte{1, 2, 3}, testMeta(novelID, voiceID, 5)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	key, ok, err := c.Lookup(novelID, 5, voiceID)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if !ok || key != "my_key" {
		t.Errorf("Lookup() = %q, %v; want \"my_key\", true", key, ok)
	}

	if _, ok, _ := c.Lookup(novelID, 6, voiceID); ok {
		t.Error("Lookup() on absent triple should miss")
	}
}

func TestCache_Remove(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, 1<<20)
	novelID, voiceID := uuid.New(), uuid.New()

	if err := c.Put("k", make([]byte, 10), testMeta(novelID, voiceID, 0)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := c.Remove("k"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	if exists, _ := c.Exists("k"); exists {
		t.Error("entry should be gone after Remove")
	}
	if _, ok, _ := c.Lookup(novelID, 0, voiceID); ok {
		t.Error("mapping should be gone after Remove")
	}
	if b := c.Stats().Bytes; b != 0 {
		t.Errorf("Stats().Bytes = %d, want 0", b)
	}

	// Removing an absent key is a no-op.
	if err := c.Remove("k"); err != nil {
		t.Errorf("Remove() of absent key: %v", err)
	}
}

func TestCache_LRUEviction(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, 100)
	voiceID := uuid.New()
	novelA, novelB, novelC := uuid.New(), uuid.New(), uuid.New()

	// Insert A, B, C in order with strictly increasing last-accessed times.
	for i, put := range []struct {
		key     string
		novelID uuid.UUID
	}{
		{"a", novelA}, {"b", novelB}, {"c", novelC},
	} {
		if err := c.Put(put.key, make([]byte, 40), testMeta(put.novelID, voiceID, uint32(i))); err != nil {
			t.Fatalf("Put(%q) error: %v", put.key, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// A is the least recently accessed and must be the one evicted.
	if exists, _ := c.Exists("a"); exists {
		t.Error("a should have been evicted")
	}
	for _, k := range []string{"b", "c"} {
		if exists, _ := c.Exists(k); !exists {
			t.Errorf("%s should have survived eviction", k)
		}
	}
	if b := c.Stats().Bytes; b != 80 {
		t.Errorf("Stats().Bytes = %d, want 80", b)
	}
	if _, ok, _ := c.Lookup(novelA, 0, voiceID); ok {
		t.Error("evicted entry's mapping should be gone")
	}
}

func TestCache_GetTouchProtectsFromEviction(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, 100)
	voiceID := uuid.New()
	novelA, novelB, novelC := uuid.New(), uuid.New(), uuid.New()

	if err := c.Put("a", make([]byte, 40), testMeta(novelA, voiceID, 0)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := c.Put("b", make([]byte, 40), testMeta(novelB, voiceID, 1)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)

	// Touch a so that b becomes the eviction candidate.
	if _, err := c.Get("a"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)

	if err := c.Put("c", make([]byte, 40), testMeta(novelC, voiceID, 2)); err != nil {
		t.Fatal(err)
	}

	if exists, _ := c.Exists("a"); !exists {
		t.Error("recently read entry should not be evicted")
	}
	if exists, _ := c.Exists("b"); exists {
		t.Error("least recently accessed entry should be evicted")
	}
}

func TestCache_OversizePutEvictsEverything(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, 50)
	voiceID := uuid.New()
	novelA, novelB := uuid.New(), uuid.New()

	if err := c.Put("a", make([]byte, 20), testMeta(novelA, voiceID, 0)); err != nil {
		t.Fatal(err)
	}

	// An entry larger than the whole budget empties the cache first, then
	// inserts anyway.
	if err := c.Put("big", make([]byte, 200), testMeta(novelB, voiceID, 0)); err != nil {
		t.Fatalf("oversize Put() error: %v", err)
	}

	if exists, _ := c.Exists("a"); exists {
		t.Error("a should have been evicted for the oversize entry")
	}
	if exists, _ := c.Exists("big"); !exists {
		t.Error("oversize entry should have been inserted")
	}
	if got := c.Stats().Entries; got != 1 {
		t.Errorf("Stats().Entries = %d, want 1", got)
	}
}

func TestCache_ReopenRecountsBytes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.db")
	voiceID, novelID := uuid.New(), uuid.New()

	c, err := Open(path, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put("k", make([]byte, 123), testMeta(novelID, voiceID, 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if b := reopened.Stats().Bytes; b != 123 {
		t.Errorf("Stats().Bytes after reopen = %d, want 123", b)
	}
}

func TestKey_Format(t *testing.T) {
	t.Parallel()

	voiceID := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")

	// md5("hello") = 5d41402abc4b2a76b9719d911017c592
	want := "5d41402abc4b2a76b9719d911017c592:0f8fad5b-d9cb-469f-a165-70867728950e"
	if got := Key("hello", voiceID); got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}

	// Pure function of its arguments.
	if Key("hello", voiceID) != Key("hello", voiceID) {
		t.Error("Key() is not deterministic")
	}
}
