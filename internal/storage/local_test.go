package storage

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s, err := New(filepath.Join(base, "novels"), filepath.Join(base, "voices"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func TestStore_NovelTextRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := uuid.New()

	path, err := s.SaveNovelText(id, "第一行。\n第二行。")
	if err != nil {
		t.Fatalf("SaveNovelText() error: %v", err)
	}

	got, err := s.ReadNovelText(path)
	if err != nil {
		t.Fatalf("ReadNovelText() error: %v", err)
	}
	if got != "第一行。\n第二行。" {
		t.Errorf("ReadNovelText() = %q", got)
	}
}

func TestStore_VoiceAudioRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := uuid.New()
	audio := []byte{1, 2, 3}

	path, err := s.SaveVoiceAudio(id, ".wav", audio)
	if err != nil {
		t.Fatalf("SaveVoiceAudio() error: %v", err)
	}

	got, err := s.ReadVoiceAudio(path)
	if err != nil {
		t.Fatalf("ReadVoiceAudio() error: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("ReadVoiceAudio() = %v", got)
	}
}

func TestStore_RejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	if _, err := s.ReadNovelText("/etc/passwd"); err == nil {
		t.Error("ReadNovelText() should reject a path outside the novels dir")
	}
	if _, err := s.ReadVoiceAudio("../../secret.wav"); err == nil {
		t.Error("ReadVoiceAudio() should reject an escaping relative path")
	}
	if _, err := s.SaveVoiceAudio(uuid.New(), ".wav/../..", nil); err == nil {
		t.Error("SaveVoiceAudio() should reject a path-like extension")
	}
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	path, err := s.SaveNovelText(uuid.New(), "x")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(path); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := s.ReadNovelText(path); err == nil {
		t.Error("file should be gone after Remove")
	}

	// Removing twice is a no-op.
	if err := s.Remove(path); err != nil {
		t.Errorf("second Remove() error: %v", err)
	}
}
