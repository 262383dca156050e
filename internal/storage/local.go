// Package storage keeps raw novel texts and voice reference audio on the
// local filesystem. Paths handed back by Save* are the paths persisted in the
// catalog; reads validate that a requested path still lives under one of the
// managed directories so a corrupted catalog row cannot read outside them.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store manages the two on-disk trees. All methods are safe for concurrent
// use; files are written whole and never appended to.
type Store struct {
	novelsDir string
	voicesDir string
}

// New creates the storage directories if needed and returns a Store rooted at
// them.
func New(novelsDir, voicesDir string) (*Store, error) {
	for _, dir := range []string{novelsDir, voicesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create %q: %w", dir, err)
		}
	}

	novelsAbs, err := filepath.Abs(novelsDir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve %q: %w", novelsDir, err)
	}
	voicesAbs, err := filepath.Abs(voicesDir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve %q: %w", voicesDir, err)
	}
	return &Store{novelsDir: novelsAbs, voicesDir: voicesAbs}, nil
}

// SaveNovelText writes the raw text for a novel and returns its path.
func (s *Store) SaveNovelText(id uuid.UUID, text string) (string, error) {
	path := filepath.Join(s.novelsDir, id.String()+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("storage: write novel text %s: %w", id, err)
	}
	return path, nil
}

// ReadNovelText returns the raw text stored at path.
func (s *Store) ReadNovelText(path string) (string, error) {
	if err := s.contained(path, s.novelsDir); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("storage: read novel text %q: %w", path, err)
	}
	return string(data), nil
}

// SaveVoiceAudio writes voice reference audio and returns its path. ext is
// the file extension including the dot (e.g. ".wav"); empty defaults to
// ".wav".
func (s *Store) SaveVoiceAudio(id uuid.UUID, ext string, data []byte) (string, error) {
	if ext == "" {
		ext = ".wav"
	}
	if !strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, "/\\") {
		return "", fmt.Errorf("storage: invalid extension %q", ext)
	}
	path := filepath.Join(s.voicesDir, id.String()+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write voice audio %s: %w", id, err)
	}
	return path, nil
}

// ReadVoiceAudio returns the reference audio stored at path.
func (s *Store) ReadVoiceAudio(path string) ([]byte, error) {
	if err := s.contained(path, s.voicesDir); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read voice audio %q: %w", path, err)
	}
	return data, nil
}

// Remove deletes a stored file. Removing an absent file is a no-op.
func (s *Store) Remove(path string) error {
	if err := s.containedAny(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove %q: %w", path, err)
	}
	return nil
}

func (s *Store) contained(path, root string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("storage: resolve %q: %w", path, err)
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return fmt.Errorf("storage: path %q escapes managed directory", path)
	}
	return nil
}

func (s *Store) containedAny(path string) error {
	if err := s.contained(path, s.novelsDir); err == nil {
		return nil
	}
	return s.contained(path, s.voicesDir)
}
