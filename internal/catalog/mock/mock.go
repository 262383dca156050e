// Package mock provides in-memory catalog repositories for tests and for
// running the server without a database.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/netscane/rovel/internal/catalog"
)

// Compile-time interface checks.
var (
	_ catalog.NovelRepository = (*NovelRepo)(nil)
	_ catalog.VoiceRepository = (*VoiceRepo)(nil)
)

// NovelRepo is an in-memory catalog.NovelRepository. Safe for concurrent use.
type NovelRepo struct {
	mu       sync.RWMutex
	novels   map[uuid.UUID]catalog.Novel
	segments map[uuid.UUID]map[uint32]catalog.TextSegment

	// Err, when set, is returned by every method. Lets tests exercise
	// catalog failure paths.
	Err error
}

// NewNovelRepo returns an empty repository.
func NewNovelRepo() *NovelRepo {
	return &NovelRepo{
		novels:   make(map[uuid.UUID]catalog.Novel),
		segments: make(map[uuid.UUID]map[uint32]catalog.TextSegment),
	}
}

func (r *NovelRepo) Save(_ context.Context, n *catalog.Novel) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.novels[n.ID] = *n
	return nil
}

func (r *NovelRepo) FindByID(_ context.Context, id uuid.UUID) (*catalog.Novel, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n, ok := r.novels[id]; ok {
		return &n, nil
	}
	return nil, nil
}

func (r *NovelRepo) List(_ context.Context) ([]catalog.Novel, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]catalog.Novel, 0, len(r.novels))
	for _, n := range r.novels {
		out = append(out, n)
	}
	return out, nil
}

func (r *NovelRepo) Delete(_ context.Context, id uuid.UUID) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.novels, id)
	delete(r.segments, id)
	return nil
}

func (r *NovelRepo) UpdateStatus(_ context.Context, id uuid.UUID, status catalog.NovelStatus) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.novels[id]
	if !ok {
		return nil
	}
	n.Status = status
	r.novels[id] = n
	return nil
}

func (r *NovelRepo) SaveSegments(_ context.Context, novelID uuid.UUID, segments []catalog.TextSegment) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byIndex, ok := r.segments[novelID]
	if !ok {
		byIndex = make(map[uint32]catalog.TextSegment)
		r.segments[novelID] = byIndex
	}
	for _, s := range segments {
		byIndex[s.Index] = s
	}
	return nil
}

func (r *NovelRepo) SegmentsByIndices(_ context.Context, novelID uuid.UUID, indices []uint32) ([]catalog.TextSegment, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []catalog.TextSegment
	for _, i := range indices {
		if s, ok := r.segments[novelID][i]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (r *NovelRepo) Segments(_ context.Context, novelID uuid.UUID, offset, limit int) ([]catalog.TextSegment, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]catalog.TextSegment, 0, len(r.segments[novelID]))
	for _, s := range r.segments[novelID] {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Index < all[j].Index })

	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (r *NovelRepo) DeleteSegments(_ context.Context, novelID uuid.UUID) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.segments, novelID)
	return nil
}

// VoiceRepo is an in-memory catalog.VoiceRepository. Safe for concurrent use.
type VoiceRepo struct {
	mu     sync.RWMutex
	voices map[uuid.UUID]catalog.Voice

	// Err, when set, is returned by every method.
	Err error
}

// NewVoiceRepo returns an empty repository.
func NewVoiceRepo() *VoiceRepo {
	return &VoiceRepo{voices: make(map[uuid.UUID]catalog.Voice)}
}

func (r *VoiceRepo) Save(_ context.Context, v *catalog.Voice) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voices[v.ID] = *v
	return nil
}

func (r *VoiceRepo) FindByID(_ context.Context, id uuid.UUID) (*catalog.Voice, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.voices[id]; ok {
		return &v, nil
	}
	return nil, nil
}

func (r *VoiceRepo) List(_ context.Context) ([]catalog.Voice, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]catalog.Voice, 0, len(r.voices))
	for _, v := range r.voices {
		out = append(out, v)
	}
	return out, nil
}

func (r *VoiceRepo) Delete(_ context.Context, id uuid.UUID) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.voices, id)
	return nil
}
