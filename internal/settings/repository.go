package settings

import (
	"context"
	"sync"

	"mediatracker/searchservice/internal/domain"
)

// Repository persists the runtime settings document. Load reports found=false
// when nothing has been saved yet.
type Repository interface {
	Load(ctx context.Context) (domain.Settings, bool, error)
	Save(ctx context.Context, settings domain.Settings) error
}

type MemoryRepository struct {
	mu    sync.Mutex
	doc   domain.Settings
	saved bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Load(_ context.Context) (domain.Settings, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.doc), r.saved, nil
}

func (r *MemoryRepository) Save(_ context.Context, settings domain.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = clone(settings)
	r.saved = true
	return nil
}

func clone(s domain.Settings) domain.Settings {
	out := s
	if s.DisabledPlugin != nil {
		out.DisabledPlugin = append([]string(nil), s.DisabledPlugin...)
	}
	return out
}
