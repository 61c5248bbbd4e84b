package refdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/tileconsole/internal/backend"
	"github.com/vbonduro/tileconsole/internal/domain"
)

var (
	ErrNotLoaded = errors.New("reference data not loaded")
	ErrDisposed  = errors.New("reference data session disposed")
)

// Fetcher retrieves one reference list from the backend.
type Fetcher interface {
	Lookup(ctx context.Context, list backend.LookupList) ([]domain.LookupItem, error)
}

type Loader struct {
	fetcher Fetcher
	lists   []backend.LookupList
}

func NewLoader(fetcher Fetcher) *Loader {
	return &Loader{fetcher: fetcher, lists: backend.LookupLists}
}

// Load fetches the six lists concurrently and returns once every fetch has
// settled. Any failure fails the whole load.
func (l *Loader) Load(ctx context.Context) (*domain.ReferenceData, error) {
	results := make([][]domain.LookupItem, len(l.lists))

	g, gctx := errgroup.WithContext(ctx)
	for i, list := range l.lists {
		g.Go(func() error {
			items, err := l.fetcher.Lookup(gctx, list)
			if err != nil {
				return fmt.Errorf("failed to load %s list: %w", list.Attribute.Label(), err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := &domain.ReferenceData{}
	for i, list := range l.lists {
		items := results[i]
		if items == nil {
			items = []domain.LookupItem{}
		}
		switch list.Attribute {
		case domain.AttrCategory:
			data.Categories = items
		case domain.AttrApplication:
			data.Applications = items
		case domain.AttrSpace:
			data.Spaces = items
		case domain.AttrSize:
			data.Sizes = items
		case domain.AttrFinish:
			data.Finishes = items
		case domain.AttrColor:
			data.Colors = items
		}
	}
	return data, nil
}

// Session is the reference data owned by a single form. It is loaded once,
// read-only afterwards, and disposed when the form is cancelled or submitted.
type Session struct {
	loader *Loader

	mu       sync.RWMutex
	data     *domain.ReferenceData
	disposed bool
}

func NewSession(loader *Loader) *Session {
	return &Session{loader: loader}
}

// Load fetches the reference lists. Calling Load on a loaded session is a
// no-op.
func (s *Session) Load(ctx context.Context) error {
	s.mu.RLock()
	switch {
	case s.disposed:
		s.mu.RUnlock()
		return ErrDisposed
	case s.data != nil:
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	data, err := s.loader.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if s.data == nil {
		s.data = data
		slog.Debug("reference data loaded",
			"categories", len(data.Categories),
			"applications", len(data.Applications),
			"spaces", len(data.Spaces),
			"sizes", len(data.Sizes),
			"finishes", len(data.Finishes),
			"colors", len(data.Colors))
	}
	return nil
}

// Data returns the loaded lists.
func (s *Session) Data() (*domain.ReferenceData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disposed {
		return nil, ErrDisposed
	}
	if s.data == nil {
		return nil, ErrNotLoaded
	}
	return s.data, nil
}

func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.data = nil
}
