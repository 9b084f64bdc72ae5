package settings

import (
	"context"
	"sync"
)

// MemoryStore keeps settings in process. Watchers always see the latest
// value; intermediate values may be skipped for slow readers.
type MemoryStore struct {
	mu       sync.Mutex
	cur      Settings
	watchers map[chan Settings]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store holding initial (normalized).
func NewMemoryStore(initial Settings) *MemoryStore {
	return &MemoryStore{
		cur:      initial.Normalize(),
		watchers: make(map[chan Settings]struct{}),
	}
}

func (m *MemoryStore) Load(ctx context.Context) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur, nil
}

func (m *MemoryStore) Save(ctx context.Context, s Settings) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}
	s = s.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = s
	for ch := range m.watchers {
		offerLatest(ch, s)
	}
	return s, nil
}

func (m *MemoryStore) Watch(ctx context.Context) (<-chan Settings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan Settings, 1)

	m.mu.Lock()
	ch <- m.cur
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// offerLatest replaces any unread value in ch with s.
func offerLatest(ch chan Settings, s Settings) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
