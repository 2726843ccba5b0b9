package gallows

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// MemoryStorage keeps buckets in process memory. It is safe for
// concurrent use.
type MemoryStorage struct {
	mu      sync.RWMutex
	order   []string
	buckets map[string]*memoryBucket
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{buckets: make(map[string]*memoryBucket)}
}

func (s *MemoryStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[name]; ok {
		return b, nil
	}
	b := &memoryBucket{name: name, pages: make(map[string]Page)}
	s.buckets[name] = b
	s.order = append(s.order, name)
	return b, nil
}

func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[name]; !ok {
		return false, nil
	}
	delete(s.buckets, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryStorage) Match(ctx context.Context, req *http.Request) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	s.mu.RLock()
	buckets := make([]*memoryBucket, 0, len(s.order))
	for _, n := range s.order {
		buckets = append(buckets, s.buckets[n])
	}
	s.mu.RUnlock()

	for _, b := range buckets {
		page, err := b.Match(ctx, req)
		if err == nil {
			return page, nil
		}
		if err != ErrNotFound {
			return Page{}, err
		}
	}
	return Page{}, ErrNotFound
}

type memoryBucket struct {
	name  string
	mu    sync.RWMutex
	pages map[string]Page
	urls  []string
}

func (b *memoryBucket) Name() string {
	return b.name
}

func (b *memoryBucket) AddAll(ctx context.Context, pages []Page) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range pages {
		b.putLocked(p)
	}
	return nil
}

func (b *memoryBucket) Put(ctx context.Context, page Page) error {
	return b.AddAll(ctx, []Page{page})
}

func (b *memoryBucket) putLocked(p Page) {
	if p.Stored.IsZero() {
		p.Stored = time.Now()
	}
	p.Body = cloneBytes(p.Body)
	p.Header = p.Header.Clone()
	if _, ok := b.pages[p.URL]; !ok {
		b.urls = append(b.urls, p.URL)
	}
	b.pages[p.URL] = p
}

func (b *memoryBucket) Match(ctx context.Context, req *http.Request) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	_, key, ok := requestKey(req)
	if !ok {
		return Page{}, ErrNotFound
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.pages[key]
	if !ok {
		return Page{}, ErrNotFound
	}
	p.Body = cloneBytes(p.Body)
	p.Header = p.Header.Clone()
	return p, nil
}

func (b *memoryBucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, len(b.urls))
	copy(out, b.urls)
	return out, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
