package taskstore

import (
	"sort"
	"strings"
	"sync"
)

const defaultMaxItems = 1000

// Reader is the read side served over HTTP.
type Reader interface {
	List(status TaskStatus, limit int) []TaskInfo
	Get(id string) (*TaskInfo, bool)
	Counts() map[TaskStatus]int
}

// MemoryStore keeps the most recent reply tasks. Older ones are pruned
// once maxItems is exceeded.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]TaskInfo
	maxItems int
}

func NewMemoryStore(maxItems int) *MemoryStore {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	return &MemoryStore{
		items:    make(map[string]TaskInfo),
		maxItems: maxItems,
	}
}

func (s *MemoryStore) Upsert(info TaskInfo) {
	if s == nil {
		return
	}
	id := strings.TrimSpace(info.ID)
	if id == "" {
		return
	}
	info.ID = id
	info.Status, _ = ParseTaskStatus(string(info.Status))

	s.mu.Lock()
	s.items[id] = info
	s.pruneLocked()
	s.mu.Unlock()
}

func (s *MemoryStore) Update(id string, fn func(*TaskInfo)) {
	if s == nil || fn == nil {
		return
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.mu.Lock()
	if item, ok := s.items[id]; ok {
		fn(&item)
		item.ID = id
		item.Status, _ = ParseTaskStatus(string(item.Status))
		s.items[id] = item
	}
	s.mu.Unlock()
}

func (s *MemoryStore) Get(id string) (*TaskInfo, bool) {
	if s == nil {
		return nil, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}
	s.mu.RLock()
	item, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return &item, true
}

// List returns newest first, filtered by status when one is given.
func (s *MemoryStore) List(status TaskStatus, limit int) []TaskInfo {
	if s == nil {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	want := strings.TrimSpace(strings.ToLower(string(status)))

	s.mu.RLock()
	out := make([]TaskInfo, 0, len(s.items))
	for _, item := range s.items {
		if want != "" && string(item.Status) != want {
			continue
		}
		out = append(out, item)
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) Counts() map[TaskStatus]int {
	out := map[TaskStatus]int{}
	if s == nil {
		return out
	}
	s.mu.RLock()
	for _, item := range s.items {
		out[item.Status]++
	}
	s.mu.RUnlock()
	return out
}

func (s *MemoryStore) pruneLocked() {
	if len(s.items) <= s.maxItems {
		return
	}
	all := make([]TaskInfo, 0, len(s.items))
	for _, item := range s.items {
		all = append(all, item)
	}
	sortNewestFirst(all)
	keep := make(map[string]TaskInfo, s.maxItems)
	for _, item := range all[:s.maxItems] {
		keep[item.ID] = item
	}
	s.items = keep
}

func sortNewestFirst(items []TaskInfo) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
