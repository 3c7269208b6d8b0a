// Package memory is a thread-safe in-memory work item store and repository
// catalog. It backs tests and offline dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/witmigrate/witmigrate/internal/types"
)

// ErrNotFound is returned for unknown work items.
var ErrNotFound = errors.New("not found")

// Op names a store operation for failure injection.
type Op string

const (
	OpGet    Op = "get"
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpSave   Op = "save"
	OpList   Op = "list"
)

// FailFunc decides whether an operation should fail. Returning nil lets it
// proceed.
type FailFunc func(op Op, id int, link types.ExternalLink) error

// MemoryStorage holds work items and repositories keyed by project.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[int]*types.WorkItem
	repos map[string][]types.Repository
	saves map[int]int
	fail  FailFunc
}

// New creates an empty store.
func New() *MemoryStorage {
	return &MemoryStorage{
		items: make(map[int]*types.WorkItem),
		repos: make(map[string][]types.Repository),
		saves: make(map[int]int),
	}
}

// SetFailFunc installs a failure injector. nil clears it.
func (m *MemoryStorage) SetFailFunc(fn FailFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

func (m *MemoryStorage) injected(op Op, id int, link types.ExternalLink) error {
	if m.fail == nil {
		return nil
	}
	return m.fail(op, id, link)
}

// Put stores a copy of wi, replacing any item with the same id.
func (m *MemoryStorage) Put(wi *types.WorkItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := wi.Clone()
	c.ClearDirty()
	m.items[wi.ID] = c
}

// PutRepositories replaces the repository list of a project.
func (m *MemoryStorage) PutRepositories(project string, repos ...types.Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[project] = append([]types.Repository(nil), repos...)
}

// GetWorkItem returns a copy of the stored item.
func (m *MemoryStorage) GetWorkItem(_ context.Context, id int) (*types.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.injected(OpGet, id, types.ExternalLink{}); err != nil {
		return nil, err
	}
	wi, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %d: %w", id, ErrNotFound)
	}
	return wi.Clone(), nil
}

// AddLink adds the link to wi. The stored copy changes only on Save.
func (m *MemoryStorage) AddLink(_ context.Context, wi *types.WorkItem, link types.ExternalLink) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.injected(OpAdd, wi.ID, link); err != nil {
		return err
	}
	if !wi.AddLink(link) {
		return fmt.Errorf("work item %d already links %s", wi.ID, link.URI)
	}
	return nil
}

// RemoveLink removes the link from wi. The stored copy changes only on Save.
func (m *MemoryStorage) RemoveLink(_ context.Context, wi *types.WorkItem, link types.ExternalLink) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.injected(OpRemove, wi.ID, link); err != nil {
		return err
	}
	if !wi.RemoveLink(link) {
		return fmt.Errorf("work item %d has no link %s: %w", wi.ID, link, ErrNotFound)
	}
	return nil
}

// Save persists wi and clears its dirty flag.
func (m *MemoryStorage) Save(_ context.Context, wi *types.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpSave, wi.ID, types.ExternalLink{}); err != nil {
		return err
	}
	if _, ok := m.items[wi.ID]; !ok {
		return fmt.Errorf("work item %d: %w", wi.ID, ErrNotFound)
	}
	wi.Rev++
	wi.ClearDirty()
	m.items[wi.ID] = wi.Clone()
	m.saves[wi.ID]++
	return nil
}

// SaveCount reports how many times an item was saved.
func (m *MemoryStorage) SaveCount(id int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[id]
}

// QueryIDs returns the ids of every item in project, newest id first.
func (m *MemoryStorage) QueryIDs(_ context.Context, project string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int
	for id, wi := range m.items {
		if project == "" || wi.Project == project {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	return ids, nil
}

// ListRepositories returns the repositories registered for project, or
// every registered repository when project is empty.
func (m *MemoryStorage) ListRepositories(_ context.Context, project string) ([]types.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.injected(OpList, 0, types.ExternalLink{}); err != nil {
		return nil, err
	}
	if project != "" {
		return append([]types.Repository(nil), m.repos[project]...), nil
	}
	var all []types.Repository
	for _, p := range sortedKeys(m.repos) {
		all = append(all, m.repos[p]...)
	}
	return all, nil
}

func sortedKeys(m map[string][]types.Repository) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
