package azuredevops

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/witmigrate/witmigrate/internal/types"
)

// Store adapts a Client to the engine's work item store. Link edits are
// applied to the in-memory item; Save diffs it against the revision that was
// loaded and sends a single JSON patch.
type Store struct {
	client *Client

	mu     sync.Mutex
	loaded map[int]*WorkItem
}

// NewStore creates a store on top of client.
func NewStore(client *Client) *Store {
	return &Store{client: client, loaded: make(map[int]*WorkItem)}
}

// Client returns the underlying API client.
func (s *Store) Client() *Client {
	return s.client
}

// GetWorkItem fetches an item with its relations and remembers the fetched
// revision for Save.
func (s *Store) GetWorkItem(ctx context.Context, id int) (*types.WorkItem, error) {
	raw, err := s.client.FetchWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.loaded[raw.ID] = raw
	s.mu.Unlock()
	return ToWorkItem(raw), nil
}

// AddLink stages link on wi.
func (s *Store) AddLink(_ context.Context, wi *types.WorkItem, link types.ExternalLink) error {
	if !wi.AddLink(link) {
		return fmt.Errorf("work item %d already links %s", wi.ID, link.URI)
	}
	return nil
}

// RemoveLink stages the removal of link from wi.
func (s *Store) RemoveLink(_ context.Context, wi *types.WorkItem, link types.ExternalLink) error {
	if !wi.RemoveLink(link) {
		return fmt.Errorf("work item %d has no link %s: %w", wi.ID, link, ErrNotFound)
	}
	return nil
}

// Save sends the staged edits. The patch is guarded by a revision test, so a
// concurrent edit on the server fails the save instead of being overwritten.
func (s *Store) Save(ctx context.Context, wi *types.WorkItem) error {
	s.mu.Lock()
	base, ok := s.loaded[wi.ID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("work item %d was not loaded through this store", wi.ID)
	}

	ops := buildPatch(base, wi)
	if len(ops) <= 1 {
		wi.ClearDirty()
		return nil
	}

	updated, err := s.client.UpdateWorkItem(ctx, wi.ID, ops)
	if err != nil {
		return fmt.Errorf("saving work item %d: %w", wi.ID, err)
	}

	s.mu.Lock()
	s.loaded[wi.ID] = updated
	s.mu.Unlock()
	wi.Rev = updated.Rev
	wi.ClearDirty()
	return nil
}

// QueryIDs runs a WIQL query in the client's project.
func (s *Store) QueryIDs(ctx context.Context, wiql string) ([]int, error) {
	return s.client.QueryIDs(ctx, wiql)
}

// Forget drops the remembered revision of an item.
func (s *Store) Forget(id int) {
	s.mu.Lock()
	delete(s.loaded, id)
	s.mu.Unlock()
}

// buildPatch returns the JSON patch turning base into wi: a revision test,
// relation removals by descending index, relation additions and changed
// text fields. A patch holding only the test means nothing changed.
func buildPatch(base *WorkItem, wi *types.WorkItem) []PatchOperation {
	ops := []PatchOperation{{Op: "test", Path: "/rev", Value: base.Rev}}

	kept := make([]bool, len(wi.Links))
	var removeIdx []int
	for i, rel := range base.Relations {
		link, ok := ToExternalLink(rel)
		if !ok {
			continue
		}
		if j := indexOfLink(wi.Links, kept, link); j >= 0 {
			kept[j] = true
			continue
		}
		removeIdx = append(removeIdx, i)
	}
	// Indexes shift after each removal; go from the end.
	sort.Sort(sort.Reverse(sort.IntSlice(removeIdx)))
	for _, i := range removeIdx {
		ops = append(ops, PatchOperation{Op: "remove", Path: "/relations/" + strconv.Itoa(i)})
	}

	for j, link := range wi.Links {
		if kept[j] {
			continue
		}
		ops = append(ops, PatchOperation{Op: "add", Path: "/relations/-", Value: FromExternalLink(link)})
	}

	baseFields := ToWorkItem(base).Fields
	names := make([]string, 0, len(wi.Fields))
	for name := range wi.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := wi.Fields[name]; baseFields[name] != v {
			ops = append(ops, PatchOperation{Op: "add", Path: "/fields/" + name, Value: v})
		}
	}
	return ops
}

func indexOfLink(links []types.ExternalLink, taken []bool, want types.ExternalLink) int {
	for i, l := range links {
		if !taken[i] && l.Type == want.Type && l.SameURI(want) {
			return i
		}
	}
	return -1
}
