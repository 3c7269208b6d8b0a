package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/witmigrate/witmigrate/internal/types"
)

// RepositoryCatalog lists the Git repositories visible from a project.
// It is queried once per side per batch.
type RepositoryCatalog interface {
	ListRepositories(ctx context.Context, project string) ([]types.Repository, error)
}

// Catalog is an immutable snapshot of one side's repositories.
// It is safe for concurrent use.
type Catalog struct {
	repos  []types.Repository
	byID   map[string]int
	byName map[string][]int
}

// NewCatalog indexes a repository list. The slice is copied.
func NewCatalog(repos []types.Repository) *Catalog {
	c := &Catalog{
		repos:  append([]types.Repository(nil), repos...),
		byID:   make(map[string]int, len(repos)),
		byName: make(map[string][]int, len(repos)),
	}
	for i, r := range c.repos {
		if r.ID != "" {
			c.byID[strings.ToLower(r.ID)] = i
		}
		c.byName[r.Name] = append(c.byName[r.Name], i)
	}
	return c
}

// LoadCatalog queries src for project's repositories and snapshots them.
func LoadCatalog(ctx context.Context, src RepositoryCatalog, project string) (*Catalog, error) {
	repos, err := src.ListRepositories(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("listing repositories for %s: %w", project, err)
	}
	return NewCatalog(repos), nil
}

// ByID looks a repository up by id. Ids are GUIDs, matched case-insensitively.
func (c *Catalog) ByID(id string) (types.Repository, bool) {
	if c == nil || id == "" {
		return types.Repository{}, false
	}
	i, ok := c.byID[strings.ToLower(id)]
	if !ok {
		return types.Repository{}, false
	}
	return c.repos[i], true
}

// ByName returns every repository with exactly this name.
func (c *Catalog) ByName(name string) []types.Repository {
	if c == nil {
		return nil
	}
	idx := c.byName[name]
	out := make([]types.Repository, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.repos[i])
	}
	return out
}

// All returns a copy of every repository in the snapshot.
func (c *Catalog) All() []types.Repository {
	if c == nil {
		return nil
	}
	return append([]types.Repository(nil), c.repos...)
}

// Len returns the number of repositories in the snapshot.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.repos)
}
