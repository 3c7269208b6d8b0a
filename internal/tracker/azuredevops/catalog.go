package azuredevops

import (
	"context"

	"github.com/witmigrate/witmigrate/internal/types"
)

// Catalog lists Git repositories through a Client.
type Catalog struct {
	client *Client
}

// NewCatalog creates a repository catalog source for client's organization.
func NewCatalog(client *Client) *Catalog {
	return &Catalog{client: client}
}

// ListRepositories returns the repositories of project, or of the whole
// organization when project is empty.
func (c *Catalog) ListRepositories(ctx context.Context, project string) ([]types.Repository, error) {
	repos, err := c.client.ListGitRepositories(ctx, project)
	if err != nil {
		return nil, err
	}
	out := make([]types.Repository, len(repos))
	for i, r := range repos {
		out[i] = types.Repository{
			ID:          r.ID,
			Name:        r.Name,
			ProjectID:   r.Project.ID,
			ProjectName: r.Project.Name,
			RemoteURL:   r.RemoteURL,
		}
	}
	return out, nil
}
