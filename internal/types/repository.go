package types

// Repository identifies a Git repository in one organization's catalog.
// It is read-only reference data taken from a catalog snapshot.
type Repository struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	RemoteURL   string `json:"remote_url,omitempty"`
}

// IsZero reports whether the repository is unset.
func (r Repository) IsZero() bool {
	return r.ID == "" && r.Name == ""
}
