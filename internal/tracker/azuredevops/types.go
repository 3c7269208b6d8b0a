// Package azuredevops talks to the Azure DevOps / TFS REST API: work items
// with their artifact links, WIQL queries and Git repository catalogs.
package azuredevops

import (
	"time"
)

// API constants
const (
	DefaultTimeout = 30 * time.Second
	MaxPageSize    = 200
	APIVersion     = "7.0"
)

// Relation types and attributes used for artifact links.
const (
	RelArtifactLink = "ArtifactLink"
	AttrName        = "name"
	AttrComment     = "comment"
)

// WorkItem represents an Azure DevOps work item.
type WorkItem struct {
	ID        int                    `json:"id"`
	Rev       int                    `json:"rev"`
	URL       string                 `json:"url"`
	Fields    map[string]interface{} `json:"fields"`
	Relations []WorkItemRelation     `json:"relations,omitempty"`
}

// WorkItemRelation is a link from a work item to another work item,
// a hyperlink or a version control artifact.
type WorkItemRelation struct {
	Rel        string                 `json:"rel"`
	URL        string                 `json:"url"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Attribute returns a string attribute, or "".
func (r WorkItemRelation) Attribute(name string) string {
	if v, ok := r.Attributes[name].(string); ok {
		return v
	}
	return ""
}

// WIQLQueryRequest is the request body for WIQL queries.
type WIQLQueryRequest struct {
	Query string `json:"query"`
}

// WIQLQueryResponse is the response from a WIQL query.
type WIQLQueryResponse struct {
	QueryType       string        `json:"queryType"`
	QueryResultType string        `json:"queryResultType"`
	AsOf            string        `json:"asOf"`
	WorkItems       []WorkItemRef `json:"workItems"`
}

// WorkItemRef is a reference to a work item in WIQL results.
type WorkItemRef struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// WorkItemBatchResponse is the response from batch get.
type WorkItemBatchResponse struct {
	Count int        `json:"count"`
	Value []WorkItem `json:"value"`
}

// PatchOperation is one JSON patch operation of a work item update.
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
	From  string      `json:"from,omitempty"`
}

// Project is a team project.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	State       string `json:"state"`
	Visibility  string `json:"visibility,omitempty"`
}

// ProjectListResponse is the response from listing projects.
type ProjectListResponse struct {
	Count int       `json:"count"`
	Value []Project `json:"value"`
}

// ProjectRef is the project reference embedded in a repository.
type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GitRepository is a Git repository as listed by the Git API.
type GitRepository struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	RemoteURL string     `json:"remoteUrl,omitempty"`
	Project   ProjectRef `json:"project"`
}

// GitRepositoryListResponse is the response from listing repositories.
type GitRepositoryListResponse struct {
	Count int             `json:"count"`
	Value []GitRepository `json:"value"`
}
