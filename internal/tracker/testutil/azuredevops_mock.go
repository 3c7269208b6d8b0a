//go:build integration

package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/witmigrate/witmigrate/internal/tracker/azuredevops"
)

// AzureDevOpsMockServer serves work items with relations, WIQL queries,
// JSON patch updates, projects and Git repositories from memory.
type AzureDevOpsMockServer struct {
	*MockServer

	mu        sync.Mutex
	workItems map[int]*azuredevops.WorkItem
	order     []int
	projects  []azuredevops.Project
	repos     []azuredevops.GitRepository
	patches   map[int][][]azuredevops.PatchOperation
}

// NewAzureDevOpsMockServer creates a new Azure DevOps mock server.
func NewAzureDevOpsMockServer() *AzureDevOpsMockServer {
	m := &AzureDevOpsMockServer{
		MockServer: NewMockServer(),
		workItems:  make(map[int]*azuredevops.WorkItem),
		patches:    make(map[int][][]azuredevops.PatchOperation),
	}
	m.SetHandler(m.route)
	return m
}

func (m *AzureDevOpsMockServer) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case strings.HasSuffix(path, "/_apis/wit/wiql") && r.Method == http.MethodPost:
		m.handleWIQL(w)
	case strings.HasSuffix(path, "/_apis/wit/workitems") && r.Method == http.MethodGet:
		m.handleBatch(w, r)
	case strings.Contains(path, "/_apis/wit/workitems/") && r.Method == http.MethodGet:
		m.handleGet(w, r)
	case strings.Contains(path, "/_apis/wit/workitems/") && r.Method == http.MethodPatch:
		m.handlePatch(w, r)
	case strings.HasSuffix(path, "/_apis/git/repositories") && r.Method == http.MethodGet:
		m.handleRepositories(w, r)
	case strings.HasSuffix(path, "/_apis/projects") && r.Method == http.MethodGet:
		m.mu.Lock()
		resp := azuredevops.ProjectListResponse{Count: len(m.projects), Value: m.projects}
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, resp)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
	}
}

func (m *AzureDevOpsMockServer) handleWIQL(w http.ResponseWriter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]azuredevops.WorkItemRef, 0, len(m.order))
	for _, id := range m.order {
		refs = append(refs, azuredevops.WorkItemRef{
			ID:  id,
			URL: m.Server.URL + "/_apis/wit/workitems/" + strconv.Itoa(id),
		})
	}
	writeJSON(w, http.StatusOK, azuredevops.WIQLQueryResponse{
		QueryType:       "flat",
		QueryResultType: "workItem",
		WorkItems:       refs,
	})
}

func (m *AzureDevOpsMockServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []azuredevops.WorkItem
	for _, s := range strings.Split(r.URL.Query().Get("ids"), ",") {
		id, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		if wi, ok := m.workItems[id]; ok {
			found = append(found, *wi)
		}
	}
	writeJSON(w, http.StatusOK, azuredevops.WorkItemBatchResponse{Count: len(found), Value: found})
}

func (m *AzureDevOpsMockServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r.URL.Path)
	if !ok {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	wi, ok := m.workItems[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Work item not found"})
		return
	}
	writeJSON(w, http.StatusOK, wi)
}

func (m *AzureDevOpsMockServer) handlePatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r.URL.Path)
	if !ok {
		writeJSON(w, http.StatusBadRequest, nil)
		return
	}
	var ops []azuredevops.PatchOperation
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	wi, ok := m.workItems[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Work item not found"})
		return
	}
	updated, err := applyPatch(*wi, ops)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	updated.Rev++
	m.workItems[id] = &updated
	m.patches[id] = append(m.patches[id], ops)
	writeJSON(w, http.StatusOK, updated)
}

func (m *AzureDevOpsMockServer) handleRepositories(w http.ResponseWriter, r *http.Request) {
	project := strings.TrimSuffix(r.URL.Path, "/_apis/git/repositories")
	project = strings.Trim(project, "/")

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []azuredevops.GitRepository
	for _, repo := range m.repos {
		if project == "" || repo.Project.Name == project {
			out = append(out, repo)
		}
	}
	writeJSON(w, http.StatusOK, azuredevops.GitRepositoryListResponse{Count: len(out), Value: out})
}

// applyPatch applies the operations the work item store emits: a /rev test,
// relation removals and additions, and field adds.
func applyPatch(wi azuredevops.WorkItem, ops []azuredevops.PatchOperation) (azuredevops.WorkItem, error) {
	fields := make(map[string]interface{}, len(wi.Fields))
	for k, v := range wi.Fields {
		fields[k] = v
	}
	rels := append([]azuredevops.WorkItemRelation(nil), wi.Relations...)

	for _, op := range ops {
		switch {
		case op.Op == "test" && op.Path == "/rev":
			rev, _ := op.Value.(float64)
			if int(rev) != wi.Rev {
				return wi, fmt.Errorf("rev mismatch: have %d, patch expects %v", wi.Rev, op.Value)
			}
		case op.Op == "remove" && strings.HasPrefix(op.Path, "/relations/"):
			i, err := strconv.Atoi(strings.TrimPrefix(op.Path, "/relations/"))
			if err != nil || i < 0 || i >= len(rels) {
				return wi, fmt.Errorf("bad relation index in %s", op.Path)
			}
			rels = append(rels[:i], rels[i+1:]...)
		case op.Op == "add" && op.Path == "/relations/-":
			raw, _ := json.Marshal(op.Value)
			var rel azuredevops.WorkItemRelation
			if err := json.Unmarshal(raw, &rel); err != nil {
				return wi, err
			}
			rels = append(rels, rel)
		case op.Op == "add" && strings.HasPrefix(op.Path, "/fields/"):
			fields[strings.TrimPrefix(op.Path, "/fields/")] = op.Value
		default:
			return wi, fmt.Errorf("unsupported patch op %s %s", op.Op, op.Path)
		}
	}
	wi.Fields = fields
	wi.Relations = rels
	return wi, nil
}

// AddWorkItem adds or replaces a work item. Query results follow insertion order.
func (m *AzureDevOpsMockServer) AddWorkItem(wi azuredevops.WorkItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workItems[wi.ID]; !ok {
		m.order = append(m.order, wi.ID)
	}
	c := wi
	m.workItems[wi.ID] = &c
}

// WorkItem returns the current server-side state of an item.
func (m *AzureDevOpsMockServer) WorkItem(id int) (azuredevops.WorkItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wi, ok := m.workItems[id]
	if !ok {
		return azuredevops.WorkItem{}, false
	}
	return *wi, true
}

// Patches returns the patches applied to an item, oldest first.
func (m *AzureDevOpsMockServer) Patches(id int) [][]azuredevops.PatchOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]azuredevops.PatchOperation(nil), m.patches[id]...)
}

// SetProjects configures the projects that will be returned.
func (m *AzureDevOpsMockServer) SetProjects(projects ...azuredevops.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects = projects
}

// AddRepositories registers Git repositories.
func (m *AzureDevOpsMockServer) AddRepositories(repos ...azuredevops.GitRepository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos = append(m.repos, repos...)
}

func pathID(path string) (int, bool) {
	parts := strings.Split(path, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if id, err := strconv.Atoi(parts[i]); err == nil {
			return id, true
		}
	}
	return 0, false
}

// Helper functions for creating test data

// MakeADOWorkItem creates a work item in project with the given artifact links.
func MakeADOWorkItem(id int, project, title string, links ...azuredevops.WorkItemRelation) azuredevops.WorkItem {
	return azuredevops.WorkItem{
		ID:  id,
		Rev: 1,
		URL: "https://dev.azure.com/testorg/" + project + "/_apis/wit/workitems/" + strconv.Itoa(id),
		Fields: map[string]interface{}{
			"System.Id":           float64(id),
			"System.TeamProject":  project,
			"System.Title":        title,
			"System.WorkItemType": "Task",
			"System.ChangedBy": map[string]interface{}{
				"displayName": "Test User",
				"uniqueName":  "test@example.com",
			},
		},
		Relations: links,
	}
}

// ArtifactLink builds an artifact link relation.
func ArtifactLink(name, uri string) azuredevops.WorkItemRelation {
	return azuredevops.WorkItemRelation{
		Rel:        azuredevops.RelArtifactLink,
		URL:        uri,
		Attributes: map[string]interface{}{azuredevops.AttrName: name},
	}
}

// HyperLink builds a plain hyperlink relation.
func HyperLink(uri string) azuredevops.WorkItemRelation {
	return azuredevops.WorkItemRelation{Rel: "Hyperlink", URL: uri}
}

// MakeADORepository creates a Git repository in a project.
func MakeADORepository(id, name, projectID, projectName string) azuredevops.GitRepository {
	return azuredevops.GitRepository{
		ID:        id,
		Name:      name,
		URL:       "https://dev.azure.com/testorg/" + projectName + "/_apis/git/repositories/" + id,
		RemoteURL: "https://dev.azure.com/testorg/" + projectName + "/_git/" + name,
		Project:   azuredevops.ProjectRef{ID: projectID, Name: projectName},
	}
}

// MakeADOProject creates a test Azure DevOps project.
func MakeADOProject(id, name string) azuredevops.Project {
	return azuredevops.Project{
		ID:         id,
		Name:       name,
		URL:        "https://dev.azure.com/testorg/_apis/projects/" + id,
		State:      "wellFormed",
		Visibility: "private",
	}
}
