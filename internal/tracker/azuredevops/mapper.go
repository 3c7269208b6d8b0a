package azuredevops

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/witmigrate/witmigrate/internal/types"
)

// ToWorkItem converts an API work item into the engine's model. Only
// string-like fields are kept; artifact link relations become ExternalLinks
// in relation order.
func ToWorkItem(wi *WorkItem) *types.WorkItem {
	if wi == nil {
		return nil
	}
	out := &types.WorkItem{
		ID:     wi.ID,
		Rev:    wi.Rev,
		Fields: make(map[string]string, len(wi.Fields)),
	}
	for name, v := range wi.Fields {
		if s, ok := fieldString(v); ok {
			out.Fields[name] = s
		}
	}
	out.Project = out.Fields[types.FieldTeamProject]
	out.Type = out.Fields[types.FieldWorkItemType]
	out.Title = out.Fields[types.FieldTitle]

	for _, rel := range wi.Relations {
		if link, ok := ToExternalLink(rel); ok {
			out.Links = append(out.Links, link)
		}
	}
	return out
}

// ToExternalLink converts an ArtifactLink relation. Other relation kinds
// (work item links, hyperlinks, attachments) report false.
func ToExternalLink(rel WorkItemRelation) (types.ExternalLink, bool) {
	if rel.Rel != RelArtifactLink {
		return types.ExternalLink{}, false
	}
	return types.ExternalLink{
		Type:    types.LinkType(rel.Attribute(AttrName)),
		URI:     rel.URL,
		Comment: rel.Attribute(AttrComment),
	}, true
}

// FromExternalLink builds the relation value of an "add" patch operation.
func FromExternalLink(link types.ExternalLink) WorkItemRelation {
	attrs := map[string]interface{}{AttrName: string(link.Type)}
	if link.Comment != "" {
		attrs[AttrComment] = link.Comment
	}
	return WorkItemRelation{Rel: RelArtifactLink, URL: link.URI, Attributes: attrs}
}

// fieldString flattens a JSON field value. Identity fields are objects; their
// display name is used.
func fieldString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case map[string]interface{}:
		if name, ok := t["displayName"].(string); ok {
			return name, true
		}
	}
	return "", false
}

// ParseWorkItemID extracts the numeric id from a work item web or REST URL.
func ParseWorkItemID(rawURL string) (int, error) {
	trimmed := strings.TrimRight(strings.SplitN(rawURL, "?", 2)[0], "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return 0, fmt.Errorf("no work item id in %q", rawURL)
	}
	id, err := strconv.Atoi(trimmed[idx+1:])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("no work item id in %q", rawURL)
	}
	return id, nil
}
