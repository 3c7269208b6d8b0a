// Package types defines the work item and link data structures shared by the
// migration engine, its stores and the CLI.
package types

import (
	"fmt"
	"strings"
)

// LinkType is the artifact link type name carried by an external link
// (the registered link type name in the work tracking system).
type LinkType string

// Artifact link types the rewrite engine knows how to handle.
const (
	LinkTypeBranch           LinkType = "Branch"
	LinkTypeFixedInCommit    LinkType = "Fixed in Commit"
	LinkTypeFixedInChangeset LinkType = "Fixed in Changeset" // TFVC
	LinkTypePullRequest      LinkType = "Pull Request"
)

// RecognizedLinkTypes lists the link types considered for rewriting, in the
// order they are reported.
var RecognizedLinkTypes = []LinkType{
	LinkTypeBranch,
	LinkTypeFixedInCommit,
	LinkTypePullRequest,
	LinkTypeFixedInChangeset,
}

// IsRecognized reports whether the link type takes part in link rewriting.
func (t LinkType) IsRecognized() bool {
	for _, rt := range RecognizedLinkTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// ExternalLink is a typed link from a work item to a version control artifact.
type ExternalLink struct {
	Type    LinkType `json:"type"`
	URI     string   `json:"uri"`
	Comment string   `json:"comment,omitempty"`
}

// SameURI reports whether both links point at the same artifact URI.
// Artifact URIs are compared case-insensitively.
func (l ExternalLink) SameURI(other ExternalLink) bool {
	return strings.EqualFold(l.URI, other.URI)
}

func (l ExternalLink) String() string {
	return fmt.Sprintf("%s <%s>", l.Type, l.URI)
}

// Well-known system fields.
const (
	FieldChangedBy    = "System.ChangedBy"
	FieldTeamProject  = "System.TeamProject"
	FieldTitle        = "System.Title"
	FieldWorkItemType = "System.WorkItemType"
)

// ChangedByMigration is the attribution stamped on items saved by the engine.
const ChangedByMigration = "Migration"

// WorkItem is the part of a work item the link migration cares about.
type WorkItem struct {
	ID      int               `json:"id"`
	Rev     int               `json:"rev,omitempty"`
	Project string            `json:"project"`
	Type    string            `json:"type,omitempty"`
	Title   string            `json:"title,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Links   []ExternalLink    `json:"links,omitempty"`

	dirty bool
}

// Field returns a plain text field value, or "" when unset.
func (w *WorkItem) Field(name string) string {
	if w.Fields == nil {
		return ""
	}
	return w.Fields[name]
}

// SetField sets a plain text field and marks the item dirty.
func (w *WorkItem) SetField(name, value string) {
	if w.Fields == nil {
		w.Fields = make(map[string]string)
	}
	if cur, ok := w.Fields[name]; ok && cur == value {
		return
	}
	w.Fields[name] = value
	w.dirty = true
}

// HasLink reports whether the item carries a link with the same URI
// (case-insensitive), regardless of its type.
func (w *WorkItem) HasLink(uri string) bool {
	for _, l := range w.Links {
		if strings.EqualFold(l.URI, uri) {
			return true
		}
	}
	return false
}

// AddLink appends a link. Returns false, leaving the item untouched, when a
// link with the same URI is already present.
func (w *WorkItem) AddLink(l ExternalLink) bool {
	if w.HasLink(l.URI) {
		return false
	}
	w.Links = append(w.Links, l)
	w.dirty = true
	return true
}

// RemoveLink removes the link matching both type and URI.
// Returns false when no such link is present.
func (w *WorkItem) RemoveLink(l ExternalLink) bool {
	for i, cur := range w.Links {
		if cur.Type == l.Type && cur.SameURI(l) {
			w.Links = append(w.Links[:i:i], w.Links[i+1:]...)
			w.dirty = true
			return true
		}
	}
	return false
}

// IsDirty reports whether the item changed since it was loaded or saved.
func (w *WorkItem) IsDirty() bool { return w.dirty }

// MarkDirty flags the item as changed.
func (w *WorkItem) MarkDirty() { w.dirty = true }

// ClearDirty resets the change flag, typically after a successful save.
func (w *WorkItem) ClearDirty() { w.dirty = false }

// Clone returns a deep copy of the work item, including the dirty flag.
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	c := *w
	if w.Fields != nil {
		c.Fields = make(map[string]string, len(w.Fields))
		for k, v := range w.Fields {
			c.Fields[k] = v
		}
	}
	if w.Links != nil {
		c.Links = append([]ExternalLink(nil), w.Links...)
	}
	return &c
}
