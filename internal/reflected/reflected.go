// Package reflected encodes and decodes reflected work item ids: the stable
// pointer stored on a migrated target work item that identifies the source
// work item it was created from.
//
// The persisted form is fixed and versionless:
//
//	<connectionRoot>/<projectName>/_workitems/edit/<workItemId>
//
// Changing it would orphan every item migrated so far, so new formats may
// only be added as additional decoders tried after the existing one.
package reflected

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/witmigrate/witmigrate/internal/types"
)

var (
	// ErrInvalidArgument is returned when an id is built from empty or
	// otherwise unusable parts.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMalformedIdentity is returned when a stored string is not a
	// reflected id. It is a per-item failure.
	ErrMalformedIdentity = errors.New("malformed reflected work item id")

	// ErrInvalidState is returned when formatting an id with unset fields.
	ErrInvalidState = errors.New("reflected id has unset fields")
)

// workItemMarker separates the project from the numeric work item id.
const workItemMarker = "/_workitems/edit/"

// controlChars may not appear in the root or project of a persisted id.
const controlChars = "\t\r\n"

// ID is an immutable reflected work item id.
type ID struct {
	connectionRoot string
	projectName    string
	workItemID     string
}

// Encode builds a reflected id for a work item of origin.
func Encode(projectName, workItemID, connectionRoot string) (ID, error) {
	projectName = strings.TrimSpace(projectName)
	workItemID = strings.TrimSpace(workItemID)
	connectionRoot = strings.TrimRight(strings.TrimSpace(connectionRoot), "/")

	switch {
	case projectName == "":
		return ID{}, fmt.Errorf("%w: project name is empty", ErrInvalidArgument)
	case workItemID == "":
		return ID{}, fmt.Errorf("%w: work item id is empty", ErrInvalidArgument)
	case connectionRoot == "":
		return ID{}, fmt.Errorf("%w: connection root is empty", ErrInvalidArgument)
	case strings.Contains(projectName, "/"):
		return ID{}, fmt.Errorf("%w: project name %q contains a slash", ErrInvalidArgument, projectName)
	case strings.ContainsAny(projectName, controlChars):
		return ID{}, fmt.Errorf("%w: project name %q contains a control character", ErrInvalidArgument, projectName)
	case strings.ContainsAny(connectionRoot, controlChars):
		return ID{}, fmt.Errorf("%w: connection root %q contains a control character", ErrInvalidArgument, connectionRoot)
	case !isDigits(workItemID):
		return ID{}, fmt.Errorf("%w: work item id %q is not numeric", ErrInvalidArgument, workItemID)
	}

	u, err := url.Parse(connectionRoot)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ID{}, fmt.Errorf("%w: connection root %q is not an absolute URI", ErrInvalidArgument, connectionRoot)
	}

	return ID{
		connectionRoot: connectionRoot,
		projectName:    projectName,
		workItemID:     workItemID,
	}, nil
}

// EncodeWorkItem builds the reflected id of wi as seen from connectionRoot.
func EncodeWorkItem(connectionRoot string, wi *types.WorkItem) (ID, error) {
	if wi == nil {
		return ID{}, fmt.Errorf("%w: work item is nil", ErrInvalidArgument)
	}
	if wi.ID <= 0 {
		return ID{}, fmt.Errorf("%w: work item id %d", ErrInvalidArgument, wi.ID)
	}
	return Encode(wi.Project, strconv.Itoa(wi.ID), connectionRoot)
}

// decoder parses one historical reflected id layout.
type decoder func(raw string) (ID, bool)

// decoders are tried in order; append new layouts, never reorder.
func decoders() []decoder {
	return []decoder{decodeWorkItemEditURL}
}

// Decode parses a persisted reflected id.
func Decode(raw string) (ID, error) {
	s := strings.TrimSpace(raw)
	for _, dec := range decoders() {
		if id, ok := dec(s); ok {
			return id, nil
		}
	}
	return ID{}, fmt.Errorf("%w: %q", ErrMalformedIdentity, raw)
}

// decodeWorkItemEditURL parses <root>/<project>/_workitems/edit/<digits>.
// The root is everything up to the last slash before the project, so the
// project may contain spaces but not slashes. Text after the digits, such
// as a query string pasted along with the URL, is ignored.
func decodeWorkItemEditURL(s string) (ID, bool) {
	idx := strings.LastIndex(s, workItemMarker)
	if idx <= 0 {
		return ID{}, false
	}

	num := leadingDigits(s[idx+len(workItemMarker):])
	if num == "" {
		return ID{}, false
	}

	head := s[:idx]
	slash := strings.LastIndex(head, "/")
	if slash <= 0 || slash == len(head)-1 {
		return ID{}, false
	}
	root, project := head[:slash], head[slash+1:]
	if strings.HasSuffix(root, "/") || strings.TrimSpace(project) == "" {
		return ID{}, false
	}
	if strings.ContainsAny(root, controlChars) || strings.ContainsAny(project, controlChars) {
		return ID{}, false
	}

	return ID{connectionRoot: root, projectName: project, workItemID: num}, true
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ConnectionRoot returns the collection or organization URL, without a
// trailing slash.
func (id ID) ConnectionRoot() string { return id.connectionRoot }

// ProjectName returns the project of origin.
func (id ID) ProjectName() string { return id.projectName }

// WorkItemID returns the work item id of origin as stored.
func (id ID) WorkItemID() string { return id.workItemID }

// WorkItemNumber returns the work item id of origin as an int. It fails
// only for the zero ID or an id too large for an int.
func (id ID) WorkItemNumber() (int, error) {
	n, err := strconv.Atoi(id.workItemID)
	if err != nil {
		return 0, fmt.Errorf("%w: work item id %q is not numeric", ErrInvalidState, id.workItemID)
	}
	return n, nil
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Format renders the persisted form of the id.
func (id ID) Format() (string, error) {
	switch {
	case id.connectionRoot == "":
		return "", fmt.Errorf("%w: connection root", ErrInvalidState)
	case id.projectName == "":
		return "", fmt.Errorf("%w: project name", ErrInvalidState)
	case id.workItemID == "":
		return "", fmt.Errorf("%w: work item id", ErrInvalidState)
	}
	return id.connectionRoot + "/" + id.projectName + workItemMarker + id.workItemID, nil
}

// String returns the persisted form, or "" for an incomplete id.
func (id ID) String() string {
	s, err := id.Format()
	if err != nil {
		return ""
	}
	return s
}
