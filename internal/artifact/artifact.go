// Package artifact classifies the opaque vstfs artifact URIs carried by
// external work item links and extracts the identifiers embedded in them.
//
// Examples of the encodings handled:
//
//	vstfs:///Git/Commit/<projectId>%2f<repositoryId>%2f<commitId>
//	vstfs:///Git/Ref/<projectId>%2f<repositoryId>%2f<refName>
//	vstfs:///Git/PullRequestId/<projectId>%2f<repositoryId>%2f<pullRequestId>
//	vstfs:///VersionControl/Changeset/<changesetId>
package artifact

import (
	"strconv"
	"strings"
)

// Kind is the artifact kind an external link URI points at.
type Kind int

const (
	KindUnknown Kind = iota
	KindGitCommit
	KindGitBranch
	KindTfvcChangeset
	KindPullRequest
)

func (k Kind) String() string {
	switch k {
	case KindGitCommit:
		return "git-commit"
	case KindGitBranch:
		return "git-branch"
	case KindTfvcChangeset:
		return "tfvc-changeset"
	case KindPullRequest:
		return "pull-request"
	default:
		return "unknown"
	}
}

// Separator is the percent-encoded slash joining the parts of a Git
// artifact id.
const Separator = "%2f"

// URI prefixes of the artifacts written by the rewrite engine.
const (
	GitCommitPrefix = "vstfs:///git/commit/"
	GitRefPrefix    = "vstfs:///git/ref/"
)

// Ref is the classification of one artifact URI.
type Ref struct {
	Kind          Kind
	ProjectID     string
	RepositoryID  string
	CommitID      string // commit id, or the ref remainder for KindGitBranch
	ChangesetID   int
	PullRequestID int
}

// Resolvable reports whether the kind carries enough identity to be mapped
// onto a target repository.
func (r Ref) Resolvable() bool {
	switch r.Kind {
	case KindGitCommit, KindGitBranch, KindTfvcChangeset:
		return true
	default:
		return false
	}
}

// Classify determines the artifact kind of uri and extracts its identifiers.
// It never fails: anything it cannot make sense of yields KindUnknown.
func Classify(uri string) Ref {
	lower := strings.ToLower(uri)

	switch {
	case strings.Contains(lower, "git/commit"):
		return classifyGit(uri, KindGitCommit)
	case strings.Contains(lower, "versioncontrol/changeset"):
		return classifyChangeset(uri)
	case strings.Contains(lower, "git/ref"):
		return classifyGit(uri, KindGitBranch)
	case strings.Contains(lower, "git/pullrequestid"):
		return classifyPullRequest(uri)
	}
	return Ref{}
}

func classifyGit(uri string, kind Kind) Ref {
	parts := SplitID(lastSegment(uri))
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		return Ref{}
	}
	return Ref{
		Kind:         kind,
		ProjectID:    parts[0],
		RepositoryID: parts[1],
		// The remainder may itself contain the separator (ref names with
		// slashes), so it is rejoined rather than truncated.
		CommitID: strings.Join(parts[2:], Separator),
	}
}

func classifyChangeset(uri string) Ref {
	id, err := strconv.Atoi(lastSegment(uri))
	if err != nil {
		return Ref{}
	}
	return Ref{Kind: KindTfvcChangeset, ChangesetID: id}
}

func classifyPullRequest(uri string) Ref {
	parts := SplitID(lastSegment(uri))
	if len(parts) != 3 || parts[1] == "" {
		return Ref{}
	}
	id, err := strconv.Atoi(parts[2])
	if err != nil {
		return Ref{}
	}
	return Ref{
		Kind:          KindPullRequest,
		ProjectID:     parts[0],
		RepositoryID:  parts[1],
		PullRequestID: id,
	}
}

// lastSegment returns the text after the last "/".
func lastSegment(uri string) string {
	return uri[strings.LastIndex(uri, "/")+1:]
}

// SplitID splits a Git artifact id on the percent-encoded slash, matching
// the separator case-insensitively. Original casing of the parts is kept.
func SplitID(s string) []string {
	lower := strings.ToLower(s)
	var parts []string
	for {
		i := strings.Index(lower, Separator)
		if i < 0 {
			return append(parts, s)
		}
		parts = append(parts, s[:i])
		s, lower = s[i+len(Separator):], lower[i+len(Separator):]
	}
}

// GitCommitURI builds a commit artifact URI.
func GitCommitURI(projectID, repositoryID, commitID string) string {
	return GitCommitPrefix + projectID + Separator + repositoryID + Separator + commitID
}

// GitRefURI builds a branch (ref) artifact URI.
func GitRefURI(projectID, repositoryID, ref string) string {
	return GitRefPrefix + projectID + Separator + repositoryID + Separator + ref
}
