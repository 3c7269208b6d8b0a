// Package resolver maps source artifact references onto target repositories
// across the source and target organization and project namespaces.
package resolver

import (
	"errors"
	"fmt"

	"github.com/witmigrate/witmigrate/internal/artifact"
	"github.com/witmigrate/witmigrate/internal/types"
)

// ErrNotResolved is wrapped by every resolution failure. A failed link is
// skipped; it is never fatal to the work item or the batch.
var ErrNotResolved = errors.New("artifact not resolved")

// Specific resolution failures. Each wraps ErrNotResolved.
var (
	ErrSourceRepoNotFound = fmt.Errorf("%w: source repository not found", ErrNotResolved)
	ErrTargetRepoNotFound = fmt.Errorf("%w: no matching target repository", ErrNotResolved)
	ErrAmbiguousTarget    = fmt.Errorf("%w: more than one matching target repository", ErrNotResolved)
	ErrChangesetNotMapped = fmt.Errorf("%w: changeset has no commit mapping", ErrNotResolved)
	ErrUnsupported        = fmt.Errorf("%w: artifact kind not supported", ErrNotResolved)
	ErrUnclassified       = fmt.Errorf("%w: artifact kind unknown", ErrNotResolved)
)

// Resolution is a source artifact mapped onto the target side.
type Resolution struct {
	SourceRepo types.Repository
	TargetRepo types.Repository
	CommitID   string
}

// Resolver maps artifact references onto target repositories.
type Resolver interface {
	Resolve(ref artifact.Ref, workItemSourceProject string) (*Resolution, error)
}

// Options configures a StandardResolver. Catalogs and mapping tables are
// treated as read-only snapshots for the lifetime of the resolver.
type Options struct {
	Source *Catalog
	Target *Catalog

	// NameMapping renames source repositories on the target side.
	// Repositories without an entry keep their name.
	NameMapping map[string]string

	// ChangesetMapping maps TFVC changeset ids to the Git commits they were
	// converted to.
	ChangesetMapping map[int]string

	SourceProject string
	TargetProject string
}

// StandardResolver implements the default resolution policy.
type StandardResolver struct {
	opts Options
}

// NewStandardResolver creates a resolver over the given snapshots.
func NewStandardResolver(opts Options) *StandardResolver {
	return &StandardResolver{opts: opts}
}

// Resolve maps ref onto the target side. workItemSourceProject is the
// project of the work item the link came from; it names the repository of
// TFVC changesets.
func (r *StandardResolver) Resolve(ref artifact.Ref, workItemSourceProject string) (*Resolution, error) {
	switch ref.Kind {
	case artifact.KindGitCommit, artifact.KindGitBranch:
		return r.resolveGit(ref)
	case artifact.KindTfvcChangeset:
		return r.resolveChangeset(ref, workItemSourceProject)
	case artifact.KindPullRequest:
		return nil, ErrUnsupported
	default:
		return nil, ErrUnclassified
	}
}

func (r *StandardResolver) resolveGit(ref artifact.Ref) (*Resolution, error) {
	src, ok := r.opts.Source.ByID(ref.RepositoryID)
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrSourceRepoNotFound, ref.RepositoryID)
	}

	target, err := r.TargetRepository(src.Name)
	if err != nil {
		return nil, err
	}
	return &Resolution{SourceRepo: src, TargetRepo: target, CommitID: ref.CommitID}, nil
}

func (r *StandardResolver) resolveChangeset(ref artifact.Ref, workItemSourceProject string) (*Resolution, error) {
	commitID := r.opts.ChangesetMapping[ref.ChangesetID]
	if commitID == "" {
		return nil, fmt.Errorf("%w: changeset %d", ErrChangesetNotMapped, ref.ChangesetID)
	}

	// TFVC has no repository identity of its own; the converted repository
	// is assumed to be named after the work item's project.
	src := types.Repository{Name: workItemSourceProject, ProjectName: workItemSourceProject}

	target, err := r.TargetRepository(src.Name)
	if err != nil {
		return nil, err
	}
	return &Resolution{SourceRepo: src, TargetRepo: target, CommitID: commitID}, nil
}

// TargetName applies the name mapping to a source repository name.
func (r *StandardResolver) TargetName(sourceName string) string {
	if mapped, ok := r.opts.NameMapping[sourceName]; ok && mapped != "" {
		return mapped
	}
	return sourceName
}

// TargetRepository finds the single target repository a source repository
// named sourceName maps to.
//
// When source and target projects are the same, the target repository must
// belong to that project. When they differ, a same-named repository still
// belonging to the old source project is excluded so links are not wired
// back into the project being migrated away from.
func (r *StandardResolver) TargetRepository(sourceName string) (types.Repository, error) {
	name := r.TargetName(sourceName)
	sameProject := r.opts.SourceProject == r.opts.TargetProject

	var matches []types.Repository
	for _, repo := range r.opts.Target.ByName(name) {
		inSourceProject := repo.ProjectName == r.opts.SourceProject
		if inSourceProject == sameProject {
			matches = append(matches, repo)
		}
	}

	switch len(matches) {
	case 0:
		return types.Repository{}, fmt.Errorf("%w: %q", ErrTargetRepoNotFound, name)
	case 1:
		return matches[0], nil
	default:
		return types.Repository{}, fmt.Errorf("%w: %q matched %d repositories", ErrAmbiguousTarget, name, len(matches))
	}
}
