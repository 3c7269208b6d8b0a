// Package linkfix rewrites a target work item's source-system artifact links
// into equivalent target-system links and commits the result.
package linkfix

import (
	"context"
	"errors"
	"fmt"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"github.com/witmigrate/witmigrate/internal/artifact"
	"github.com/witmigrate/witmigrate/internal/debug"
	"github.com/witmigrate/witmigrate/internal/resolver"
	"github.com/witmigrate/witmigrate/internal/types"
)

// ErrPersistence marks a store failure while applying a change set.
var ErrPersistence = errors.New("persistence failure")

// WorkItemStore persists link edits on target work items. AddLink and
// RemoveLink edit wi in place, marking it dirty; Save persists it.
type WorkItemStore interface {
	GetWorkItem(ctx context.Context, id int) (*types.WorkItem, error)
	AddLink(ctx context.Context, wi *types.WorkItem, link types.ExternalLink) error
	RemoveLink(ctx context.Context, wi *types.WorkItem, link types.ExternalLink) error
	Save(ctx context.Context, wi *types.WorkItem) error
}

// Metrics receives per-item outcomes. Implementations must be safe for
// concurrent use when the driver runs several workers.
type Metrics interface {
	RecordOutcome(ctx context.Context, wi *types.WorkItem, o Outcome)
}

// Engine computes and applies link change sets. It keeps no per-item state,
// so one engine can serve a whole batch.
type Engine struct {
	resolver resolver.Resolver

	// SourceProject is used for items whose source work item is unknown.
	SourceProject string

	Logger    *charmLog.Logger
	OnWarning func(msg string)
	Metrics   Metrics
}

// NewEngine creates an engine resolving links through res on behalf of
// sourceProject.
func NewEngine(res resolver.Resolver, sourceProject string) *Engine {
	return &Engine{resolver: res, SourceProject: sourceProject}
}

func (e *Engine) logger() *charmLog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return debug.Logger()
}

func (e *Engine) warn(msg string, keyvals ...interface{}) {
	e.logger().Warn(msg, keyvals...)
	if e.OnWarning != nil {
		e.OnWarning(msg)
	}
}

// RewriteLinks computes the change set for target. source is the work item
// the target was migrated from; it may be nil when it could not be loaded.
//
// Links that cannot be resolved are recorded as skipped and left in place.
// Pull request links are always removed and never recreated.
func (e *Engine) RewriteLinks(target, source *types.WorkItem) ChangeSet {
	var cs ChangeSet
	if target == nil {
		return cs
	}

	sourceProject := e.SourceProject
	if source != nil && source.Project != "" {
		sourceProject = source.Project
	}

	for _, link := range target.Links {
		if !link.Type.IsRecognized() {
			continue
		}

		if link.Type == types.LinkTypePullRequest {
			e.logger().Info("pull request links are not migrated, removing",
				"item", target.ID, "uri", link.URI)
			cs.remove(link)
			continue
		}

		ref := artifact.Classify(link.URI)
		res, err := e.resolver.Resolve(ref, sourceProject)
		if err != nil {
			if errors.Is(err, resolver.ErrAmbiguousTarget) {
				e.warn(fmt.Sprintf("work item %d: %v", target.ID, err), "uri", link.URI)
			} else {
				e.logger().Debug("link not resolved", "item", target.ID, "uri", link.URI, "err", err)
			}
			cs.skip(link, err)
			continue
		}

		replacement := rewrite(link, res)

		// Already pointing at the target repository.
		if replacement.SameURI(link) {
			continue
		}

		if target.HasLink(replacement.URI) || cs.scheduled(replacement.URI) {
			e.logger().Debug("replacement already present", "item", target.ID, "uri", replacement.URI)
		} else {
			cs.add(replacement)
		}
		cs.remove(link)
	}
	return cs
}

// rewrite builds the target-side link for a resolved original.
// The link's type tag, not its URI, decides the output shape. Only Branch,
// Fixed in Commit and Fixed in Changeset links get here; the other types
// are filtered out by RewriteLinks.
func rewrite(link types.ExternalLink, res *resolver.Resolution) types.ExternalLink {
	projectID := res.TargetRepo.ProjectID
	repoID := res.TargetRepo.ID

	if link.Type == types.LinkTypeBranch {
		return types.ExternalLink{
			Type:    types.LinkTypeBranch,
			URI:     artifact.GitRefURI(projectID, repoID, res.CommitID),
			Comment: link.Comment,
		}
	}
	return types.ExternalLink{
		Type:    types.LinkTypeFixedInCommit,
		URI:     artifact.GitCommitURI(projectID, repoID, res.CommitID),
		Comment: link.Comment,
	}
}

// ApplyResult counts what Apply actually did.
type ApplyResult struct {
	Added          int
	Removed        int
	AddFailures    int
	RemoveFailures int
	Saved          bool
}

// Failures returns the number of link edits the store rejected.
func (r ApplyResult) Failures() int {
	return r.AddFailures + r.RemoveFailures
}

// Apply commits cs to wi through store. Removals go first so an addition is
// never blocked by the link it replaces. Individual link failures are
// counted and logged; only a failed save is returned, wrapping ErrPersistence.
func (e *Engine) Apply(ctx context.Context, store WorkItemStore, wi *types.WorkItem, cs ChangeSet) (ApplyResult, error) {
	var result ApplyResult

	for _, l := range cs.ToRemove {
		if err := store.RemoveLink(ctx, wi, l); err != nil {
			result.RemoveFailures++
			e.logger().Error("removing link", "item", wi.ID, "uri", l.URI, "err", err)
			continue
		}
		result.Removed++
	}

	for _, l := range cs.ToAdd {
		if err := store.AddLink(ctx, wi, l); err != nil {
			result.AddFailures++
			e.logger().Error("adding link", "item", wi.ID, "uri", l.URI, "err", err)
			continue
		}
		result.Added++
	}

	if !wi.IsDirty() {
		return result, nil
	}

	wi.SetField(types.FieldChangedBy, types.ChangedByMigration)
	if err := store.Save(ctx, wi); err != nil {
		return result, fmt.Errorf("%w: saving work item %d: %v", ErrPersistence, wi.ID, err)
	}
	result.Saved = true
	return result, nil
}

// Outcome is the per-item report of a Fix call.
type Outcome struct {
	ChangeSet ChangeSet
	Result    ApplyResult
}

// Unresolved returns the number of recognized links left untouched.
func (o Outcome) Unresolved() int {
	return len(o.ChangeSet.Skipped)
}

// Fix rewrites target's links and applies the change set.
func (e *Engine) Fix(ctx context.Context, store WorkItemStore, target, source *types.WorkItem) (Outcome, error) {
	cs := e.RewriteLinks(target, source)
	out := Outcome{ChangeSet: cs}

	var err error
	if !cs.Empty() {
		out.Result, err = e.Apply(ctx, store, target, cs)
	}
	if e.Metrics != nil {
		e.Metrics.RecordOutcome(ctx, target, out)
	}
	return out, err
}

// Describe renders a one-line summary of a change set for logs and dry runs.
func Describe(cs ChangeSet) string {
	var parts []string
	for _, l := range cs.ToRemove {
		parts = append(parts, "-"+l.String())
	}
	for _, l := range cs.ToAdd {
		parts = append(parts, "+"+l.String())
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ")
}
