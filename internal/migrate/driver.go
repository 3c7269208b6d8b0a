// Package migrate drives the link rewrite engine over a batch of target
// work items.
package migrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/witmigrate/witmigrate/internal/debug"
	"github.com/witmigrate/witmigrate/internal/linkfix"
	"github.com/witmigrate/witmigrate/internal/reflected"
	"github.com/witmigrate/witmigrate/internal/telemetry"
	"github.com/witmigrate/witmigrate/internal/types"
)

// DefaultReflectedIDField is the target field holding the reflected id.
const DefaultReflectedIDField = "Custom.ReflectedWorkItemId"

const tracerName = "github.com/witmigrate/witmigrate/migrate"

// WorkItemSource loads source work items by id.
type WorkItemSource interface {
	GetWorkItem(ctx context.Context, id int) (*types.WorkItem, error)
}

// Journal records item results so runs can be resumed.
type Journal interface {
	Record(ctx context.Context, rec types.ItemRecord) error
	Completed(ctx context.Context, runKey string) (map[int]bool, error)
}

// RunOptions controls one Run call.
type RunOptions struct {
	DryRun bool
	Resume bool

	// Workers bounds concurrent items. Values below 1 mean sequential.
	Workers int
}

// ItemReport is the per-item result handed to OnItem.
type ItemReport struct {
	ID      int
	Status  types.ItemStatus
	Outcome linkfix.Outcome
	Err     error
}

// Driver runs the engine over work items.
type Driver struct {
	Target linkfix.WorkItemStore
	// Source may be nil; items are then rewritten without their origin.
	Source  WorkItemSource
	Engine  *linkfix.Engine
	Journal Journal

	ReflectedIDField string
	RunKey           string

	Logger *charmLog.Logger
	// OnItem is called once per item, concurrently when Workers > 1.
	OnItem func(ItemReport)
}

func (d *Driver) logger() *charmLog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return debug.Logger()
}

func (d *Driver) field() string {
	if d.ReflectedIDField != "" {
		return d.ReflectedIDField
	}
	return DefaultReflectedIDField
}

// Run processes ids and returns the batch summary. Cancellation is checked
// between items; an item already started runs to completion. The returned
// error is non-nil only when ctx was cancelled or the journal could not be
// read for a resume.
func (d *Driver) Run(ctx context.Context, ids []int, opts RunOptions) (*Summary, error) {
	start := time.Now()
	summary := &Summary{DryRun: opts.DryRun}

	var done map[int]bool
	if opts.Resume && d.Journal != nil {
		var err error
		done, err = d.Journal.Completed(ctx, d.RunKey)
		if err != nil {
			return summary, fmt.Errorf("reading journal for resume: %w", err)
		}
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	report := func(r ItemReport) {
		mu.Lock()
		summary.add(r)
		mu.Unlock()
		if d.OnItem != nil {
			d.OnItem(r)
		}
	}

	var g errgroup.Group
	g.SetLimit(workers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if done[id] {
			report(ItemReport{ID: id, Status: types.StatusResumed})
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			// A started item is not interrupted halfway through its edits.
			report(d.processItem(context.WithoutCancel(ctx), id, opts))
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (d *Driver) processItem(ctx context.Context, id int, opts RunOptions) ItemReport {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "migrate.item",
		trace.WithAttributes(attribute.Int("witm.item.id", id)))
	defer span.End()

	rep := d.rewriteItem(ctx, id, opts)
	span.SetAttributes(attribute.String("witm.item.status", string(rep.Status)))
	if rep.Err != nil {
		span.RecordError(rep.Err)
		span.SetStatus(codes.Error, rep.Err.Error())
	}

	if !opts.DryRun {
		d.record(ctx, rep)
	}
	return rep
}

func (d *Driver) rewriteItem(ctx context.Context, id int, opts RunOptions) ItemReport {
	log := d.logger().With("item", id)
	rep := ItemReport{ID: id}

	target, err := d.Target.GetWorkItem(ctx, id)
	if err != nil {
		log.Error("loading target work item", "err", err)
		rep.Status, rep.Err = types.StatusFailed, err
		return rep
	}

	source, err := d.loadSource(ctx, target)
	if err != nil {
		log.Error("reflected id", "err", err)
		rep.Status, rep.Err = types.StatusMalformed, err
		return rep
	}

	if opts.DryRun {
		rep.Outcome.ChangeSet = d.Engine.RewriteLinks(target, source)
		rep.Status = types.StatusUnchanged
		if !rep.Outcome.ChangeSet.Empty() {
			rep.Status = types.StatusPlanned
			log.Info("would change links", "changes", linkfix.Describe(rep.Outcome.ChangeSet))
		}
		return rep
	}

	rep.Outcome, err = d.Engine.Fix(ctx, d.Target, target, source)
	switch {
	case err != nil:
		log.Error("saving work item", "err", err)
		rep.Status, rep.Err = types.StatusFailed, err
	case rep.Outcome.Result.Saved:
		rep.Status = types.StatusFixed
		log.Info("links updated",
			"added", rep.Outcome.Result.Added,
			"removed", rep.Outcome.Result.Removed,
			"unresolved", rep.Outcome.Unresolved())
	case rep.Outcome.ChangeSet.Empty():
		rep.Status = types.StatusUnchanged
	default:
		rep.Status = types.StatusFailed
		rep.Err = fmt.Errorf("no link edit of %d succeeded", len(rep.Outcome.ChangeSet.ToAdd)+len(rep.Outcome.ChangeSet.ToRemove))
		log.Warn("nothing persisted", "err", rep.Err)
	}
	return rep
}

// loadSource decodes the reflected id on target and loads the source item.
// An item without a reflected id is rewritten without a source. When the
// source cannot be loaded, a stand-in carrying the decoded project is used
// so changeset links still resolve against the right project. Only a
// malformed reflected id is an error.
func (d *Driver) loadSource(ctx context.Context, target *types.WorkItem) (*types.WorkItem, error) {
	raw := target.Field(d.field())
	if raw == "" {
		d.logger().Debug("no reflected id", "item", target.ID, "field", d.field())
		return nil, nil
	}

	rid, err := reflected.Decode(raw)
	if err != nil {
		return nil, err
	}
	n, err := rid.WorkItemNumber()
	if err != nil {
		return nil, err
	}
	standIn := &types.WorkItem{ID: n, Project: rid.ProjectName()}
	if d.Source == nil {
		return standIn, nil
	}

	source, err := d.Source.GetWorkItem(ctx, n)
	if err != nil {
		d.logger().Warn("source work item not loaded", "item", target.ID, "source", n, "err", err)
		return standIn, nil
	}
	if source.Project == "" {
		source.Project = rid.ProjectName()
	}
	return source, nil
}

func (d *Driver) record(ctx context.Context, rep ItemReport) {
	if d.Journal == nil {
		return
	}
	rec := types.ItemRecord{
		RunKey:     d.RunKey,
		WorkItemID: rep.ID,
		Status:     rep.Status,
		Added:      rep.Outcome.Result.Added,
		Removed:    rep.Outcome.Result.Removed,
		Unresolved: rep.Outcome.Unresolved(),
		Failures:   rep.Outcome.Result.Failures(),
	}
	if rep.Err != nil {
		rec.Message = rep.Err.Error()
	}
	// Finished items are recorded even after cancellation.
	if err := d.Journal.Record(context.WithoutCancel(ctx), rec); err != nil {
		d.logger().Warn("journal write failed", "item", rep.ID, "err", err)
	}
}
