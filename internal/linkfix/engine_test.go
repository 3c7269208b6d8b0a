package linkfix

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	charmLog "github.com/charmbracelet/log"

	"github.com/witmigrate/witmigrate/internal/resolver"
	"github.com/witmigrate/witmigrate/internal/storage/memory"
	"github.com/witmigrate/witmigrate/internal/types"
)

const (
	srcBranch   = "vstfs:///Git/Ref/sp%2fsrc-r1%2fdeadbeef"
	srcCommit   = "vstfs:///Git/Commit/sp%2fsrc-r1%2fdeadbeef"
	tgtBranch   = "vstfs:///git/ref/tp%2ftgt-r1%2fdeadbeef"
	tgtCommit   = "vstfs:///git/commit/tp%2ftgt-r1%2fdeadbeef"
	changeset42 = "vstfs:///VersionControl/Changeset/42"
	changeset7  = "vstfs:///VersionControl/Changeset/7"
	pullRequest = "vstfs:///Git/PullRequestId/sp%2fsrc-r1%2f12"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	res := resolver.NewStandardResolver(resolver.Options{
		Source: resolver.NewCatalog([]types.Repository{
			{ID: "src-r1", Name: "R1", ProjectID: "sp", ProjectName: "Old"},
		}),
		Target: resolver.NewCatalog([]types.Repository{
			{ID: "tgt-r1", Name: "R1", ProjectID: "tp", ProjectName: "New"},
			{ID: "tgt-old", Name: "Old", ProjectID: "tp", ProjectName: "New"},
		}),
		NameMapping:      map[string]string{"R1": "R1"},
		ChangesetMapping: map[int]string{42: "cafe42"},
		SourceProject:    "Old",
		TargetProject:    "New",
	})
	e := NewEngine(res, "Old")
	e.Logger = charmLog.New(io.Discard)
	return e
}

func link(lt types.LinkType, uri string) types.ExternalLink {
	return types.ExternalLink{Type: lt, URI: uri}
}

func containsURI(links []types.ExternalLink, uri string) bool {
	for _, l := range links {
		if l.SameURI(types.ExternalLink{URI: uri}) {
			return true
		}
	}
	return false
}

func TestRewriteBranchEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	original := link(types.LinkTypeBranch, srcBranch)
	target := &types.WorkItem{ID: 10, Project: "New", Links: []types.ExternalLink{original}}

	cs := e.RewriteLinks(target, &types.WorkItem{ID: 1, Project: "Old"})

	if len(cs.ToRemove) != 1 || cs.ToRemove[0] != original {
		t.Errorf("ToRemove = %+v, want [%v]", cs.ToRemove, original)
	}
	want := link(types.LinkTypeBranch, tgtBranch)
	if len(cs.ToAdd) != 1 || cs.ToAdd[0] != want {
		t.Errorf("ToAdd = %+v, want [%v]", cs.ToAdd, want)
	}
	if len(cs.Skipped) != 0 {
		t.Errorf("Skipped = %+v, want none", cs.Skipped)
	}
}

func TestRewriteCommitAndChangesetTypes(t *testing.T) {
	e := newTestEngine(t)
	target := &types.WorkItem{ID: 10, Links: []types.ExternalLink{
		link(types.LinkTypeFixedInCommit, srcCommit),
		link(types.LinkTypeFixedInChangeset, changeset42),
	}}

	cs := e.RewriteLinks(target, nil)

	if len(cs.ToAdd) != 2 {
		t.Fatalf("ToAdd = %+v, want 2 links", cs.ToAdd)
	}
	if cs.ToAdd[0] != link(types.LinkTypeFixedInCommit, tgtCommit) {
		t.Errorf("commit rewrite = %v", cs.ToAdd[0])
	}
	// Changesets become commits in the repository named after the project.
	wantChangeset := link(types.LinkTypeFixedInCommit, "vstfs:///git/commit/tp%2ftgt-old%2fcafe42")
	if cs.ToAdd[1] != wantChangeset {
		t.Errorf("changeset rewrite = %v, want %v", cs.ToAdd[1], wantChangeset)
	}
	if len(cs.ToRemove) != 2 {
		t.Errorf("ToRemove = %+v, want both originals", cs.ToRemove)
	}
}

func TestPullRequestLinksOnlyRemoved(t *testing.T) {
	e := newTestEngine(t)
	pr := link(types.LinkTypePullRequest, pullRequest)
	target := &types.WorkItem{ID: 10, Links: []types.ExternalLink{pr}}

	cs := e.RewriteLinks(target, nil)

	if len(cs.ToAdd) != 0 {
		t.Errorf("ToAdd = %+v, want none", cs.ToAdd)
	}
	if len(cs.ToRemove) != 1 || cs.ToRemove[0] != pr {
		t.Errorf("ToRemove = %+v, want [%v]", cs.ToRemove, pr)
	}
}

func TestUnmappedChangesetUntouched(t *testing.T) {
	e := newTestEngine(t)
	l := link(types.LinkTypeFixedInChangeset, changeset7)
	target := &types.WorkItem{ID: 10, Links: []types.ExternalLink{l}}

	cs := e.RewriteLinks(target, nil)

	if containsURI(cs.ToAdd, changeset7) || containsURI(cs.ToRemove, changeset7) {
		t.Errorf("unmapped changeset scheduled: %+v", cs)
	}
	if !cs.Empty() {
		t.Errorf("expected empty change set, got %s", Describe(cs))
	}
	if len(cs.Skipped) != 1 || !errors.Is(cs.Skipped[0].Reason, resolver.ErrChangesetNotMapped) {
		t.Errorf("Skipped = %+v, want changeset not mapped", cs.Skipped)
	}
}

func TestUnrecognizedAndUnresolvableLinksUntouched(t *testing.T) {
	e := newTestEngine(t)
	target := &types.WorkItem{ID: 10, Links: []types.ExternalLink{
		link("Wiki Page", "vstfs:///Wiki/WikiPage/x"),
		link(types.LinkTypeFixedInCommit, "vstfs:///Git/Commit/sp%2funknown-repo%2fabc"),
		link(types.LinkTypeFixedInCommit, "garbage"),
	}}

	cs := e.RewriteLinks(target, nil)

	if !cs.Empty() {
		t.Errorf("expected no changes, got %s", Describe(cs))
	}
	if len(cs.Skipped) != 2 {
		t.Fatalf("Skipped = %+v, want 2", cs.Skipped)
	}
	if !errors.Is(cs.Skipped[0].Reason, resolver.ErrSourceRepoNotFound) {
		t.Errorf("first skip reason = %v", cs.Skipped[0].Reason)
	}
	if !errors.Is(cs.Skipped[1].Reason, resolver.ErrUnclassified) {
		t.Errorf("second skip reason = %v", cs.Skipped[1].Reason)
	}
}

func TestOnlyRecognizedTypesAreRewritten(t *testing.T) {
	e := newTestEngine(t)
	var warnings []string
	e.OnWarning = func(msg string) { warnings = append(warnings, msg) }

	// A resolvable commit URI under a type outside the rewrite set.
	target := &types.WorkItem{ID: 11, Links: []types.ExternalLink{link("Hyperlink", srcCommit)}}

	cs := e.RewriteLinks(target, nil)

	if !cs.Empty() || len(cs.Skipped) != 0 {
		t.Errorf("expected the hyperlink to be ignored, got %s skipped=%v", Describe(cs), cs.Skipped)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
}

func TestAmbiguousTargetWarns(t *testing.T) {
	res := resolver.NewStandardResolver(resolver.Options{
		Source: resolver.NewCatalog([]types.Repository{
			{ID: "src-r1", Name: "R1", ProjectID: "sp", ProjectName: "Old"},
		}),
		Target: resolver.NewCatalog([]types.Repository{
			{ID: "tgt-r1", Name: "R1", ProjectID: "tp", ProjectName: "New"},
			{ID: "tgt-r2", Name: "R1", ProjectID: "tp", ProjectName: "New"},
		}),
		SourceProject: "Old",
		TargetProject: "New",
	})
	e := NewEngine(res, "Old")
	e.Logger = charmLog.New(io.Discard)
	var warnings []string
	e.OnWarning = func(msg string) { warnings = append(warnings, msg) }

	cs := e.RewriteLinks(&types.WorkItem{ID: 12, Links: []types.ExternalLink{link(types.LinkTypeFixedInCommit, srcCommit)}}, nil)

	if !cs.Empty() {
		t.Errorf("expected no changes, got %s", Describe(cs))
	}
	if len(cs.Skipped) != 1 || !errors.Is(cs.Skipped[0].Reason, resolver.ErrAmbiguousTarget) {
		t.Fatalf("Skipped = %+v, want one ambiguous target", cs.Skipped)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one", warnings)
	}

	// Plain resolution misses stay at debug level.
	warnings = nil
	e.RewriteLinks(&types.WorkItem{ID: 13, Links: []types.ExternalLink{link(types.LinkTypeFixedInCommit, changeset7)}}, nil)
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
}

func TestDedupAgainstExistingAndScheduled(t *testing.T) {
	e := newTestEngine(t)
	target := &types.WorkItem{ID: 10, Links: []types.ExternalLink{
		link(types.LinkTypeFixedInCommit, srcCommit),
		// Same artifact, different casing of the source URI.
		link(types.LinkTypeFixedInCommit, "vstfs:///GIT/COMMIT/sp%2Fsrc-r1%2Fdeadbeef"),
	}}

	cs := e.RewriteLinks(target, nil)
	if len(cs.ToAdd) != 1 {
		t.Errorf("ToAdd = %+v, want one replacement", cs.ToAdd)
	}
	if len(cs.ToRemove) != 2 {
		t.Errorf("ToRemove = %+v, want both originals", cs.ToRemove)
	}
}

func TestDedupIdempotenceAcrossRuns(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	store := memory.New()
	store.Put(&types.WorkItem{ID: 10, Project: "New", Links: []types.ExternalLink{
		link(types.LinkTypeBranch, srcBranch),
		link(types.LinkTypeBranch, tgtBranch),
	}})
	startCount := 2

	for run := 1; run <= 2; run++ {
		wi, err := store.GetWorkItem(ctx, 10)
		if err != nil {
			t.Fatalf("run %d: GetWorkItem: %v", run, err)
		}
		out, err := e.Fix(ctx, store, wi, nil)
		if err != nil {
			t.Fatalf("run %d: Fix: %v", run, err)
		}
		if len(out.ChangeSet.ToAdd) != 0 {
			t.Errorf("run %d: ToAdd = %+v, want none", run, out.ChangeSet.ToAdd)
		}

		saved, _ := store.GetWorkItem(ctx, 10)
		if len(saved.Links) > startCount {
			t.Errorf("run %d: link count grew to %d", run, len(saved.Links))
		}
		if !containsURI(saved.Links, tgtBranch) {
			t.Errorf("run %d: rewritten link missing", run)
		}
	}

	saved, _ := store.GetWorkItem(ctx, 10)
	if len(saved.Links) != 1 {
		t.Errorf("final links = %+v, want only the rewritten one", saved.Links)
	}
	if got := store.SaveCount(10); got != 1 {
		t.Errorf("SaveCount = %d, want 1 (second run is a no-op)", got)
	}
}

func TestSameOrganizationRewriteIsStable(t *testing.T) {
	// Source and target share the catalog: a link already pointing at the
	// target repository resolves to itself and must be left alone.
	repos := []types.Repository{{ID: "r1", Name: "R1", ProjectID: "p", ProjectName: "P"}}
	res := resolver.NewStandardResolver(resolver.Options{
		Source:        resolver.NewCatalog(repos),
		Target:        resolver.NewCatalog(repos),
		SourceProject: "P",
		TargetProject: "P",
	})
	e := NewEngine(res, "P")
	e.Logger = charmLog.New(io.Discard)

	target := &types.WorkItem{ID: 1, Links: []types.ExternalLink{
		link(types.LinkTypeFixedInCommit, "vstfs:///git/commit/p%2fr1%2fabc"),
	}}
	if cs := e.RewriteLinks(target, nil); !cs.Empty() {
		t.Errorf("expected no changes, got %s", Describe(cs))
	}
}

func TestApplyCountsFailuresAndStampsChangedBy(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	store := memory.New()
	store.Put(&types.WorkItem{ID: 10, Links: []types.ExternalLink{
		link(types.LinkTypeFixedInCommit, srcCommit),
		link(types.LinkTypePullRequest, pullRequest),
	}})
	store.SetFailFunc(func(op memory.Op, _ int, l types.ExternalLink) error {
		if op == memory.OpRemove && l.Type == types.LinkTypePullRequest {
			return errors.New("forbidden")
		}
		return nil
	})

	wi, _ := store.GetWorkItem(ctx, 10)
	out, err := e.Fix(ctx, store, wi, nil)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}

	r := out.Result
	if r.Removed != 1 || r.RemoveFailures != 1 || r.Added != 1 || r.AddFailures != 0 || !r.Saved {
		t.Errorf("result = %+v", r)
	}
	if r.Failures() != 1 {
		t.Errorf("Failures() = %d, want 1", r.Failures())
	}

	saved, _ := store.GetWorkItem(ctx, 10)
	if got := saved.Field(types.FieldChangedBy); got != types.ChangedByMigration {
		t.Errorf("changed by = %q, want %q", got, types.ChangedByMigration)
	}
	if !containsURI(saved.Links, pullRequest) || !containsURI(saved.Links, tgtCommit) {
		t.Errorf("saved links = %+v", saved.Links)
	}
}

func TestApplyRemovesBeforeAdding(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	rec := &recordingStore{}
	wi := &types.WorkItem{ID: 1}

	cs := ChangeSet{
		ToAdd:    []types.ExternalLink{link(types.LinkTypeBranch, "b")},
		ToRemove: []types.ExternalLink{link(types.LinkTypeBranch, "a")},
	}
	if _, err := e.Apply(ctx, rec, wi, cs); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := []string{"remove a", "add b", "save"}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, rec.calls[i], want[i])
		}
	}
}

func TestApplySaveFailureIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	rec := &recordingStore{saveErr: errors.New("503")}
	wi := &types.WorkItem{ID: 1}

	_, err := e.Apply(ctx, rec, wi, ChangeSet{ToAdd: []types.ExternalLink{link(types.LinkTypeBranch, "b")}})
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
}

func TestApplyCleanItemNotSaved(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	rec := &recordingStore{failAll: true}
	wi := &types.WorkItem{ID: 1}

	r, err := e.Apply(ctx, rec, wi, ChangeSet{ToAdd: []types.ExternalLink{link(types.LinkTypeBranch, "b")}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if r.Saved || r.AddFailures != 1 {
		t.Errorf("result = %+v", r)
	}
}

func TestFixReportsMetricsAndWarnings(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	m := &countingMetrics{}
	e.Metrics = m

	store := memory.New()
	store.Put(&types.WorkItem{ID: 10, Links: []types.ExternalLink{link(types.LinkTypeBranch, srcBranch)}})
	wi, _ := store.GetWorkItem(ctx, 10)

	if _, err := e.Fix(ctx, store, wi, nil); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if m.calls != 1 || m.added != 1 || m.removed != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(ChangeSet{}); got != "no changes" {
		t.Errorf("Describe(empty) = %q", got)
	}
	cs := ChangeSet{
		ToAdd:    []types.ExternalLink{link(types.LinkTypeBranch, "b")},
		ToRemove: []types.ExternalLink{link(types.LinkTypeBranch, "a")},
	}
	if got, want := Describe(cs), "-Branch <a>, +Branch <b>"; got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
}

type recordingStore struct {
	calls   []string
	saveErr error
	failAll bool
}

func (r *recordingStore) GetWorkItem(context.Context, int) (*types.WorkItem, error) {
	return nil, errors.New("not used")
}

func (r *recordingStore) AddLink(_ context.Context, wi *types.WorkItem, l types.ExternalLink) error {
	if r.failAll {
		return errors.New("add failed")
	}
	r.calls = append(r.calls, "add "+l.URI)
	wi.AddLink(l)
	return nil
}

func (r *recordingStore) RemoveLink(_ context.Context, wi *types.WorkItem, l types.ExternalLink) error {
	if r.failAll {
		return errors.New("remove failed")
	}
	r.calls = append(r.calls, "remove "+l.URI)
	wi.MarkDirty()
	return nil
}

func (r *recordingStore) Save(context.Context, *types.WorkItem) error {
	r.calls = append(r.calls, "save")
	return r.saveErr
}

type countingMetrics struct {
	mu      sync.Mutex
	calls   int
	added   int
	removed int
}

func (c *countingMetrics) RecordOutcome(_ context.Context, _ *types.WorkItem, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.added += o.Result.Added
	c.removed += o.Result.Removed
}
