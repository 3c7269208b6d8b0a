package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/witmigrate/witmigrate/internal/artifact"
	"github.com/witmigrate/witmigrate/internal/linkfix"
	"github.com/witmigrate/witmigrate/internal/migrate"
	"github.com/witmigrate/witmigrate/internal/reflected"
	"github.com/witmigrate/witmigrate/internal/resolver"
	"github.com/witmigrate/witmigrate/internal/storage/memory"
	"github.com/witmigrate/witmigrate/internal/storage/sqlite"
	"github.com/witmigrate/witmigrate/internal/types"
)

func testResolver() *resolver.StandardResolver {
	return resolver.NewStandardResolver(resolver.Options{
		Source: resolver.NewCatalog([]types.Repository{
			{ID: "r1", Name: "app", ProjectID: "sp", ProjectName: "Old"},
			{ID: "r2", Name: "orphan", ProjectID: "sp", ProjectName: "Old"},
		}),
		Target: resolver.NewCatalog([]types.Repository{
			{ID: "t1", Name: "app", ProjectID: "tp", ProjectName: "New"},
			{ID: "t9", Name: "app", ProjectID: "sp", ProjectName: "Old"},
		}),
		ChangesetMapping: map[int]string{7: "c0ffee"},
		SourceProject:    "Old",
		TargetProject:    "New",
	})
}

func TestFormatItemLine(t *testing.T) {
	rep := migrate.ItemReport{
		ID:     42,
		Status: types.StatusFixed,
		Outcome: linkfix.Outcome{ChangeSet: linkfix.ChangeSet{
			ToAdd:   []types.ExternalLink{{Type: types.LinkTypeFixedInCommit, URI: "vstfs:///git/commit/a%2fb%2fc"}},
			Skipped: []linkfix.Skip{{Link: types.ExternalLink{URI: "x"}, Reason: resolver.ErrSourceRepoNotFound}},
		}},
	}
	line := formatItemLine(rep, 3, 10)
	assert.Contains(t, line, "[3/10] #42")
	assert.Contains(t, line, "fixed")
	assert.Contains(t, line, "vstfs:///git/commit/a%2fb%2fc")
	assert.Contains(t, line, "1 unresolved")

	failed := formatItemLine(migrate.ItemReport{ID: 7, Status: types.StatusFailed, Err: errors.New("boom")}, 1, 1)
	assert.Contains(t, failed, "failed")
	assert.Contains(t, failed, "boom")
}

func TestRenderSummary(t *testing.T) {
	s := &migrate.Summary{Items: 3, Fixed: 2, Failed: 1}
	assert.Contains(t, renderSummary(s), "3 Items, 2 Updated, 0 Skipped, 1 Failures")
}

func TestClassifyURI(t *testing.T) {
	r := classifyURI("vstfs:///Git/Commit/p%2fr%2fabc123")
	assert.Equal(t, "git-commit", r.Kind)
	assert.Equal(t, "p", r.ProjectID)
	assert.Equal(t, "r", r.RepositoryID)
	assert.Equal(t, "abc123", r.CommitID)

	cs := classifyURI("vstfs:///VersionControl/Changeset/1234")
	assert.Equal(t, "tfvc-changeset", cs.Kind)
	assert.Equal(t, 1234, cs.ChangesetID)

	assert.Equal(t, "unknown", classifyURI("https://example.com").Kind)
}

func TestLinkTypeFor(t *testing.T) {
	assert.Equal(t, types.LinkTypeBranch, linkTypeFor(artifact.KindGitBranch))
	assert.Equal(t, types.LinkTypeFixedInChangeset, linkTypeFor(artifact.KindTfvcChangeset))
	assert.Equal(t, types.LinkTypePullRequest, linkTypeFor(artifact.KindPullRequest))
	assert.Equal(t, types.LinkTypeFixedInCommit, linkTypeFor(artifact.KindGitCommit))
}

func TestClassifyResolve(t *testing.T) {
	engine := linkfix.NewEngine(testResolver(), "Old")

	tests := []struct {
		name        string
		uri         string
		action      string
		replacement string
	}{
		{"commit", "vstfs:///Git/Commit/sp%2fr1%2fabc", "rewrite", "vstfs:///git/commit/tp%2ft1%2fabc"},
		{"changeset", "vstfs:///VersionControl/Changeset/7", "skip", ""},
		{"pull request", "vstfs:///Git/PullRequestId/sp%2fr1%2f5", "remove", ""},
		{"unknown repo", "vstfs:///Git/Commit/sp%2fnope%2fabc", "skip", ""},
		{"already rewritten", "vstfs:///git/commit/tp%2ft1%2fabc", "skip", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := classifyURI(tt.uri)
			link := types.ExternalLink{Type: linkTypeFor(artifact.Classify(tt.uri).Kind), URI: tt.uri}
			applyRewrite(&r, engine.RewriteLinks(&types.WorkItem{ID: 1, Links: []types.ExternalLink{link}}, nil))
			assert.Equal(t, tt.action, r.Action)
			assert.Equal(t, tt.replacement, r.Replacement)
			if tt.action == "skip" {
				assert.NotEmpty(t, r.Reason)
			}
		})
	}
}

func TestFormatClassifyResult(t *testing.T) {
	r := classifyResult{URI: "u", Kind: "git-commit", RepositoryID: "r1", Action: "rewrite", Replacement: "new-uri"}
	out := formatClassifyResult(r)
	assert.Contains(t, out, "GIT-COMMIT")
	assert.Contains(t, out, "repo=r1")
	assert.Contains(t, out, "→ new-uri")
}

func TestMapRepositories(t *testing.T) {
	res := testResolver()
	repos := []types.Repository{
		{ID: "r2", Name: "orphan", ProjectName: "Old"},
		{ID: "r1", Name: "app", ProjectName: "Old"},
	}
	mappings := mapRepositories(res, repos)
	require.Len(t, mappings, 2)

	assert.Equal(t, "app", mappings[0].Source.Name)
	require.NotNil(t, mappings[0].Target)
	assert.Equal(t, "t1", mappings[0].Target.ID)
	line := formatRepoMapping(mappings[0])
	assert.Contains(t, line, "Old/app →")
	assert.Contains(t, line, "New/app")

	assert.Equal(t, "orphan", mappings[1].Source.Name)
	assert.Nil(t, mappings[1].Target)
	assert.Contains(t, mappings[1].Error, "no matching target repository")
}

func TestLoadCatalogsScopesTargetProject(t *testing.T) {
	ctx := context.Background()
	source := memory.New()
	source.PutRepositories("Old", types.Repository{ID: "r1", Name: "app", ProjectID: "sp", ProjectName: "Old"})
	source.PutRepositories("Shared", types.Repository{ID: "r5", Name: "lib", ProjectID: "sh", ProjectName: "Shared"})

	target := memory.New()
	target.PutRepositories("New", types.Repository{ID: "t1", Name: "app", ProjectID: "tp", ProjectName: "New"})
	target.PutRepositories("Unrelated", types.Repository{ID: "x1", Name: "app", ProjectID: "up", ProjectName: "Unrelated"})

	src, tgt, err := loadCatalogs(ctx, source, target, "New")
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())
	assert.Equal(t, 1, tgt.Len())
	_, ok := tgt.ByID("x1")
	assert.False(t, ok, "unrelated target project leaked into the catalog")

	res := resolver.NewStandardResolver(resolver.Options{
		Source:        src,
		Target:        tgt,
		SourceProject: "Old",
		TargetProject: "New",
	})
	repo, err := res.TargetRepository("app")
	require.NoError(t, err)
	assert.Equal(t, "t1", repo.ID)
	assert.Equal(t, "New", repo.ProjectName)
}

func TestLoadCatalogsError(t *testing.T) {
	target := memory.New()
	target.SetFailFunc(func(op memory.Op, _ int, _ types.ExternalLink) error {
		if op == memory.OpList {
			return errors.New("unauthorized")
		}
		return nil
	})
	_, _, err := loadCatalogs(context.Background(), memory.New(), target, "New")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target catalog")
}

func TestFilterProject(t *testing.T) {
	repos := []types.Repository{{Name: "a", ProjectName: "X"}, {Name: "b", ProjectName: "Y"}}
	assert.Len(t, filterProject(repos, ""), 2)
	got := filterProject(repos, "Y")
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Name)
}

func TestReflectedIDView(t *testing.T) {
	id, err := reflected.Decode("https://dev.azure.com/contoso/Fabrikam/_workitems/edit/42")
	require.NoError(t, err)
	view := reflectedIDView(id)
	assert.Equal(t, "https://dev.azure.com/contoso", view.Root)
	assert.Equal(t, "Fabrikam", view.Project)
	assert.Equal(t, "42", view.WorkItemID)
	assert.True(t, view.Numeric)
	assert.Equal(t, "https://dev.azure.com/contoso/Fabrikam/_workitems/edit/42", view.Value)
}

func TestJournalReport(t *testing.T) {
	ctx := context.Background()
	j, err := sqlite.OpenInMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	run, err := j.StartRun(ctx, types.Run{RunKey: "a/Old -> b/New", Source: "a/Old", Target: "b/New"})
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, types.ItemRecord{RunKey: run.RunKey, WorkItemID: 1, Status: types.StatusFixed, Added: 2, Removed: 2}))
	require.NoError(t, j.Record(ctx, types.ItemRecord{RunKey: run.RunKey, WorkItemID: 2, Status: types.StatusFailed, Message: "save | rejected"}))
	require.NoError(t, j.FinishRun(ctx, run.ID, "DONE in 1s - 2 Items, 1 Updated, 0 Skipped, 1 Failures"))

	report, err := collectJournalReport(ctx, j, journalOptions{Limit: 10, Items: true})
	require.NoError(t, err)
	require.Len(t, report.Runs, 1)
	assert.Equal(t, 1, report.Counts[run.RunKey][types.StatusFixed])
	assert.Equal(t, 1, report.Counts[run.RunKey][types.StatusFailed])
	require.Len(t, report.Items[run.RunKey], 2)

	md := report.Markdown()
	assert.Contains(t, md, "# Migration journal")
	assert.Contains(t, md, "## a/Old -> b/New")
	assert.Contains(t, md, "| fixed | 1 |")
	assert.Contains(t, md, "- #1 **fixed** +2 -2")
	assert.Contains(t, md, "#2 **failed** +0 -0: save | rejected")

	filtered, err := collectJournalReport(ctx, j, journalOptions{Limit: 10, RunKey: "other"})
	require.NoError(t, err)
	assert.Empty(t, filtered.Runs)
	assert.Contains(t, filtered.Markdown(), "No runs recorded.")

	future, err := collectJournalReport(ctx, j, journalOptions{Limit: 10, Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future.Runs)
}

func TestIsJournalFile(t *testing.T) {
	assert.True(t, isJournalFile("/tmp/x/journal.db", ".witm/journal.db"))
	assert.True(t, isJournalFile("/tmp/x/journal.db-wal", ".witm/journal.db"))
	assert.False(t, isJournalFile("/tmp/x/other.db", ".witm/journal.db"))
}
