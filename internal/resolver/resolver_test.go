package resolver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/witmigrate/witmigrate/internal/artifact"
	"github.com/witmigrate/witmigrate/internal/resolver"
	"github.com/witmigrate/witmigrate/internal/types"
)

func sourceCatalog() *resolver.Catalog {
	return resolver.NewCatalog([]types.Repository{
		{ID: "AAAA-1111", Name: "R1", ProjectID: "sp", ProjectName: "Old"},
		{ID: "bbbb-2222", Name: "Legacy", ProjectID: "sp", ProjectName: "Old"},
	})
}

func gitRef(repoID, commit string) artifact.Ref {
	return artifact.Ref{Kind: artifact.KindGitCommit, ProjectID: "sp", RepositoryID: repoID, CommitID: commit}
}

func TestCatalog(t *testing.T) {
	c := sourceCatalog()
	assert.Equal(t, 2, c.Len())

	r, ok := c.ByID("aaaa-1111")
	require.True(t, ok, "id lookup is case-insensitive")
	assert.Equal(t, "R1", r.Name)

	_, ok = c.ByID("missing")
	assert.False(t, ok)
	_, ok = c.ByID("")
	assert.False(t, ok)

	assert.Len(t, c.ByName("R1"), 1)
	assert.Empty(t, c.ByName("r1"), "name lookup is exact")

	var nilCatalog *resolver.Catalog
	assert.Equal(t, 0, nilCatalog.Len())
	assert.Empty(t, nilCatalog.ByName("R1"))
}

func TestNewCatalogCopiesInput(t *testing.T) {
	repos := []types.Repository{{ID: "1", Name: "R1"}}
	c := resolver.NewCatalog(repos)
	repos[0].Name = "changed"

	r, ok := c.ByID("1")
	require.True(t, ok)
	assert.Equal(t, "R1", r.Name)
}

type stubCatalog struct {
	repos   []types.Repository
	err     error
	project string
}

func (s *stubCatalog) ListRepositories(_ context.Context, project string) ([]types.Repository, error) {
	s.project = project
	return s.repos, s.err
}

func TestLoadCatalog(t *testing.T) {
	stub := &stubCatalog{repos: []types.Repository{{ID: "1", Name: "R1"}}}
	c, err := resolver.LoadCatalog(context.Background(), stub, "Proj")
	require.NoError(t, err)
	assert.Equal(t, "Proj", stub.project)
	assert.Equal(t, 1, c.Len())

	boom := errors.New("boom")
	_, err = resolver.LoadCatalog(context.Background(), &stubCatalog{err: boom}, "Proj")
	assert.ErrorIs(t, err, boom)
}

func TestResolveGitCommitCrossProject(t *testing.T) {
	res := resolver.NewStandardResolver(resolver.Options{
		Source: sourceCatalog(),
		Target: resolver.NewCatalog([]types.Repository{
			{ID: "t-1", Name: "R1", ProjectID: "tp", ProjectName: "New"},
		}),
		SourceProject: "Old",
		TargetProject: "New",
	})

	got, err := res.Resolve(gitRef("aaaa-1111", "deadbeef"), "Old")
	require.NoError(t, err)
	assert.Equal(t, "AAAA-1111", got.SourceRepo.ID)
	assert.Equal(t, "t-1", got.TargetRepo.ID)
	assert.Equal(t, "tp", got.TargetRepo.ProjectID)
	assert.Equal(t, "deadbeef", got.CommitID)
}

func TestResolveBranchUsesGitPath(t *testing.T) {
	res := resolver.NewStandardResolver(resolver.Options{
		Source:        sourceCatalog(),
		Target:        resolver.NewCatalog([]types.Repository{{ID: "t-1", Name: "R1", ProjectName: "New"}}),
		SourceProject: "Old",
		TargetProject: "New",
	})

	ref := gitRef("AAAA-1111", "GBmain")
	ref.Kind = artifact.KindGitBranch
	got, err := res.Resolve(ref, "Old")
	require.NoError(t, err)
	assert.Equal(t, "GBmain", got.CommitID)
}

func TestResolveSameProjectRequiresSourceProject(t *testing.T) {
	// Source and target projects share a name; a same-named repository
	// under some other project must not be picked.
	res := resolver.NewStandardResolver(resolver.Options{
		Source: sourceCatalog(),
		Target: resolver.NewCatalog([]types.Repository{
			{ID: "t-other", Name: "R1", ProjectName: "Elsewhere"},
		}),
		SourceProject: "Old",
		TargetProject: "Old",
	})

	_, err := res.Resolve(gitRef("AAAA-1111", "deadbeef"), "Old")
	assert.ErrorIs(t, err, resolver.ErrTargetRepoNotFound)
	assert.ErrorIs(t, err, resolver.ErrNotResolved)

	res = resolver.NewStandardResolver(resolver.Options{
		Source: sourceCatalog(),
		Target: resolver.NewCatalog([]types.Repository{
			{ID: "t-other", Name: "R1", ProjectName: "Elsewhere"},
			{ID: "t-same", Name: "R1", ProjectName: "Old"},
		}),
		SourceProject: "Old",
		TargetProject: "Old",
	})
	got, err := res.Resolve(gitRef("AAAA-1111", "deadbeef"), "Old")
	require.NoError(t, err)
	assert.Equal(t, "t-same", got.TargetRepo.ID)
}

func TestResolveCrossProjectExcludesOldProject(t *testing.T) {
	res := resolver.NewStandardResolver(resolver.Options{
		Source: sourceCatalog(),
		Target: resolver.NewCatalog([]types.Repository{
			{ID: "t-old", Name: "R1", ProjectName: "Old"},
		}),
		SourceProject: "Old",
		TargetProject: "New",
	})

	_, err := res.Resolve(gitRef("AAAA-1111", "deadbeef"), "Old")
	assert.ErrorIs(t, err, resolver.ErrTargetRepoNotFound)

	res = resolver.NewStandardResolver(resolver.Options{
		Source: sourceCatalog(),
		Target: resolver.NewCatalog([]types.Repository{
			{ID: "t-old", Name: "R1", ProjectName: "Old"},
			{ID: "t-new", Name: "R1", ProjectName: "New"},
		}),
		SourceProject: "Old",
		TargetProject: "New",
	})
	got, err := res.Resolve(gitRef("AAAA-1111", "deadbeef"), "Old")
	require.NoError(t, err)
	assert.Equal(t, "t-new", got.TargetRepo.ID)
}

func TestResolveAmbiguousTarget(t *testing.T) {
	res := resolver.NewStandardResolver(resolver.Options{
		Source: sourceCatalog(),
		Target: resolver.NewCatalog([]types.Repository{
			{ID: "t-1", Name: "R1", ProjectName: "New"},
			{ID: "t-2", Name: "R1", ProjectName: "Other"},
		}),
		SourceProject: "Old",
		TargetProject: "New",
	})

	_, err := res.Resolve(gitRef("AAAA-1111", "deadbeef"), "Old")
	assert.ErrorIs(t, err, resolver.ErrAmbiguousTarget)
	assert.ErrorIs(t, err, resolver.ErrNotResolved)
}

func TestResolveNameMapping(t *testing.T) {
	res := resolver.NewStandardResolver(resolver.Options{
		Source: sourceCatalog(),
		Target: resolver.NewCatalog([]types.Repository{
			{ID: "t-legacy", Name: "Legacy", ProjectName: "New"},
			{ID: "t-modern", Name: "Modern", ProjectName: "New"},
		}),
		NameMapping:   map[string]string{"Legacy": "Modern", "R1": ""},
		SourceProject: "Old",
		TargetProject: "New",
	})

	assert.Equal(t, "Modern", res.TargetName("Legacy"))
	assert.Equal(t, "R1", res.TargetName("R1"), "empty mapping falls back to identity")
	assert.Equal(t, "Other", res.TargetName("Other"))

	got, err := res.Resolve(gitRef("bbbb-2222", "c0ffee"), "Old")
	require.NoError(t, err)
	assert.Equal(t, "t-modern", got.TargetRepo.ID)
}

func TestResolveSourceRepoNotFound(t *testing.T) {
	res := resolver.NewStandardResolver(resolver.Options{
		Source:        sourceCatalog(),
		Target:        resolver.NewCatalog(nil),
		SourceProject: "Old",
		TargetProject: "New",
	})

	_, err := res.Resolve(gitRef("nope", "deadbeef"), "Old")
	assert.ErrorIs(t, err, resolver.ErrSourceRepoNotFound)
	assert.ErrorIs(t, err, resolver.ErrNotResolved)
}

func TestResolveChangeset(t *testing.T) {
	res := resolver.NewStandardResolver(resolver.Options{
		Source: sourceCatalog(),
		Target: resolver.NewCatalog([]types.Repository{
			{ID: "t-tfvc", Name: "Old", ProjectID: "tp", ProjectName: "New"},
		}),
		ChangesetMapping: map[int]string{42: "abc123", 43: ""},
		SourceProject:    "Old",
		TargetProject:    "New",
	})

	got, err := res.Resolve(artifact.Ref{Kind: artifact.KindTfvcChangeset, ChangesetID: 42}, "Old")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.CommitID)
	assert.Equal(t, "Old", got.SourceRepo.Name, "repository is named after the work item project")
	assert.Equal(t, "t-tfvc", got.TargetRepo.ID)

	_, err = res.Resolve(artifact.Ref{Kind: artifact.KindTfvcChangeset, ChangesetID: 7}, "Old")
	assert.ErrorIs(t, err, resolver.ErrChangesetNotMapped)

	_, err = res.Resolve(artifact.Ref{Kind: artifact.KindTfvcChangeset, ChangesetID: 43}, "Old")
	assert.ErrorIs(t, err, resolver.ErrChangesetNotMapped)
}

func TestResolveUnsupportedKinds(t *testing.T) {
	res := resolver.NewStandardResolver(resolver.Options{})

	_, err := res.Resolve(artifact.Ref{Kind: artifact.KindPullRequest}, "Old")
	assert.ErrorIs(t, err, resolver.ErrUnsupported)

	_, err = res.Resolve(artifact.Ref{}, "Old")
	assert.ErrorIs(t, err, resolver.ErrUnclassified)
	assert.ErrorIs(t, err, resolver.ErrNotResolved)
}
