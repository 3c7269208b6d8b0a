package main

import (
	"context"
	"fmt"

	"github.com/witmigrate/witmigrate/internal/config"
	"github.com/witmigrate/witmigrate/internal/debug"
	"github.com/witmigrate/witmigrate/internal/linkfix"
	"github.com/witmigrate/witmigrate/internal/resolver"
	"github.com/witmigrate/witmigrate/internal/tracker/azuredevops"
)

// mustLoadSettings loads and validates the run settings or exits.
func mustLoadSettings() *config.Settings {
	settings, err := config.Load()
	if err != nil {
		FatalError("%v", err)
	}
	if err := settings.Validate(); err != nil {
		FatalError("%v", err)
	}
	return settings
}

func newClient(e config.Endpoint) *azuredevops.Client {
	return azuredevops.NewClient(e.Organization, e.Project, e.PAT)
}

// endpoints bundles the per-side clients of one migration.
type endpoints struct {
	settings *config.Settings
	source   *azuredevops.Client
	target   *azuredevops.Client
}

func newEndpoints(settings *config.Settings) *endpoints {
	return &endpoints{
		settings: settings,
		source:   newClient(settings.Source),
		target:   newClient(settings.Target),
	}
}

// loadCatalogs snapshots the repositories of both organizations.
func (e *endpoints) loadCatalogs(ctx context.Context) (src, tgt *resolver.Catalog, err error) {
	return loadCatalogs(ctx, azuredevops.NewCatalog(e.source), azuredevops.NewCatalog(e.target), e.settings.Target.Project)
}

// loadCatalogs lists the whole source organization, since links may name
// repositories of any source project, and only the target project on the
// target side. A same-named repository in an unrelated target project must
// never be a candidate.
func loadCatalogs(ctx context.Context, source, target resolver.RepositoryCatalog, targetProject string) (src, tgt *resolver.Catalog, err error) {
	src, err = resolver.LoadCatalog(ctx, source, "")
	if err != nil {
		return nil, nil, fmt.Errorf("source catalog: %w", err)
	}
	tgt, err = resolver.LoadCatalog(ctx, target, targetProject)
	if err != nil {
		return nil, nil, fmt.Errorf("target catalog: %w", err)
	}
	debug.Logf("catalogs: %d source, %d target repositories in %s\n", src.Len(), tgt.Len(), targetProject)
	return src, tgt, nil
}

func (e *endpoints) newResolver(src, tgt *resolver.Catalog) *resolver.StandardResolver {
	return resolver.NewStandardResolver(resolver.Options{
		Source:           src,
		Target:           tgt,
		NameMapping:      e.settings.GitRepoMappings,
		ChangesetMapping: e.settings.ChangesetMapping,
		SourceProject:    e.settings.Source.Project,
		TargetProject:    e.settings.Target.Project,
	})
}

// newEngine loads both catalogs and builds the rewrite engine.
func (e *endpoints) newEngine(ctx context.Context) (*linkfix.Engine, *resolver.StandardResolver, error) {
	src, tgt, err := e.loadCatalogs(ctx)
	if err != nil {
		return nil, nil, err
	}
	res := e.newResolver(src, tgt)
	return linkfix.NewEngine(res, e.settings.Source.Project), res, nil
}
