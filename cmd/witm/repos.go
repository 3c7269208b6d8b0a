package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/witmigrate/witmigrate/internal/debug"
	"github.com/witmigrate/witmigrate/internal/resolver"
	"github.com/witmigrate/witmigrate/internal/tracker/azuredevops"
	"github.com/witmigrate/witmigrate/internal/types"
	"github.com/witmigrate/witmigrate/internal/ui"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories and how they map to the target",
	Long: `Lists the Git repositories of the source or target organization.

With --map every source repository is matched against the target catalog
the same way links are, showing which target repository its links would be
rewritten to.

Examples:
  witm repos                     # Source repositories
  witm repos --side target       # Target repositories
  witm repos --project Fabrikam  # Only one project
  witm repos --map               # Source to target resolution`,
	Args: cobra.NoArgs,
	Run:  runRepos,
}

func init() {
	reposCmd.Flags().String("side", "source", "Organization to list: source or target")
	reposCmd.Flags().String("project", "", "Only repositories of this project")
	reposCmd.Flags().Bool("map", false, "Show the target repository each source repository maps to")
	rootCmd.AddCommand(reposCmd)
}

type repoMapping struct {
	Source types.Repository  `json:"source"`
	Target *types.Repository `json:"target,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func runRepos(cmd *cobra.Command, args []string) {
	ctx := rootCtx
	side, _ := cmd.Flags().GetString("side")
	project, _ := cmd.Flags().GetString("project")
	mapRepos, _ := cmd.Flags().GetBool("map")

	settings := mustLoadSettings()
	ep := newEndpoints(settings)

	if mapRepos {
		src, tgt, err := ep.loadCatalogs(ctx)
		if err != nil {
			FatalError("%v", err)
		}
		mappings := mapRepositories(ep.newResolver(src, tgt), filterProject(src.All(), project))
		if jsonOutput {
			outputJSON(mappings)
			return
		}
		for _, m := range mappings {
			fmt.Println(formatRepoMapping(m))
		}
		return
	}

	var client *azuredevops.Client
	switch side {
	case "source":
		client = ep.source
	case "target":
		client = ep.target
	default:
		FatalErrorWithHint(fmt.Sprintf("unknown side %q", side), "Use --side source or --side target")
	}

	repos, err := azuredevops.NewCatalog(client).ListRepositories(ctx, project)
	if err != nil {
		FatalError("listing repositories: %v", err)
	}
	sortRepositories(repos)
	if jsonOutput {
		outputJSON(repos)
		return
	}
	if len(repos) == 0 {
		debug.PrintNormal("No repositories found\n")
		return
	}
	for _, r := range repos {
		fmt.Printf("%s %s  %s\n", ui.RenderAccent(r.ProjectName+"/"+r.Name), ui.RenderMuted(r.ID), r.RemoteURL)
	}
}

func mapRepositories(res *resolver.StandardResolver, repos []types.Repository) []repoMapping {
	sortRepositories(repos)
	out := make([]repoMapping, 0, len(repos))
	for _, src := range repos {
		m := repoMapping{Source: src}
		target, err := res.TargetRepository(src.Name)
		if err != nil {
			m.Error = err.Error()
		} else {
			m.Target = &target
		}
		out = append(out, m)
	}
	return out
}

func filterProject(repos []types.Repository, project string) []types.Repository {
	if project == "" {
		return repos
	}
	var out []types.Repository
	for _, r := range repos {
		if r.ProjectName == project {
			out = append(out, r)
		}
	}
	return out
}

func sortRepositories(repos []types.Repository) {
	sort.Slice(repos, func(i, j int) bool {
		if repos[i].ProjectName != repos[j].ProjectName {
			return repos[i].ProjectName < repos[j].ProjectName
		}
		return repos[i].Name < repos[j].Name
	})
}

func formatRepoMapping(m repoMapping) string {
	src := m.Source.ProjectName + "/" + m.Source.Name
	if m.Target == nil {
		msg := m.Error
		if msg == "" {
			msg = "not resolved"
		}
		return fmt.Sprintf("%s %s → %s", ui.RenderFail(ui.IconFail), src, ui.RenderFail(msg))
	}
	return fmt.Sprintf("%s %s → %s", ui.RenderPass(ui.IconPass), src, ui.RenderPass(m.Target.ProjectName+"/"+m.Target.Name))
}
