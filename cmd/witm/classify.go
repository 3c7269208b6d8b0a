package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/witmigrate/witmigrate/internal/artifact"
	"github.com/witmigrate/witmigrate/internal/linkfix"
	"github.com/witmigrate/witmigrate/internal/types"
	"github.com/witmigrate/witmigrate/internal/ui"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <uri>...",
	Short: "Show what kind of artifact a link URI points at",
	Long: `Classifies artifact link URIs and prints the identifiers embedded in them.

With --resolve the configured source and target catalogs are loaded and each
URI is run through the rewrite rules, showing the link that would replace it.

Examples:
  witm classify 'vstfs:///Git/Commit/p%2fr%2fabc123'
  witm classify --resolve 'vstfs:///VersionControl/Changeset/1234'`,
	Args: cobra.MinimumNArgs(1),
	Run:  runClassify,
}

func init() {
	classifyCmd.Flags().Bool("resolve", false, "Resolve each URI against the configured catalogs")
	rootCmd.AddCommand(classifyCmd)
}

type classifyResult struct {
	URI           string `json:"uri"`
	Kind          string `json:"kind"`
	Resolvable    bool   `json:"resolvable"`
	ProjectID     string `json:"project_id,omitempty"`
	RepositoryID  string `json:"repository_id,omitempty"`
	CommitID      string `json:"commit_id,omitempty"`
	ChangesetID   int    `json:"changeset_id,omitempty"`
	PullRequestID int    `json:"pull_request_id,omitempty"`

	// Set with --resolve.
	Action      string `json:"action,omitempty"`
	Replacement string `json:"replacement,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func runClassify(cmd *cobra.Command, args []string) {
	resolve, _ := cmd.Flags().GetBool("resolve")

	results := make([]classifyResult, 0, len(args))
	for _, uri := range args {
		results = append(results, classifyURI(uri))
	}

	if resolve {
		settings := mustLoadSettings()
		engine, _, err := newEndpoints(settings).newEngine(rootCtx)
		if err != nil {
			FatalError("%v", err)
		}
		for i := range results {
			link := types.ExternalLink{Type: linkTypeFor(artifact.Classify(results[i].URI).Kind), URI: results[i].URI}
			wi := &types.WorkItem{Project: settings.Target.Project, Links: []types.ExternalLink{link}}
			applyRewrite(&results[i], engine.RewriteLinks(wi, nil))
		}
	}

	if jsonOutput {
		outputJSON(results)
		return
	}
	for _, r := range results {
		fmt.Println(formatClassifyResult(r))
	}
}

func classifyURI(uri string) classifyResult {
	ref := artifact.Classify(uri)
	return classifyResult{
		URI:           uri,
		Kind:          ref.Kind.String(),
		Resolvable:    ref.Resolvable(),
		ProjectID:     ref.ProjectID,
		RepositoryID:  ref.RepositoryID,
		CommitID:      ref.CommitID,
		ChangesetID:   ref.ChangesetID,
		PullRequestID: ref.PullRequestID,
	}
}

// linkTypeFor picks the link type a link of kind is normally stored under.
func linkTypeFor(kind artifact.Kind) types.LinkType {
	switch kind {
	case artifact.KindGitBranch:
		return types.LinkTypeBranch
	case artifact.KindTfvcChangeset:
		return types.LinkTypeFixedInChangeset
	case artifact.KindPullRequest:
		return types.LinkTypePullRequest
	default:
		return types.LinkTypeFixedInCommit
	}
}

// applyRewrite fills the resolve columns from the change set computed for a
// single-link work item.
func applyRewrite(r *classifyResult, cs linkfix.ChangeSet) {
	switch {
	case len(cs.Skipped) > 0:
		r.Action = "skip"
		r.Reason = cs.Skipped[0].Reason.Error()
	case len(cs.ToAdd) > 0:
		r.Action = "rewrite"
		r.Replacement = cs.ToAdd[0].URI
	case len(cs.ToRemove) > 0:
		r.Action = "remove"
	default:
		r.Action = "keep"
	}
}

func formatClassifyResult(r classifyResult) string {
	line := fmt.Sprintf("%s  %s", ui.RenderCategory(r.Kind), r.URI)
	if !r.Resolvable {
		line += "  " + ui.RenderMuted("(not rewritable)")
	}

	var parts []string
	if r.ProjectID != "" {
		parts = append(parts, "project="+r.ProjectID)
	}
	if r.RepositoryID != "" {
		parts = append(parts, "repo="+r.RepositoryID)
	}
	if r.CommitID != "" {
		parts = append(parts, "commit="+r.CommitID)
	}
	if r.ChangesetID != 0 {
		parts = append(parts, "changeset="+strconv.Itoa(r.ChangesetID))
	}
	if r.PullRequestID != 0 {
		parts = append(parts, "pr="+strconv.Itoa(r.PullRequestID))
	}
	for _, p := range parts {
		line += "\n  " + ui.RenderMuted(p)
	}

	switch r.Action {
	case "rewrite":
		line += "\n  " + ui.RenderPass("→ "+r.Replacement)
	case "remove":
		line += "\n  " + ui.RenderWarn("removed, not migrated")
	case "skip":
		line += "\n  " + ui.RenderFail("skipped: "+r.Reason)
	case "keep":
		line += "\n  " + ui.RenderMuted("already points at the target")
	}
	return line
}
