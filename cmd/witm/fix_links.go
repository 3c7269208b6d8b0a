package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/witmigrate/witmigrate/internal/config"
	"github.com/witmigrate/witmigrate/internal/debug"
	"github.com/witmigrate/witmigrate/internal/linkfix"
	"github.com/witmigrate/witmigrate/internal/migrate"
	"github.com/witmigrate/witmigrate/internal/storage/sqlite"
	"github.com/witmigrate/witmigrate/internal/telemetry"
	"github.com/witmigrate/witmigrate/internal/tracker/azuredevops"
	"github.com/witmigrate/witmigrate/internal/types"
	"github.com/witmigrate/witmigrate/internal/ui"
)

var fixLinksCmd = &cobra.Command{
	Use:   "fix-links",
	Short: "Rewrite artifact links of migrated work items",
	Long: `Rewrites the branch, commit and changeset links of target work items so
they point at the target organization's repositories. Pull request links are
removed. Links that cannot be resolved are reported and left in place.

Work items are selected with a WIQL query over the target project, newest
change first; the "query" setting adds a filter. Use --ids to pick items.

Examples:
  witm fix-links --dry-run           # Show what would change
  witm fix-links --workers 4         # Four items at a time
  witm fix-links --resume            # Skip items finished by an earlier run
  witm fix-links --ids 101,102 --yes # Specific items, no prompt`,
	Run: runFixLinks,
}

func init() {
	fixLinksCmd.Flags().Bool("dry-run", false, "Compute changes without saving them")
	fixLinksCmd.Flags().Bool("resume", false, "Skip items completed by an earlier run with the same source and target")
	fixLinksCmd.Flags().Int("workers", 0, "Concurrent work items (default from config)")
	fixLinksCmd.Flags().IntSlice("ids", nil, "Work item ids to process instead of running the query")
	fixLinksCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(fixLinksCmd)
}

func runFixLinks(cmd *cobra.Command, args []string) {
	ctx := rootCtx
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	resume, _ := cmd.Flags().GetBool("resume")
	workers, _ := cmd.Flags().GetInt("workers")
	ids, _ := cmd.Flags().GetIntSlice("ids")
	yes, _ := cmd.Flags().GetBool("yes")

	settings := mustLoadSettings()
	if workers <= 0 {
		workers = settings.Workers
	}

	if err := telemetry.Init(ctx, "witm", Version); err != nil {
		WarnError("telemetry disabled: %v", err)
	}
	defer telemetry.Shutdown(context.WithoutCancel(ctx))

	ep := newEndpoints(settings)
	engine, _, err := ep.newEngine(ctx)
	if err != nil {
		FatalError("%v", err)
	}
	engine.Metrics = telemetry.NewLinkMetrics()

	target := azuredevops.NewStore(ep.target)
	if len(ids) == 0 {
		ids, err = target.QueryIDs(ctx, migrate.BuildQuery(settings.Query))
		if err != nil {
			FatalError("querying target work items: %v", err)
		}
	}
	if len(ids) == 0 {
		debug.PrintlnNormal("No work items to process")
		return
	}

	if !dryRun && !yes && ui.IsTerminal() {
		if !confirmRun(len(ids), settings) {
			fmt.Fprintln(os.Stderr, "Cancelled.")
			return
		}
	}

	journal, err := sqlite.Open(ctx, settings.Journal)
	if err != nil {
		FatalErrorWithHint(err.Error(), "Set \"journal\" in witm.yaml or export WITM_JOURNAL=PATH")
	}
	defer func() { _ = journal.Close() }()

	var run types.Run
	if !dryRun {
		run, err = journal.StartRun(ctx, types.Run{
			RunKey: settings.RunKey(),
			Source: settings.Source.String(),
			Target: settings.Target.String(),
		})
		if err != nil {
			FatalError("starting journal run: %v", err)
		}
	}

	driver := &migrate.Driver{
		Target:           telemetry.WrapStore(target),
		Source:           azuredevops.NewStore(ep.source),
		Engine:           engine,
		Journal:          journal,
		ReflectedIDField: settings.ReflectedIDField,
		RunKey:           settings.RunKey(),
	}
	printItem := itemPrinter(os.Stdout, len(ids))
	driver.OnItem = func(rep migrate.ItemReport) {
		// The remembered revision is only needed until the item is saved.
		target.Forget(rep.ID)
		printItem(rep)
	}

	debug.Logger().Info("starting", "items", len(ids), "workers", workers, "dry_run", dryRun, "target", settings.Target.String())
	summary, runErr := driver.Run(ctx, ids, migrate.RunOptions{DryRun: dryRun, Resume: resume, Workers: workers})
	if summary == nil {
		summary = &migrate.Summary{DryRun: dryRun}
	}

	if !dryRun {
		if err := journal.FinishRun(context.WithoutCancel(ctx), run.ID, summary.String()); err != nil {
			WarnError("finishing journal run: %v", err)
		}
	}

	if jsonOutput {
		outputJSON(summary)
	} else {
		fmt.Println(ui.RenderSeparator())
		fmt.Println(renderSummary(summary))
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			FatalErrorWithHint("interrupted", "Run again with --resume to continue")
		}
		FatalError("%v", runErr)
	}
}

func confirmRun(n int, settings *config.Settings) bool {
	ok := false
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Rewrite links on %d work items in %s?", n, settings.Target.String())).
		Description("Source: " + settings.Source.String()).
		Affirmative("Rewrite").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false
		}
		FatalError("prompt failed: %v", err)
	}
	return ok
}

// itemPrinter writes one line per processed item. Reports arrive from
// several workers, so writes are serialized.
func itemPrinter(w io.Writer, total int) func(migrate.ItemReport) {
	var mu sync.Mutex
	done := 0
	return func(rep migrate.ItemReport) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if jsonOutput || (debug.IsQuiet() && rep.Err == nil) {
			return
		}
		fmt.Fprintln(w, formatItemLine(rep, done, total))
	}
}

func formatItemLine(rep migrate.ItemReport, done, total int) string {
	line := fmt.Sprintf("[%d/%d] #%d %s", done, total, rep.ID, ui.RenderStatus(rep.Status))
	switch {
	case rep.Err != nil:
		line += "  " + ui.RenderFail(ui.Truncate(rep.Err.Error(), 120))
	case rep.Status == types.StatusFixed || rep.Status == types.StatusPlanned:
		line += "  " + linkfix.Describe(rep.Outcome.ChangeSet)
	}
	if n := rep.Outcome.Unresolved(); n > 0 {
		line += "  " + ui.RenderWarn(fmt.Sprintf("%d unresolved", n))
		if debug.Enabled() {
			line += "\n" + ui.Indent(describeSkips(rep.Outcome.ChangeSet.Skipped), "    ")
		}
	}
	return line
}

func renderSummary(s *migrate.Summary) string {
	line := s.String()
	switch {
	case s.Failures() > 0:
		return ui.RenderWarn(line)
	default:
		return ui.RenderPass(line)
	}
}

func describeSkips(skips []linkfix.Skip) string {
	lines := make([]string, 0, len(skips))
	for _, sk := range skips {
		lines = append(lines, fmt.Sprintf("%s: %v", sk.Link, sk.Reason))
	}
	return strings.Join(lines, "\n")
}
