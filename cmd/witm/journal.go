package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/witmigrate/witmigrate/internal/config"
	"github.com/witmigrate/witmigrate/internal/storage/sqlite"
	"github.com/witmigrate/witmigrate/internal/timeparsing"
	"github.com/witmigrate/witmigrate/internal/types"
	"github.com/witmigrate/witmigrate/internal/ui"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recorded migration runs",
	Long: `Shows the runs recorded in the journal with the latest status of their
work items.

--since accepts durations (3d, 12h), dates (2026-01-31) and phrases such as
"yesterday" or "last monday".

Examples:
  witm journal                   # Recent runs
  witm journal --since 2d        # Runs started in the last two days
  witm journal --items           # Include per-item lines
  witm journal --watch           # Refresh while a run is in progress`,
	Run: runJournal,
}

func init() {
	journalCmd.Flags().String("since", "", "Only runs started after this time")
	journalCmd.Flags().Int("limit", 10, "Maximum number of runs")
	journalCmd.Flags().String("run-key", "", "Only runs with this key (default: all)")
	journalCmd.Flags().Bool("items", false, "List the items of each run key")
	journalCmd.Flags().BoolP("watch", "w", false, "Redisplay when the journal changes")
	journalCmd.Flags().Bool("no-pager", false, "Do not pipe output through a pager")
	rootCmd.AddCommand(journalCmd)
}

type journalOptions struct {
	Since  time.Time
	Limit  int
	RunKey string
	Items  bool
}

// journalReport is a read-only view of the journal.
type journalReport struct {
	Runs   []types.Run                         `json:"runs"`
	Counts map[string]map[types.ItemStatus]int `json:"counts"`
	Items  map[string][]types.ItemRecord       `json:"items,omitempty"`
}

func runJournal(cmd *cobra.Command, args []string) {
	ctx := rootCtx
	sinceStr, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")
	runKey, _ := cmd.Flags().GetString("run-key")
	items, _ := cmd.Flags().GetBool("items")
	watch, _ := cmd.Flags().GetBool("watch")
	noPager, _ := cmd.Flags().GetBool("no-pager")

	opts := journalOptions{Limit: limit, RunKey: runKey, Items: items}
	if sinceStr != "" {
		since, err := timeparsing.ParseSince(sinceStr, time.Now())
		if err != nil {
			FatalErrorWithHint(fmt.Sprintf("invalid --since: %v", err), "Use a duration like 3d or a date like 2026-01-31")
		}
		opts.Since = since
	}

	settings, err := config.Load()
	if err != nil {
		FatalError("%v", err)
	}
	path := settings.Journal
	if _, err := os.Stat(path); os.IsNotExist(err) {
		FatalErrorWithHint(fmt.Sprintf("no journal at %s", path), "Run witm fix-links first")
	}
	journal, err := sqlite.Open(ctx, path)
	if err != nil {
		FatalError("%v", err)
	}
	defer func() { _ = journal.Close() }()

	if watch {
		watchJournal(ctx, journal, opts)
		return
	}

	report, err := collectJournalReport(ctx, journal, opts)
	if err != nil {
		FatalError("%v", err)
	}
	if jsonOutput {
		outputJSON(report)
		return
	}
	out := ui.RenderMarkdown(report.Markdown())
	if err := ui.ToPager(out, ui.PagerOptions{NoPager: noPager}); err != nil {
		fmt.Print(out)
	}
}

func collectJournalReport(ctx context.Context, j *sqlite.Journal, opts journalOptions) (*journalReport, error) {
	runs, err := j.Runs(ctx, opts.Since, opts.Limit)
	if err != nil {
		return nil, err
	}
	report := &journalReport{
		Counts: make(map[string]map[types.ItemStatus]int),
	}
	for _, run := range runs {
		if opts.RunKey != "" && run.RunKey != opts.RunKey {
			continue
		}
		report.Runs = append(report.Runs, run)
		if _, seen := report.Counts[run.RunKey]; seen {
			continue
		}
		counts, err := j.StatusCounts(ctx, run.RunKey)
		if err != nil {
			return nil, err
		}
		report.Counts[run.RunKey] = counts
		if opts.Items {
			if report.Items == nil {
				report.Items = make(map[string][]types.ItemRecord)
			}
			recs, err := j.Items(ctx, run.RunKey)
			if err != nil {
				return nil, err
			}
			report.Items[run.RunKey] = recs
		}
	}
	return report, nil
}

// reportStatuses is the column order of the status table.
var reportStatuses = []types.ItemStatus{
	types.StatusFixed,
	types.StatusUnchanged,
	types.StatusMalformed,
	types.StatusFailed,
}

// Markdown renders the report for glamour.
func (r *journalReport) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Migration journal\n\n")
	if len(r.Runs) == 0 {
		sb.WriteString("No runs recorded.\n")
		return sb.String()
	}

	sb.WriteString("| Run | Source | Target | Started | Finished | Summary |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	for _, run := range r.Runs {
		finished := "running"
		if run.FinishedAt != nil {
			finished = run.FinishedAt.Local().Format("2006-01-02 15:04")
		}
		summary := run.Summary
		if summary == "" {
			summary = "-"
		}
		fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s | %s |\n",
			run.ID, run.Source, run.Target, run.StartedAt.Local().Format("2006-01-02 15:04"), finished, escapeCell(summary))
	}

	for _, key := range r.runKeys() {
		counts := r.Counts[key]
		fmt.Fprintf(&sb, "\n## %s\n\n", key)
		sb.WriteString("| Status | Items |\n|---|---|\n")
		for _, status := range reportStatuses {
			fmt.Fprintf(&sb, "| %s | %d |\n", status, counts[status])
		}

		recs := r.Items[key]
		if len(recs) == 0 {
			continue
		}
		sb.WriteString("\n")
		for _, rec := range recs {
			fmt.Fprintf(&sb, "- #%d **%s** +%d -%d", rec.WorkItemID, rec.Status, rec.Added, rec.Removed)
			if rec.Unresolved > 0 {
				fmt.Fprintf(&sb, " (%d unresolved)", rec.Unresolved)
			}
			if rec.Message != "" {
				fmt.Fprintf(&sb, ": %s", ui.Truncate(rec.Message, 100))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// runKeys lists the run keys in the order their newest run appears.
func (r *journalReport) runKeys() []string {
	var keys []string
	seen := make(map[string]bool)
	for _, run := range r.Runs {
		if !seen[run.RunKey] {
			seen[run.RunKey] = true
			keys = append(keys, run.RunKey)
		}
	}
	return keys
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// isJournalFile reports whether name is the journal database or one of its
// SQLite side files.
func isJournalFile(name, journalPath string) bool {
	return strings.HasPrefix(filepath.Base(name), filepath.Base(journalPath))
}

func watchJournal(ctx context.Context, j *sqlite.Journal, opts journalOptions) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		FatalError("creating watcher: %v", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(j.Path())); err != nil {
		FatalError("watching journal directory: %v", err)
	}

	display := func() {
		report, err := collectJournalReport(ctx, j, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
			return
		}
		if ui.IsTerminal() {
			fmt.Print("\033[H\033[2J")
		}
		fmt.Print(ui.RenderMarkdown(report.Markdown()))
		fmt.Fprintf(os.Stderr, "\nWatching %s... (Press Ctrl+C to exit)\n", j.Path())
	}
	display()

	var debounceTimer *time.Timer
	debounceDelay := 500 * time.Millisecond
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "\nStopped watching.\n")
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isJournalFile(event.Name, j.Path()) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, display)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "Watcher error: %v\n", err)
		}
	}
}
