package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/firmsync/internal/model"
	"github.com/sells-group/firmsync/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded ingest and sync runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, runFilterFromFlags(cmd))
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs, time.Now())
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := runFilterFromFlags(cmd)
		filter.Limit = 10000 // high limit for stats

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsCmd.PersistentFlags().String("kind", "", "filter by run kind (ingest, ingest_persons, sync)")
	runsCmd.PersistentFlags().String("source", "", "filter by source tag")
	runsCmd.PersistentFlags().String("status", "", "filter by status (running, complete, failed)")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

func runFilterFromFlags(cmd *cobra.Command) store.RunFilter {
	kind, _ := cmd.Flags().GetString("kind")
	source, _ := cmd.Flags().GetString("source")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	return store.RunFilter{
		Kind:   model.RunKind(kind),
		Source: source,
		Status: model.RunStatus(status),
		Limit:  limit,
	}
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Failed     int
	Running    int
	ByKind     map[model.RunKind]int
	Succeeded  int
	Discarded  int
	AvgDurSecs float64
}

// computeRunStats computes aggregate statistics from a list of runs.
// Succeeded and Discarded sum the organization and person counters.
func computeRunStats(runs []model.Run) runStats {
	s := runStats{Total: len(runs), ByKind: map[model.RunKind]int{}}

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		s.ByKind[r.Kind]++
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Running++
		}
		if r.FinishedAt != nil {
			totalDur += r.FinishedAt.Sub(r.StartedAt)
			durCount++
		}
		s.Succeeded += r.Counters["organization_success"] + r.Counters["person_success"]
		s.Discarded += r.Counters["organization_failed"] + r.Counters["person_failed"]
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w. Unfinished runs show
// their age as of now.
func formatRunsList(out io.Writer, runs []model.Run, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSOURCE\tSTATUS\tSTARTED\tDURATION\tORG OK/FAIL\tPERSON OK/FAIL")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------\t-------\t--------\t-----------\t--------------")

	for _, r := range runs {
		end := now
		if r.FinishedAt != nil {
			end = *r.FinishedAt
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d/%d\t%d/%d\n",
			truncateID(r.ID),
			r.Kind,
			r.Source,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			end.Sub(r.StartedAt).Round(time.Second),
			r.Counters["organization_success"], r.Counters["organization_failed"],
			r.Counters["person_success"], r.Counters["person_failed"],
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	for _, kind := range []model.RunKind{model.RunKindIngest, model.RunKindIngestPersons, model.RunKindSync} {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", kind, s.ByKind[kind])
	}
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Entities synced or stored:\t%d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "Entities discarded:\t%d\n", s.Discarded)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
