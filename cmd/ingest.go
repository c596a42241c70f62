package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/firmsync/internal/ingest"
	"github.com/sells-group/firmsync/internal/producer"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Persist records from a producer file",
	Long:  "Loads organizations and people from a .json, .yaml/.yml or .xlsx file and persists them in batches.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		source, _ := cmd.Flags().GetString("source")
		file, _ := cmd.Flags().GetString("file")
		personsOnly, _ := cmd.Flags().GetBool("persons")

		batch, err := producer.Load(ctx, file)
		if err != nil {
			return err
		}
		zap.L().Info("loaded records",
			zap.String("file", file),
			zap.Int("organizations", len(batch.Organizations)),
			zap.Int("persons", len(batch.Persons)),
		)

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sum, err := ingestBatch(ctx, newEngine(st), source, batch, personsOnly)
		if sum != nil {
			_ = printJSON(os.Stdout, sum)
		}
		return err
	},
}

func init() {
	ingestCmd.Flags().String("source", "", "source tag for records without a source_name")
	ingestCmd.Flags().String("file", "", "record file (.json, .yaml, .yml, .xlsx)")
	ingestCmd.Flags().Bool("persons", false, "only ingest the person-first section of the file")
	_ = ingestCmd.MarkFlagRequired("source")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}

// ingestSummary is the combined result of one ingest call.
type ingestSummary struct {
	Organizations *ingest.Result `json:"organizations,omitempty"`
	Persons       *ingest.Result `json:"persons,omitempty"`
}

// ingestBatch persists organizations (with nested people) before
// person-first records, so people can attach to organizations from the same
// batch.
func ingestBatch(ctx context.Context, eng *ingest.Engine, source string, batch *producer.Batch, personsOnly bool) (*ingestSummary, error) {
	if batch == nil {
		return nil, eris.New("ingest: empty batch")
	}
	var sum ingestSummary
	if !personsOnly && len(batch.Organizations) > 0 {
		res, err := eng.SaveCrawledData(ctx, source, batch.Organizations)
		sum.Organizations = res
		if err != nil {
			return &sum, err
		}
	}
	if len(batch.Persons) > 0 {
		res, err := eng.SaveAffiliatedPersons(ctx, source, batch.Persons)
		sum.Persons = res
		if err != nil {
			return &sum, err
		}
	}
	return &sum, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
