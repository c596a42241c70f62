package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/firmsync/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push persisted organizations and people to the CRM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		source, _ := cmd.Flags().GetString("source")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		syncer, err := newSyncer(st)
		if err != nil {
			return err
		}

		sum, err := syncer.Run(ctx, source)
		if sum != nil {
			_ = printJSON(os.Stdout, sum)
		}
		return err
	},
}

func init() {
	syncCmd.Flags().String("source", store.SourceAll, "source tag to sync, or \"all\"")
	rootCmd.AddCommand(syncCmd)
}
