package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rampart-ai/rampart/pkg/audit"
)

func newAuditCmd() *cobra.Command {
	var dbPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent entries from the request audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := audit.New(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Close() }()

			entries, err := logger.Recent(context.Background(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKEY\tTIER\tMODEL\tENDPOINT\tOUTCOME\tCACHE\tLATENCY")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s…\t%s\t%s\t%s\t%s\t%s\t%dms\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.APIKeyPrefix, e.Tier, e.Model, e.Endpoint, e.Outcome, e.CacheResult, e.LatencyMs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "rampart-audit.db", "path to the audit database")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show")
	return cmd
}
