package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"ec2launch/internal/logging"
	"ec2launch/internal/state"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// historyCmd prints recorded launches
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show previous launches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ledger, err := state.NewStore(cfg.State)
		if err != nil {
			return err
		}
		if ledger == nil {
			return errors.New("launch history is disabled in config")
		}
		defer func() {
			if err := ledger.Close(); err != nil {
				logging.Logger().Warn("failed to close launch history", zap.Error(err))
			}
		}()

		records, err := ledger.List(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tINSTANCE\tZONE\tTYPE\tIMAGE\tSTATUS\tENDPOINT")
		for _, r := range records {
			status := r.Status
			if r.Error != "" {
				status += " (" + logging.TruncateN(r.Error, 60) + ")"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.CreatedAt.Format(time.RFC3339), r.InstanceID, r.Zone,
				r.InstanceType, r.ImageID, status, r.Endpoint)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
