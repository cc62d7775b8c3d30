package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"foldergate/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the intake daemon over the Entry folder",
	Long: `Watch admits files dropped into Entry/ as tasks, quarantines anything
malformed, and advances validated tasks to Ready. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		s, err := openSession(true)
		if err != nil {
			return err
		}
		defer s.close()

		w := watch.New(s.root, s.cfg, s.machine, s.auditor, s.logger)

		if once {
			report, err := w.Scan(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(report)
			}
			fmt.Printf("admitted=%d advanced=%d quarantined=%d\n",
				report.Admitted, report.Advanced, report.Quarantined)
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return w.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().Bool("once", false, "run a single intake scan and exit")
	rootCmd.AddCommand(watchCmd)
}
