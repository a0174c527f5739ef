package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Resolve tasks interrupted by a crash, then audit asset counters",
	Long: `Run startup recovery without starting the server.

Tasks in marking or training are advanced when their output exists,
requeued when their job was never submitted, and otherwise left in flight
for the next 'trainyard serve' to watch. Asset reservation counters are
then recomputed from the tasks that hold them.

Do not run this while a server is using the same store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx := context.Background()
		st, err := newStack(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.close()
		// Resumed watches end with the process
		defer st.monitor.Stop()

		report, recoverErr := st.reconciler.Recover(ctx)
		if report != nil {
			fmt.Printf("Advanced:    %v\n", report.Advanced)
			fmt.Printf("Resumed:     %v\n", report.Resumed)
			fmt.Printf("Rolled back: %v\n", report.RolledBack)
		}
		if err := st.reconciler.Audit(ctx); err != nil {
			fmt.Printf("Audit: %v\n", err)
		} else {
			fmt.Println("✓ Asset counters audited")
		}
		return recoverErr
	},
}
