package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/smart-locker/internal/locker"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print the slot table on every sensor poll",
	Long: `Poll the presence sensors at POLL_INTERVAL and print one line per cycle:

  [alloc, s1, s2, ...]

where alloc is the slot the next user would get (0 when none is free) and each
slot is 1 (available), 0 (occupied) or ? (sensor read failed).

Examples:
  smart-locker monitor
  smart-locker monitor --changes-only
  smart-locker monitor --json`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().Bool("changes-only", false, "Only print when the table changes")
	monitorCmd.Flags().Bool("json", false, "Output each poll as JSON")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	changesOnly := mustGetBool(cmd, "changes-only")
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openLocker(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	var last string
	return svc.Monitor(ctx, func(st *locker.Status) {
		if changesOnly && st.Line == last {
			return
		}
		last = st.Line
		if jsonOutput {
			_ = printJSON(st)
			return
		}
		fmt.Println(st.Line)
	})
}
