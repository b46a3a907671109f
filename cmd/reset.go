package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all enrollment data and mark every slot free",
	Long: `Remove every enrollment image directory and every stored identity, then
write the slot count to the availability counter.

Items that cannot be removed are listed and the rest of the reset still
runs. Reset refuses to run while an enrollment is in progress.

Example:
  smart-locker reset --yes`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
	resetCmd.Flags().Bool("json", false, "Output as JSON")
}

func confirmAction(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func runReset(cmd *cobra.Command, args []string) error {
	skipConfirm := mustGetBool(cmd, "yes")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	svc, err := openLocker(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if !skipConfirm && !confirmAction(fmt.Sprintf("Delete all enrollment data for %d slot(s)? [y/N]: ", svc.Config().SlotCount())) {
		fmt.Println("Cancelled.")
		return nil
	}

	rep, err := svc.Reset(ctx)
	if jsonOutput && rep != nil {
		if perr := printJSON(rep); perr != nil {
			return perr
		}
		return err
	}
	if rep != nil {
		for _, path := range rep.Removed {
			fmt.Printf("  removed %s\n", path)
		}
		for _, f := range rep.Failures {
			fmt.Printf("  FAILED  %s: %s\n", f.Path, f.Error)
		}
	}
	if err != nil {
		return fmt.Errorf("reset incomplete: %w", err)
	}

	fmt.Printf("Done! Removed %d item(s), counter set to %d\n", len(rep.Removed), rep.CounterValue)
	if len(rep.Failures) > 0 {
		return fmt.Errorf("%d item(s) could not be removed", len(rep.Failures))
	}
	return nil
}
