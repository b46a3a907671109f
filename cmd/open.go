package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open <slot>",
	Short: "Unlock a slot for the configured pulse length",
	Long: `Release a slot's lock for UNLOCK_PULSE, then lock it again.

In simulated mode the command only logs the GPIO writes it would make.

Example:
  smart-locker open 2`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	slotID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid slot %q: %w", args[0], err)
	}

	ctx := context.Background()
	svc, err := openLocker(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.OpenSlot(ctx, slotID); err != nil {
		return err
	}
	fmt.Printf("Slot %d opened\n", slotID)
	return nil
}
