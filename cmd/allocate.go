package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/smart-locker/internal/slots"
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Poll the sensors once and print the slot to assign",
	Long: `Poll every slot once and print the lowest available slot id.
Prints "none" and exits with an error when no slot is available.`,
	Args: cobra.NoArgs,
	RunE: runAllocate,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Poll the sensors once and print every slot",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(allocateCmd)
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAllocate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, err := openLocker(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	id := svc.Allocate(ctx)
	if id == slots.None {
		fmt.Println("none")
		return errors.New("no slot available")
	}
	fmt.Println(id)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	svc, err := openLocker(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Status(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(st)
	}

	fmt.Println(st.Line)
	for _, s := range st.Slots {
		fmt.Printf("  slot %d: %s\n", s.ID, s.State)
	}
	fmt.Printf("Available: %d  Occupied: %d  Unknown: %d\n", st.Available, st.Occupied, st.Unknown)
	if st.Counter != nil {
		fmt.Printf("Counter: %d\n", *st.Counter)
	}
	return nil
}
