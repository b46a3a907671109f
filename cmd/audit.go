package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/smart-locker/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the identity store for unusable records",
	Long: `Print every slot record with its vector count and dimension, and flag
empty records, records whose vectors are all identical, configured slots
without a record and structural corruption.

Exits with an error when the store is not healthy.

Examples:
  smart-locker audit
  smart-locker audit --json`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	svc, err := openLocker(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	rep, err := svc.Audit(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := printJSON(rep); err != nil {
			return err
		}
	} else {
		audit.Print(os.Stdout, rep)
	}

	if !rep.Healthy() {
		return errors.New("identity store is not healthy")
	}
	return nil
}
