package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image>",
	Short: "Identify the face in an image against the enrolled slots",
	Long: `Detect the face in an image, compare it with every enrolled slot and print
the slot whose best stored vector reaches MATCH_THRESHOLD.

With --open the matched slot is unlocked; nothing is actuated without a match.

Examples:
  smart-locker identify query.jpg
  smart-locker identify query.jpg --open
  smart-locker identify query.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().Bool("open", false, "Unlock the matched slot")
	identifyCmd.Flags().Bool("json", false, "Output as JSON")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	open := mustGetBool(cmd, "open")
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	ctx := context.Background()
	svc, err := openLocker(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.IdentifyImage(ctx, data, open)
	if jsonOutput && res != nil {
		if perr := printJSON(res); perr != nil {
			return perr
		}
		return err
	}
	if err != nil {
		return err
	}

	for _, s := range res.Scores {
		fmt.Printf("  slot %d: %.4f (%d vectors)\n", s.SlotID, s.Similarity, s.Vectors)
	}
	if !res.Matched() {
		fmt.Printf("No match (best %.4f, threshold %.2f)\n", res.Similarity, res.Threshold)
		return nil
	}
	fmt.Printf("Matched slot %d (similarity %.4f)\n", res.SlotID, res.Similarity)
	if res.Opened {
		fmt.Printf("Slot %d opened\n", res.SlotID)
	}
	return nil
}
