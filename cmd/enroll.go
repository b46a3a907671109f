package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/smart-locker/internal/enroll"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Build slot identities from the dataset images",
	Long: `Detect and encode the face in every image under DATASET_DIR/<slot>/ and
replace the slot's stored identity with the result.

Images without a face and unreadable files are skipped and counted. A slot
with no usable image ends up with an empty record. Enrollment refuses to run
while a reset is in progress.

Examples:
  smart-locker enroll --slot 2
  smart-locker enroll            # every slot directory
  smart-locker enroll --json`,
	Args: cobra.NoArgs,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Int("slot", 0, "Slot to enroll (default: every slot directory)")
	enrollCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	slotID := mustGetInt(cmd, "slot")
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openLocker(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	var bar *progressbar.ProgressBar
	var barSlot int
	progress := func(p enroll.Progress) {
		if jsonOutput {
			return
		}
		if bar == nil || barSlot != p.SlotID {
			if bar != nil {
				_ = bar.Finish()
				fmt.Println()
			}
			barSlot = p.SlotID
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetDescription(fmt.Sprintf("Enrolling slot %d", p.SlotID)),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("images"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		_ = bar.Add(1)
	}

	var results []*enroll.Result
	if slotID != 0 {
		var res *enroll.Result
		res, err = svc.Enroll(ctx, slotID, progress)
		if res != nil {
			results = append(results, res)
		}
	} else {
		results, err = svc.EnrollAll(ctx, progress)
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	if jsonOutput {
		if perr := printJSON(results); perr != nil {
			return perr
		}
		return err
	}

	for _, res := range results {
		fmt.Printf("Slot %d: %d image(s), %d encoded, %d without face, %d unreadable, %d failed\n",
			res.SlotID, res.Images, res.Encoded, res.NoFace, res.Unreadable, res.Failed)
	}
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No slot directories found.")
	}
	return nil
}
