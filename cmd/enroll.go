package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/errortypes"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var enrollOpts struct {
	Name   string
	RollNo string
	Class  string
	Start  int
}

var enrollCmd = &cobra.Command{
	Use:   "enroll <image>...",
	Short: "Enroll an identity from one or more face photos",
	Long:  "Each photo fills the next enrollment slot starting at --slot. Enrollment completes when the last slot is stored.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEnroll(cmd.Context(), args)
	},
}

func init() {
	enrollCmd.Flags().StringVarP(&enrollOpts.Name, "name", "n", "", "Identity name")
	enrollCmd.Flags().StringVarP(&enrollOpts.RollNo, "roll", "r", "", "Roll number")
	enrollCmd.Flags().StringVarP(&enrollOpts.Class, "class", "c", "", "Class or group")
	enrollCmd.Flags().IntVarP(&enrollOpts.Start, "slot", "s", 0, "First slot to fill")
	enrollCmd.MarkFlagRequired("name")
	enrollCmd.MarkFlagRequired("roll")
	enrollCmd.MarkFlagRequired("class")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(ctx context.Context, paths []string) error {
	if last := enrollOpts.Start + len(paths) - 1; last >= Cfg.Recognition.Slots {
		return fmt.Errorf("%d photos starting at slot %d exceed the %d enrollment slots", len(paths), enrollOpts.Start, Cfg.Recognition.Slots)
	}

	svc, err := startServices(ctx)
	if err != nil {
		utils.ShowError("Failed to start AI engine", err, nil)
		return err
	}
	defer svc.Close()

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			utils.ShowError("Failed to read image file", err, nil)
			return err
		}
		res, err := svc.enroller.Enroll(ctx, enroll.Request{
			Name:   enrollOpts.Name,
			RollNo: enrollOpts.RollNo,
			Class:  enrollOpts.Class,
			Slot:   enrollOpts.Start + i,
			Image:  data,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %s: %s\n", path, errortypes.Message(err))
			return err
		}
		fmt.Printf("✅ %s\n", res.Message)
	}
	return nil
}
