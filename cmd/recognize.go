package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var recognizeThreshold float64

var recognizeCmd = &cobra.Command{
	Use:   "recognize <group_image>",
	Short: "Recognize enrolled identities in a group photo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRecognize(cmd.Context(), args[0])
	},
}

func init() {
	recognizeCmd.Flags().Float64VarP(&recognizeThreshold, "threshold", "t", 0, "Match distance threshold (default from MATCH_THRESHOLD)")
	rootCmd.AddCommand(recognizeCmd)
}

func runRecognize(ctx context.Context, imagePath string) error {
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}
	if recognizeThreshold > 0 {
		Cfg.Recognition.Threshold = recognizeThreshold
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	svc, err := startServices(ctx)
	if err != nil {
		utils.ShowError("Failed to start AI engine", err, nil)
		return err
	}
	defer svc.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing group photo...")
	resp, err := svc.pipeline.Recognize(ctx, imgData)
	if err != nil {
		utils.ShowError("Recognition failed", err, nil)
		return err
	}

	writeRecognition(os.Stdout, resp)
	return nil
}

// writeRecognition prints the recognized identities as a table followed by a summary line.
func writeRecognition(out io.Writer, resp *types.RecognitionResponse) {
	if len(resp.Recognized) == 0 {
		fmt.Fprintf(out, "❌ No enrolled identities recognized (%d faces detected).\n", resp.FacesDetected)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tROLL NO\tCLASS\tMATCHED BY")
	fmt.Fprintln(w, "----\t-------\t-----\t----------")
	for _, m := range resp.Recognized {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.RollNo, m.Class, m.Strategy)
	}
	w.Flush()

	fmt.Fprintf(out, "\n✅ Recognized %d of %d faces in %.2fs\n",
		len(resp.Recognized), resp.FacesDetected, resp.ProcessingTime.Seconds())
	if n := len(resp.Report.Skipped); n > 0 {
		fmt.Fprintf(out, "⚠️  %d identities skipped: %v\n", n, resp.Report.SkippedKeys())
	}
}
