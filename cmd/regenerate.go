package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Rebuild stored embeddings from the enrollment images",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRegenerate(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(regenerateCmd)
}

func runRegenerate(ctx context.Context) error {
	keys, err := DB.ListIdentityKeys(ctx)
	if err != nil {
		utils.ShowError("Failed to list identities", err, nil)
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No identities found.")
		return nil
	}

	svc, err := startServices(ctx)
	if err != nil {
		utils.ShowError("Failed to start AI engine", err, nil)
		return err
	}
	defer svc.Close()

	bar := progressbar.NewOptions(len(keys),
		progressbar.OptionSetDescription("🔁 Regenerating"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	ok, failed, err := svc.embeddings.RegenerateAll(ctx, func(key string, done bool) {
		bar.Add(1)
	})
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		utils.ShowError("Regeneration interrupted", err, nil)
		return err
	}

	fmt.Printf("✨ Regenerated features for %d students, %d failed\n", len(ok), len(failed))
	for _, key := range failed {
		fmt.Printf("   ❌ %s\n", key)
	}
	return nil
}
