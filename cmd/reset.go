package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetYes     bool
	resetScratch bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every enrolled identity",
	Long:  "Clears all identities, enrollment images and embeddings. Use --scratch to also remove leftover request workspaces.",
	Run: func(cmd *cobra.Command, args []string) {
		reader := bufio.NewReader(os.Stdin)

		if resetYes || confirm(reader, os.Stdout, "⚠️  Are you sure you want to delete ALL enrolled identities?") {
			fmt.Println("🗑️  Clearing identity store...")
			if err := DB.Reset(cmd.Context()); err != nil {
				utils.Die("Failed to reset identity store", err, nil)
			}
		}

		if resetScratch {
			n := removeWorkspaces(Cfg.Recognition.ScratchDir)
			fmt.Printf("🗑️  Removed %d leftover workspaces\n", n)
		}

		fmt.Println("✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")
	resetCmd.Flags().BoolVar(&resetScratch, "scratch", false, "Remove leftover group_* workspaces from the scratch directory")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeWorkspaces deletes request workspaces left behind by a crashed process.
func removeWorkspaces(scratch string) int {
	matches, err := filepath.Glob(filepath.Join(scratch, "group_*"))
	if err != nil {
		return 0
	}
	removed := 0
	for _, dir := range matches {
		if err := os.RemoveAll(dir); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", dir, err)
			continue
		}
		removed++
	}
	return removed
}
