package cmd

import (
	"fmt"

	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <identity_key> <name>",
	Short: "Change the display name of an enrolled identity",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, name := args[0], args[1]
		if err := DB.UpdateName(cmd.Context(), key, name); err != nil {
			utils.Die("Failed to label identity", err, nil)
		}
		fmt.Printf("✅ Identity %s labeled as '%s'\n", key, name)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
