package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all enrolled identities",
	Run: func(cmd *cobra.Command, args []string) {
		identities, err := DB.ListMetadata(cmd.Context())
		if err != nil {
			utils.Die("Failed to list identities", err, nil)
		}
		writeIdentities(os.Stdout, identities)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func writeIdentities(out io.Writer, identities []types.IdentityMeta) {
	if len(identities) == 0 {
		fmt.Fprintln(out, "No identities enrolled.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLL NO\tCLASS\tENROLLED")
	fmt.Fprintln(w, "--\t----\t-------\t-----\t--------")
	for _, id := range identities {
		enrolled := "-"
		if !id.EnrolledAt.IsZero() {
			enrolled = id.EnrolledAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id.Key, id.Name, id.RollNo, id.Class, enrolled)
	}
	w.Flush()
}
