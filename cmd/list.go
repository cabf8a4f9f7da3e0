package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/faceauth/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered users",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command) error {
	records, err := DB.List(cmd.Context())
	if err != nil {
		utils.ShowError("Failed to list identities", err, nil)
		return err
	}

	if len(records) == 0 {
		fmt.Println("No identities found in the store.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "USER\tCONCERT\tVECTORS\tDIM\tUPDATED")
	fmt.Fprintln(w, "----\t-------\t-------\t---\t-------")

	for _, r := range records {
		concert := r.ConcertID
		if concert == "" {
			concert = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.UserID, concert, r.Count, r.Dim, r.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
