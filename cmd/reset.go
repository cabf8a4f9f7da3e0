package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/andresmejia3/faceauth/internal/utils"
	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove every registered identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if !resetYes && !confirm(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout(),
			fmt.Sprintf("⚠️  Are you sure you want to delete ALL identities from the %s store?", Cfg.Store.Backend)) {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout(), "🗑️  Clearing identities...")
		if err := DB.Reset(cmd.Context()); err != nil {
			utils.ShowError("Failed to reset store", err, nil)
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

