package cmd

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/faceauth/internal/store"
	"github.com/andresmejia3/faceauth/internal/utils"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <user_id>",
	Short: "Remove a registered user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		userID, err := canonicalUUID("user", args[0])
		if err != nil {
			return err
		}
		if err := DB.Delete(cmd.Context(), userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				fmt.Printf("❌ User %s is not registered.\n", userID)
				return err
			}
			utils.ShowError("Failed to delete identity", err, nil)
			return err
		}
		fmt.Printf("🗑️  Removed %s.\n", userID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
