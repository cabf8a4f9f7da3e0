package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/andresmejia3/faceauth/internal/pipeline"
	"github.com/andresmejia3/faceauth/internal/utils"
	"github.com/spf13/cobra"
)

var verifyOpts struct {
	UserID string
	Live   string
	IDCard string
	JSON   bool
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a live photo (and optionally an ID card photo) against a registered user",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runVerify(cmd)
	},
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyOpts.UserID, "user", "u", "", "User id (UUID)")
	verifyCmd.Flags().StringVarP(&verifyOpts.Live, "live", "l", "", "Path to the live photo")
	verifyCmd.Flags().StringVar(&verifyOpts.IDCard, "idcard", "", "Path to the ID card photo")
	verifyCmd.Flags().BoolVar(&verifyOpts.JSON, "json", false, "Print the result as JSON")

	verifyCmd.MarkFlagRequired("user")
	verifyCmd.MarkFlagRequired("live")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command) error {
	ctx := cmd.Context()

	userID, err := canonicalUUID("user", verifyOpts.UserID)
	if err != nil {
		return err
	}
	live, err := readImage(verifyOpts.Live)
	if err != nil {
		return err
	}
	var idcard []byte
	if verifyOpts.IDCard != "" {
		if idcard, err = readImage(verifyOpts.IDCard); err != nil {
			return err
		}
	}

	p, release, err := newPipeline(ctx)
	if err != nil {
		utils.ShowError("Failed to start face engine", err, nil)
		return err
	}
	defer release()

	res, err := p.Verify(ctx, pipeline.VerifyRequest{UserID: userID, Live: live, IDCard: idcard})
	if err != nil {
		utils.ShowError("Verification failed", err, nil)
		return err
	}

	if verifyOpts.JSON {
		return json.NewEncoder(os.Stdout).Encode(res)
	}
	icon := "❌"
	if res.Verified {
		icon = "✅"
	}
	fmt.Printf("%s %s\n", icon, res)
	return nil
}

func readImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return nil, err
	}
	return data, nil
}
