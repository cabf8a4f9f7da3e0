package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/faceauth/internal/utils"
	"github.com/andresmejia3/faceauth/internal/verify"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image_path>",
	Short: "Search every registered user for the face in an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runIdentify(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(cmd *cobra.Command, imagePath string) error {
	ctx := cmd.Context()

	img, err := readImage(imagePath)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	p, release, err := newPipeline(ctx)
	if err != nil {
		utils.ShowError("Failed to start face engine", err, nil)
		return err
	}
	defer release()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	res, err := p.Identify(ctx, img)
	if err != nil {
		utils.ShowError("Identification failed", err, nil)
		return err
	}

	if res.MatchedID == verify.Unknown {
		fmt.Printf("❌ No registered user matched (%s).\n", res)
		return nil
	}
	fmt.Printf("✅ Matched user %s (%s)\n", res.MatchedID, res)
	return nil
}
