package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/faceauth/internal/pipeline"
	"github.com/andresmejia3/faceauth/internal/utils"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var registerOpts struct {
	InputPath string
	UserID    string
	ConcertID string
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a user's face from a short video",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRegister(cmd)
	},
}

func init() {
	registerCmd.Flags().StringVarP(&registerOpts.InputPath, "input", "i", "", "Path to video")
	registerCmd.Flags().StringVarP(&registerOpts.UserID, "user", "u", "", "User id (UUID)")
	registerCmd.Flags().StringVarP(&registerOpts.ConcertID, "concert", "c", "", "Optional concert id (UUID)")

	registerCmd.MarkFlagRequired("input")
	registerCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command) error {
	ctx := cmd.Context()

	userID, err := canonicalUUID("user", registerOpts.UserID)
	if err != nil {
		return err
	}
	concertID := ""
	if registerOpts.ConcertID != "" {
		if concertID, err = canonicalUUID("concert", registerOpts.ConcertID); err != nil {
			return err
		}
	}

	video, err := os.Open(registerOpts.InputPath)
	if err != nil {
		utils.ShowError("Failed to open video", err, nil)
		return err
	}
	defer video.Close()

	// The total frame count is unknown until ffmpeg finishes, so the bar
	// runs as a spinner counting sampled frames.
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("🔍 Sampling frames"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	pass := ""
	progress := func(p pipeline.Progress) {
		if p.Pass != pass {
			pass = p.Pass
			bar.Describe(fmt.Sprintf("🔍 Sampling frames (%s pass)", pass))
		}
		bar.Add(1)
	}

	p, release, err := newPipeline(ctx, pipeline.WithProgress(progress))
	if err != nil {
		utils.ShowError("Failed to start face engine", err, nil)
		return err
	}
	defer release()

	res, err := p.Register(ctx, pipeline.RegisterRequest{UserID: userID, ConcertID: concertID, Video: video})
	bar.Finish()
	if err != nil {
		utils.ShowError("Registration failed", err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "\n✅ Registered %s: %d/%d sampled frames accepted, %d kept after outlier filtering.\n",
		res.UserID, res.Accepted, res.Sampled, res.Retained)
	fmt.Fprintf(os.Stderr, "   Stored %d vector(s) of dim %d using the %s strategy.\n", res.Count, res.Dim, res.Strategy)
	if res.FallbackPass {
		fmt.Fprintln(os.Stderr, "⚠️  No frame passed the strict quality gate; the relaxed fallback pass was used.")
	}
	if res.ClusterFallback {
		fmt.Fprintf(os.Stderr, "⚠️  Clustering was not possible (%s); the mean was stored instead.\n", res.ClusterFallbackReason)
	}
	return nil
}

// canonicalUUID validates a UUID flag and returns its canonical form.
func canonicalUUID(name, v string) (string, error) {
	id, err := uuid.Parse(v)
	if err != nil {
		err = fmt.Errorf("%s id %q is not a valid UUID: %w", name, v, err)
		utils.ShowError("Invalid input", err, nil)
		return "", err
	}
	return id.String(), nil
}
