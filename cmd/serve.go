package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/faceauth/internal/logger"
	"github.com/andresmejia3/faceauth/internal/utils"
	"github.com/andresmejia3/faceauth/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the register, verify and identify endpoints over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: WEB_HOST or 0.0.0.0)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default: WEB_PORT or 8001)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()

	webCfg := Cfg.Web
	if serveHost != "" {
		webCfg.Host = serveHost
	}
	if servePort != 0 {
		webCfg.Port = servePort
	}

	p, release, err := newPipeline(ctx)
	if err != nil {
		utils.ShowError("Failed to start face engine", err, nil)
		return err
	}
	defer release()

	srv := web.NewServer(webCfg, p)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	fmt.Fprintf(os.Stderr, "🌐 Listening on %s:%d\n", webCfg.Host, webCfg.Port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// ctx is already cancelled, give in-flight requests their own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Info("server stopped", zap.Error(<-errCh))
	return nil
}
