package cmd

import (
	"context"
	"time"

	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/web"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the recognition and enrollment HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from WEB_HOST)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default from WEB_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	svc, err := startServices(ctx)
	if err != nil {
		utils.ShowError("Failed to start services", err, nil)
		return err
	}
	defer svc.Close()

	host, port := Cfg.Web.Host, Cfg.Web.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}

	server := web.NewServer(web.Deps{
		Recognizer:  svc.pipeline,
		Enroller:    svc.enroller,
		Regenerator: svc.embeddings,
		Roster:      DB,
	}, host, port, Cfg.Recognition.RequestTimeout)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
