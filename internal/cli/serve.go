package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mgpai22/sublingo/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the translation API over HTTP",
	Long: `Start an HTTP server that translates uploaded subtitle files.

Endpoints:
  POST /translate          multipart "file", JSON response
  POST /translate-stream   multipart "file", server-sent progress events
  POST /translate-batch    multipart "files", zip response
  GET  /ws                 WebSocket progress stream
  GET  /healthz            liveness

Examples:
  sublingo serve -t zh
  sublingo serve --addr 0.0.0.0:8000 --provider openai -t es`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addJobFlags(serveCmd)
	serveCmd.Flags().
		String("addr", "", "Listen address (defaults to the config file or 127.0.0.1:8000)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	srv := httpapi.NewServer(orch, cfg,
		httpapi.WithLogger(logger),
		httpapi.WithMaxUploadSize(cfg.Server.MaxUploadSize),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Infow("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
