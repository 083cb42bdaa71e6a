package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/krau/trashseg/config"
	"github.com/krau/trashseg/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve segmentation over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := config.C()
		if err := c.Validate(); err != nil {
			return err
		}
		ctx := cmd.Context()

		build, newProcessor := backend(c)
		pool, err := server.NewPool(ctx, build, newProcessor, c.Workers)
		if err != nil {
			return err
		}
		defer pool.Close()

		s := &server.Server{Pool: pool, Token: c.Token, Prompt: c.Prompt}
		addr := c.Host + ":" + c.Port
		srv := &http.Server{Addr: addr, Handler: s.Router()}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("Listening on", slog.String("address", addr), slog.Int("workers", pool.Size()))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
