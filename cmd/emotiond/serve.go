package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"emotiond/internal/httpapi"
	"emotiond/internal/inference"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr       string
		ckpt       string
		cors       bool
		origins    string
		timeoutSec int64
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve predictions from a trained checkpoint over HTTP",
		Example: "  MNT_DIR=/mnt/models emotiond serve --addr :8080",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			if fl.Changed("addr") {
				a.cfg.Serve.Addr = addr
			}
			if fl.Changed("checkpoint") {
				a.cfg.Serve.Checkpoint = ckpt
			}
			if fl.Changed("cors") {
				a.cfg.Serve.CORS.Enabled = cors
			}
			if fl.Changed("cors-origins") {
				a.cfg.Serve.CORS.Origins = splitCSV(origins)
			}
			if err := a.cfg.ValidateServe(); err != nil {
				return err
			}
			httpapi.SetPredictTimeoutSeconds(timeoutSec)
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080 (defaults EMOTIOND_ADDR or :8080)")
	cmd.Flags().StringVar(&ckpt, "checkpoint", "", "Checkpoint to serve (defaults $MNT_DIR/my_model.json)")
	cmd.Flags().BoolVar(&cors, "cors", false, "Enable CORS")
	cmd.Flags().StringVar(&origins, "cors-origins", "", "Comma-separated allowed origins")
	cmd.Flags().Int64Var(&timeoutSec, "predict-timeout", 0, "Per-request predict timeout in seconds (0 disables)")
	return cmd
}

func (a *app) serve(parent context.Context) error {
	s := a.cfg.Serve
	pred := inference.NewPredictor()
	pred.SetLogger(a.log)
	if err := pred.Load(s.Checkpoint); err != nil {
		// keep serving; /readyz reports loading and /model/ answers 503
		a.log.Error().Err(err).Str("path", s.Checkpoint).Msg("checkpoint not loaded")
	}

	baseCtx, cancelBase := context.WithCancel(parent)
	defer cancelBase()
	httpapi.SetLogger(a.log)
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetMaxBodyBytes(s.MaxBodyBytes)
	httpapi.SetCORSOptions(s.CORS.Enabled, s.CORS.Origins, s.CORS.Methods, s.CORS.Headers)

	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           httpapi.NewMux(pred),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", s.Addr).Str("checkpoint", s.Checkpoint).Bool("ready", pred.Ready()).Msg("emotiond listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-stop:
	case <-parent.Done():
	}
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
		return err
	}
	a.log.Info().Msg("server stopped")
	return nil
}
