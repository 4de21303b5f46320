package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/config"
	"github.com/runbar/runbar/internal/handler"
	"github.com/runbar/runbar/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and web dashboard",
	Long: `Serve the REST API, the event websocket, Prometheus metrics and the
bundled web dashboard. Services flagged for auto-start are started when the
global auto-start setting is on. Every process is stopped on exit.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:7420", "listen address")
	_ = viper.BindPFlag(config.KeyAddr, serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(bootOptions{console: true, background: true})
	if err != nil {
		return err
	}
	defer rt.close()

	static, err := webAssets()
	if err != nil {
		rt.log.Warn("serving API only", zap.Error(err))
		static = nil
	}

	server := &http.Server{
		Addr:              rt.cfg.Addr,
		Handler:           handler.NewRouter(rt.ctl, static, rt.log.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		rt.log.Info("shutting down, stopping all services")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	go func() {
		if started := rt.ctl.AutoStart(cmd.Context()); len(started) > 0 {
			rt.log.Info("auto-started services", zap.Strings("services", started))
		}
	}()

	ui.Success(cmd.ErrOrStderr(), "Runbar listening on http://"+rt.cfg.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	rt.log.Info("server stopped")
	return nil
}
