package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luksan/rss-im-sweep/internal/app"
	"github.com/luksan/rss-im-sweep/internal/logging"
	"github.com/luksan/rss-im-sweep/internal/model"
	"github.com/luksan/rss-im-sweep/internal/observable"
	"github.com/luksan/rss-im-sweep/internal/telemetry"
)

func newRunCmd(o *options) *cobra.Command {
	var configure bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the analyzer and run the controller until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runController(ctx, o, configure, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&configure, "configure", false, "set up the IM channels once connected")
	return cmd
}

// loadSettings builds the model from the settings file. Load problems are
// logged and never abort startup.
func loadSettings(o *options, logger logging.Logger) *model.Settings {
	s := model.NewSettings(model.DefaultSettings(), logger)
	if err := s.LoadFile(o.settingsPath); err != nil {
		logger.Warn("using default settings", logging.Field{Key: "path", Value: o.settingsPath}, logging.Field{Key: "error", Value: err})
	}
	if o.addr != "" {
		s.ZVAAddress.Set(o.addr)
	}
	return s
}

func runController(ctx context.Context, o *options, configure bool, logOut io.Writer) error {
	logger, err := o.logger(logOut)
	if err != nil {
		return err
	}
	s := loadSettings(o, logger)
	if err := s.SetupDefaultTraces(); err != nil {
		logger.Warn("default traces", logging.Field{Key: "error", Value: err})
	}

	dialer, closeDialer, err := o.dialer(logger)
	if err != nil {
		return err
	}
	defer closeDialer()

	ctrl := app.NewController(s, dialer, logger, app.Options{
		PollInterval:   o.pollInterval,
		CommandTimeout: o.timeout,
	})
	hub := telemetry.NewHub(0, logger)
	hub.Attach(s)
	go telemetry.LogStatus(ctx, hub, logger)

	if configure {
		s.ZVAIsConnected.AddObserver(observable.NewFunc(func(on bool) {
			if !on {
				return
			}
			if err := ctrl.ConfigureSweep(); err != nil {
				logger.Error("configure sweep", logging.Field{Key: "error", Value: err})
			}
		}))
	}

	if o.webAddr != "" {
		srv := telemetry.NewWebServer(o.webAddr, hub, logger)
		srv.Connect = func() error { return submitConnect(ctx, ctrl) }
		srv.CalPool = func(reqCtx context.Context) ([]string, error) { return submitCalPool(reqCtx, ctrl) }
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("web server", logging.Field{Key: "error", Value: err})
			}
		}()
	}

	if err := ctrl.Connect(ctx); err != nil {
		return err
	}
	runErr := ctrl.Run(ctx)
	if err := ctrl.Close(); err != nil {
		logger.Warn("closing analyzer session", logging.Field{Key: "error", Value: err})
	}
	if err := s.StoreFile(o.settingsPath); err != nil {
		return err
	}
	logger.Info("settings stored", logging.Field{Key: "path", Value: o.settingsPath})
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

type poolResult struct {
	pool []string
	err  error
}

// submitCalPool asks the owner loop for the analyzer's calibration pool and
// waits for the writer to answer.
func submitCalPool(ctx context.Context, ctrl *app.Controller) ([]string, error) {
	res := make(chan poolResult, 1)
	err := ctrl.Submit(func() {
		if err := ctrl.CalPool(func(pool []string, err error) { res <- poolResult{pool, err} }); err != nil {
			res <- poolResult{err: err}
		}
	})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-res:
		return r.pool, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// submitConnect runs Connect on the owner loop and waits for its verdict.
func submitConnect(ctx context.Context, ctrl *app.Controller) error {
	errc := make(chan error, 1)
	if err := ctrl.Submit(func() { errc <- ctrl.Connect(ctx) }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
