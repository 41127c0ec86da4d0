package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notifyd/internal/app"
	logx "notifyd/pkg/logx"
)

func main() {
	var (
		cfgPath string
		list    bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to config file (yaml or json); built-in defaults when empty")
	flag.BoolVar(&list, "list", false, "print every stored record after stdin is exhausted")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Used until the app's own logging is configured.
	bootLog := logx.NewConsole("info").With(logx.String("comp", "main"))

	a, err := app.NewApp(cfgPath)
	if err != nil {
		bootLog.Error("fatal", logx.Err(err))
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		bootLog.Error("fatal start", logx.Err(err))
		os.Exit(1)
	}

	in := newIntake(a.Engine(), os.Stdout, a.Logger().With(logx.String("comp", "intake")))
	runErr := in.Run(a.Context(), os.Stdin)

	reason := app.StopEOF
	switch {
	case a.Err() != nil:
		reason = app.StopFatalError
	case ctx.Err() != nil:
		reason = app.StopSignal
	case runErr != nil:
		a.Logger().Error("intake stopped", logx.Err(runErr))
	}
	if list && !errors.Is(runErr, context.Canceled) {
		if err := in.List(context.Background()); err != nil {
			a.Logger().Error("list failed", logx.Err(err))
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		bootLog.Error("stop", logx.Err(err))
	}
	if reason == app.StopFatalError {
		bootLog.Error("fatal", logx.Err(a.Err()))
		os.Exit(1)
	}
}
