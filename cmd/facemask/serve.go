package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/nvr-ai/go-facemask/controller"
	"github.com/nvr-ai/go-facemask/server"
	"github.com/urfave/cli"
)

// ServeCommand exposes the detector over HTTP.
var ServeCommand = cli.Command{
	Name:  "serve",
	Usage: "Serve the detector over HTTP",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "listen, l", Value: "127.0.0.1:8080", Usage: "address to listen on", EnvVar: "FACEMASK_LISTEN"},
	},
	Action: serveAction,
}

func serveAction(ctx *cli.Context) error {
	opts := optionsFromContext(ctx)
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}
	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine, prof, err := newEngine(cfg, opts.Profile)
	if err != nil {
		return err
	}
	defer engine.Close()
	defer prof.Stop()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{
		Controller: controller.New(engine, prof),
		Profiler:   prof,
	})
	return srv.ListenAndServe(runCtx, ctx.String("listen"))
}
