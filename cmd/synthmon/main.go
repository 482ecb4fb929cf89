package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/probelab/synthmon/config"
	"github.com/probelab/synthmon/internal/adminapi"
	"github.com/probelab/synthmon/internal/app"
	"github.com/probelab/synthmon/internal/webserver"
)

var (
	h        = flag.Bool("h", false, "help usage")
	showVer  = flag.Bool("v", false, "show version")
	conffile = flag.String("c", "/etc/synthmon.yml", "config file")
	initdb   = flag.Bool("initdb", false, "drop and recreate the database schema")
)

var (
	BuildVersion = "dev"
	BuildTime    = ""
)

func printVersion() {
	fmt.Printf("synthmon %s %s\n", BuildVersion, BuildTime)
}

func main() {
	flag.Parse()
	if *h {
		flag.Usage()
		return
	}
	if *showVer {
		printVersion()
		return
	}

	cfg := config.LoadConfig(*conffile)
	_ = os.MkdirAll(cfg.System.Workdir, 0o755)

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.StartBackgroundJobs(ctx); err != nil {
		zap.L().Fatal("failed to start scheduling engine", zap.Error(err))
	}

	web := webserver.New(cfg.Web)
	adminapi.NewHandler(application.DB(), application.Engine()).Register(web.Echo())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(web.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return web.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("server exited with error", zap.Error(err))
	}
}
