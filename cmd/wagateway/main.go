package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/adminapi"
	"github.com/talkincode/wagateway/internal/app"
	"github.com/talkincode/wagateway/internal/inbox"
	"github.com/talkincode/wagateway/internal/webserver"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.uber.org/zap"
)

var (
	cfile   = flag.String("c", "", "config yaml file")
	migrate = flag.Bool("migrate", false, "run database migration and exit")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "wagateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(*cfile)
	if err != nil {
		return err
	}

	application := app.NewApplication(cfg)
	if err := application.Init(); err != nil {
		return err
	}
	defer application.Release()
	if *migrate {
		zap.L().Info("database migration done")
		return nil
	}

	bus := EventBus.New()
	activity := whatsapp.NewActivityLog(cfg.Whatsapp.ActivitySize)
	if err := activity.Subscribe(bus); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := whatsapp.NewMeowFactory(ctx, cfg.GetAuthDir(), cfg.Whatsapp.DeviceName)
	if err != nil {
		return err
	}
	defer factory.Close()

	controller := whatsapp.NewController(factory, cfg.Whatsapp.ReconnectDelay, bus)
	queue := whatsapp.NewSendQueue(controller, cfg.Whatsapp.SendInterval, cfg.Whatsapp.SendTimeout, bus)

	repo := inbox.NewGormRepository(application.DB())
	pipeline, err := inbox.NewPipeline(repo, queue, inbox.NewResponder(cfg.Responder), inbox.PipelineConfig{
		CountryCode:    cfg.Whatsapp.CountryCode,
		HistoryWindow:  cfg.Responder.HistoryWindow,
		RespondTimeout: cfg.Responder.Timeout,
		Workers:        cfg.Whatsapp.InboundWorkers,
	})
	if err != nil {
		return err
	}
	controller.SetInboundHandler(pipeline)
	application.Watch(controller, queue)

	service := inbox.NewService(repo, queue, controller, cfg.Whatsapp.CountryCode).ShareLocks(pipeline)
	server := webserver.NewServer(cfg.Web, cfg.ListenAddr(), adminapi.New(adminapi.Deps{
		Whatsapp: controller,
		Queue:    queue,
		Inbox:    service,
		Activity: activity,
		Bus:      bus,
		Runtime:  application,
	}))

	if err := controller.Start(ctx); err != nil {
		zap.L().Warn("whatsapp: initial start failed, retry scheduled", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		zap.L().Info("shutdown signal received")
	case err = <-errCh:
		if err != nil {
			zap.L().Error("webserver stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("webserver shutdown", zap.Error(err))
	}
	queue.Close()
	controller.Stop()
	pipeline.Release()
	zap.L().Info("wagateway stopped")
	return err
}
