package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopherex.com/custody/internal/app"
	"gopherex.com/custody/pkg/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg app.Config
	err := bootstrap.Run(ctx, bootstrap.Options[app.Config]{
		ConfigName: app.ServiceName,
		Config:     &cfg,
		Base:       (*app.Config).Base,
		OnReload:   app.OnReload,
		Build:      app.Build,
	})
	if err != nil {
		log.Fatalf("%s: %v", app.ServiceName, err)
	}
}
