package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/cmd/tokenpool/commands"
	log "github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, os.Args, os.Stdout); err != nil {
		log.WithError(err).Error("tokenpool failed")
		stop()
		os.Exit(1)
	}
}
