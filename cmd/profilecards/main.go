// Package main starts the profile cards service process lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	profilecardscmd "github.com/louisbranch/profilecards/internal/cmd/profilecards"
)

func main() {
	cfg, err := profilecardscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[PROFILECARDS] ")
	if cfg.HealthCheck {
		if err := profilecardscmd.Healthcheck(context.Background(), cfg); err != nil {
			log.Fatalf("health check: %v", err)
		}
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := profilecardscmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
