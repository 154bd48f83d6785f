package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/app"
)

var version = "dev"

func main() {
	cfgPath := flag.String("config", "config.json", "path to the config file")
	bridgeAddr := flag.String("bridge", "", "run only the websocket bridge on this address (e.g. :8790)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Options{
		ConfigPath: *cfgPath,
		BridgeAddr: *bridgeAddr,
	}); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
