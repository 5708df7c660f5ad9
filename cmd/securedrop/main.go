package main

import (
	"context"
	"fmt"
	"os"

	"github.com/securedrop-lan/securedrop/internal/client"
	"github.com/securedrop-lan/securedrop/internal/config"
	"github.com/securedrop-lan/securedrop/internal/logging"
)

func main() {
	flags, err := config.ParseClientFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.LoadClient(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	registry, err := client.LoadRegistry(cfg.CacheFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading account cache: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	sess, err := client.Dial(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error connecting: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	sh := client.NewShell(sess, registry, cfg)
	if err := sh.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	logger.Debug("session closed")
}
