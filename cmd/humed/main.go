// Command humed is the hume relay daemon: it accepts status packets from
// hume clients, queues them durably, and forwards them to the configured
// backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sdnotify "github.com/coreos/go-systemd/v22/daemon"

	"humed/internal/daemon"
	"humed/internal/plugin"
)

var version = "dev"

func main() {
	cfgPath := flag.String("config", "/etc/humed/humed.json", "path to the config file (JSON or YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("humed", version)
		return
	}

	os.Exit(run(*cfgPath))
}

func run(cfgPath string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Embedders with custom transfer methods build their own main and
	// register senders here; the stock daemon ships with the built-ins.
	registry := plugin.NewRegistry()

	app, err := daemon.New(cfgPath, registry)
	if err != nil {
		fmt.Fprintln(os.Stderr, "humed:", err)
		return daemon.ExitCode(err)
	}

	app.OnReady = func() { sdnotify.SdNotify(false, sdnotify.SdNotifyReady) }
	err = app.Run(ctx)
	sdnotify.SdNotify(false, sdnotify.SdNotifyStopping)

	if err != nil {
		fmt.Fprintln(os.Stderr, "humed:", err)
	}
	return daemon.ExitCode(err)
}
