package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/wppcrm/internal/config"
	"github.com/matheus3301/wppcrm/internal/daemon"
	"github.com/matheus3301/wppcrm/internal/instance"
	"go.uber.org/fx"
)

func main() {
	instanceFlag := flag.String("instance", "", "gateway instance name (overrides config default)")
	configFlag := flag.String("config", "", "config file path")
	noConnect := flag.Bool("no-connect", false, "do not connect to the gateway on startup")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = instance.ConfigPath()
	}
	cfg, err := config.Resolve(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	name := instance.Resolve(*instanceFlag, cfg)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Instance: name, Config: cfg, AutoConnect: !*noConnect}),
	)

	app.Run()
}
