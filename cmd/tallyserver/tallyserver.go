package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tally/server"
	"github.com/cyclopcam/tally/server/config"
)

func main() {
	parser := argparse.NewParser("tallyserver", "Count unique objects and estimate relative bird weight over HTTP")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file. If it doesn't exist, defaults are used.", Default: config.DefaultFilename})
	listen := parser.String("l", "listen", &argparse.Options{Help: "Override the listen address of the config file, eg :8090", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		panic(err)
	}
	defer logger.Close()

	cfg, err := config.Load(*configFile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Infof("Config file %v not found. Using defaults", *configFile)
		cfg = config.Default()
	} else if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
	}
	srv.Shutdown()
}
