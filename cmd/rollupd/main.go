// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"

	"github.com/brickrollup/brickrollup/cmd/genericconf"
	"github.com/brickrollup/brickrollup/cmd/util"
	"github.com/brickrollup/brickrollup/cmd/util/confighelpers"
)

func printSampleUsage(progname string) {
	fmt.Printf("\n")
	fmt.Printf("Sample usage:                  %s --rollup.rpc <url> --rollup.anchor <address> --core.script-file <file>\n", progname)
	fmt.Printf("                               %s --conf.file <config.json>\n", progname)
}

func mainImpl() int {
	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	config, err := ParseRollupd(os.Args[1:])
	if err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}

	if err := config.Persistent.ResolveDirectoryNames(); err != nil {
		fmt.Fprintf(os.Stderr, "error preparing directories: %v\n", err)
		return 1
	}
	err = genericconf.InitLog(config.LogType, config.LogLevel, &config.FileLogging, genericconf.DefaultPathResolver(config.Persistent.LogDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error initializing log: %v\n", err)
		return 1
	}
	defer func() {
		if err := genericconf.CloseLog(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing log file: %v\n", err)
		}
	}()
	vcsRevision, _, vcsTime := confighelpers.GetVersion()
	log.Info("starting rollupd", "revision", vcsRevision, "vcs.time", vcsTime)

	if err := util.StartMetrics(config.Metrics, &config.MetricsServer); err != nil {
		log.Error("error starting metrics server", "err", err)
		return 1
	}

	secret, err := config.Secret.Load(genericconf.DefaultPathResolver(config.Persistent.GlobalConfig))
	if err != nil {
		log.Error("error loading master secret", "err", err)
		return 1
	}
	db, err := config.Persistent.OpenDatabase("profiles", false)
	if err != nil {
		log.Error("error opening profile database", "err", err)
		return 1
	}
	defer db.Close()

	node, err := CreateNode(ctx, config, db, secret)
	if err != nil {
		log.Error("error creating node", "err", err)
		return 1
	}
	if err := node.Start(ctx); err != nil {
		log.Error("error starting node", "err", err)
		return 1
	}
	defer node.StopAndWait()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	<-sigint
	log.Info("shutting down because of sigint")

	return 0
}

func main() {
	os.Exit(mainImpl())
}
