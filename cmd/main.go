package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"discord-llama-bot/internal/bot"
	"discord-llama-bot/internal/config"
	"discord-llama-bot/internal/db"
	"discord-llama-bot/internal/llm"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the TOML config file")
	writeDefault := flag.Bool("write-default-config", false, "write the default config file and exit")
	flag.Parse()

	if *writeDefault {
		if err := config.WriteDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "error writing default config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	appCtx, cancel := context.WithCancel(context.Background())
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	config.Init(*configPath)

	var usage *db.UsageLog
	if config.Data.Usage.DBPath != "" {
		var err error
		usage, err = db.Open(config.Data.Usage.DBPath)
		if err != nil {
			zap.L().Fatal("error opening usage database", zap.Error(err))
		}
	}

	session, err := llm.New(config.Data)
	if err != nil {
		zap.L().Fatal("error loading model", zap.Error(err))
	}

	botInstance, queue := bot.Init()

	// One invocation at a time: answers keep arrival order and no two
	// generations overlap on the single model session.
	for {
		select {
		case invocation := <-queue:
			bot.Dispatch(appCtx, invocation, session, usage)
		case <-interrupt:
			zap.L().Info("exiting")
			cancel()
			_ = botInstance.Close()

			if usage != nil {
				if totals, err := usage.Totals(); err == nil {
					zap.L().Info("generation totals", zap.Any("totals", totals))
				}
				_ = usage.Close()
			}

			session.Close()
			zap.L().Debug("done")
			return
		}
	}
}
