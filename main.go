// aiplay - A terminal client for AI chat and image generation.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"aiplay/internal/config"
	"aiplay/internal/openai"
	"aiplay/internal/repl"
	"aiplay/internal/store"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "aiplay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	showVersion := flag.Bool("version", false, "print version and exit")
	modelFlag := flag.String("model", "", "chat model (overrides config)")
	dbFlag := flag.String("db", "", "conversation database path (overrides default)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("aiplay %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return nil
	}

	// Local overrides load before config so the key is visible to the
	// environment pass. A missing file is not an error.
	godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *modelFlag != "" {
		cfg.Chat.Model = *modelFlag
	}

	dbPath := *dbFlag
	if dbPath == "" {
		dbPath, err = config.HistoryDBPath()
		if err != nil {
			return err
		}
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	client := openai.NewClient(openai.ClientConfig{
		APIKey:  cfg.Global.APIKey,
		BaseURL: cfg.Global.BaseURL,
	})

	return repl.New(cfg, st, client).Run()
}
