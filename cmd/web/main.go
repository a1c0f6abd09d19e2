// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/scroll_capture/internal/app"
	"github.com/relabs-tech/scroll_capture/internal/config"
)

func main() {
	configPath := flag.String("config", "./scroll_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting scroll-capture web monitor")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunWeb(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
