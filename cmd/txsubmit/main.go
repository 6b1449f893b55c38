/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// txsubmit is a rate-limited, priority-aware transaction submission service.
package main

import (
	"flag"
	golog "log"

	"github.com/acronis/txsubmit/internal/app"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file (YAML)")
	flag.Parse()

	if err := app.Run(*configPath); err != nil {
		golog.Fatal(err)
	}
}
