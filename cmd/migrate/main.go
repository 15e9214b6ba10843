// migrate applies the embedded SQL migrations to the configured database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/admitboard/realtime/internal/config"
	"github.com/admitboard/realtime/internal/storage"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set")
		os.Exit(1)
	}

	if err := storage.Migrate(cfg.DatabaseURL, *direction); err != nil {
		if errors.Is(err, storage.ErrNoChange) {
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
