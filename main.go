package main

import (
	"log"

	"halflife-tracker/internal/app"
	_ "halflife-tracker/migrations"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func main() {
	application, err := app.NewWithVersion(Version, Commit, Date)
	if err != nil {
		log.Fatalf("failed to initialize app: %v", err)
	}

	if err := application.Bootstrap(); err != nil {
		log.Fatalf("failed to bootstrap app: %v", err)
	}

	if err := application.Start(); err != nil {
		log.Fatal(err)
	}
}
