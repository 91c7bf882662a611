package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/app"
)

func main() {
	cfg := app.LoadConfig()

	fs := pflag.NewFlagSet("gatekeep", pflag.ContinueOnError)
	cfg.AddFlags(fs)
	version := fs.Bool("version", false, "print the version and exit")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("invalid arguments: %v", err)
	}

	if *version {
		fmt.Println("gatekeep", app.BuildVersion)
		return
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
