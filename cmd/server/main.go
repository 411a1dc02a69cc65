// Package main is the entry point for the mml2mp3 API server
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"

	"github.com/james-see/mml2mp3/pkg/api"
	"github.com/james-see/mml2mp3/pkg/converter"
	"github.com/james-see/mml2mp3/pkg/pipeline"
)

func main() {
	port := flag.Int("port", 8080, "Server port")
	soundFont := flag.String("soundfont", "", "SoundFont file (default $"+pipeline.SoundFontEnv+")")
	verbose := flag.Bool("verbose", false, "Log every request and pipeline stage")
	flag.Parse()

	logger := &log.Logger{Handler: cli.New(os.Stderr), Level: log.InfoLevel}
	if *verbose {
		logger.Level = log.DebugLevel
	}

	sf := pipeline.SoundFont(*soundFont)
	if err := converter.CheckSoundFont(sf); err != nil {
		fmt.Fprintf(os.Stderr, "Soundfont error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Starting mml2mp3 API server on port %d...\n", *port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", *port)

	err := api.StartServer(*port, api.Options{
		SoundFont: sf,
		Effects:   converter.DefaultConfig().Effects,
		Logger:    logger,
		New:       pipeline.New,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
