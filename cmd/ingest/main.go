package main

import (
	"crypto/tls"
	"net/http"
	"os"
	"time"

	"github.com/casamap/plaquemap/internal/ingest"
	"github.com/casamap/plaquemap/internal/logger"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	Source string `short:"s" long:"source" env:"REGISTRY_URL" description:"Plaque registry export URL" required:"true"`
	Dest   string `short:"o" long:"output" env:"DATASET_FILE" description:"Destination GeoJSON file"   default:"data/plaques.geojson"`
	Force  bool   `short:"f" long:"force"  description:"Force overwrite of existing file"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	client := &http.Client{
		Transport: &http.Transport{
			TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
		Timeout: 15 * time.Second,
	}

	if err := ingest.Run(client, opts.Source, opts.Dest, opts.Force); err != nil {
		log.Fatal().Err(err).Msg("Ingest failed")
	}

	log.Info().Str("path", opts.Dest).Msg("Ingest finished successfully")
}
