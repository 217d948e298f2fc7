// Command reportexport dumps stored moderation reports as CSV.
//
//	reportexport -type 0 -since 24h -limit 500 -o reports.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/toxiguard/chat-relay/internal/config"
	"github.com/toxiguard/chat-relay/internal/logger"
	"github.com/toxiguard/chat-relay/internal/report"
)

func main() {
	configPath := flag.String("config", config.GetEnv("CONFIG_PATH", "relay.yaml"), "path to YAML config")
	typeFlag := flag.String("type", "", "only export reports of this type (0, 1 or 2)")
	since := flag.Duration("since", 0, "only export reports newer than this, e.g. 24h")
	limit := flag.Int("limit", 0, "maximum number of reports, 0 for all")
	output := flag.String("o", "-", "output file, - for stdout")
	flag.Parse()

	log := logger.Component("reportexport")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	filter := report.Filter{Limit: *limit}
	if *typeFlag != "" {
		t, err := report.ParseType(*typeFlag)
		if err != nil {
			log.Fatal().Err(err).Str("type", *typeFlag).Msg("bad report type")
		}
		filter.Type = &t
	}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	lister, closeFn, err := openLister(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open report store")
	}
	defer closeFn()

	reports, err := lister.List(ctx, filter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list reports")
	}

	var w io.Writer = os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create output file")
		}
		defer f.Close()
		w = f
	}

	if err := report.WriteCSV(w, reports); err != nil {
		log.Fatal().Err(err).Msg("failed to write csv")
	}
	log.Info().Int("count", len(reports)).Str("output", *output).Msg("reports exported")
}

func openLister(ctx context.Context, cfg *config.Config) (report.Lister, func() error, error) {
	switch cfg.Reports.Driver {
	case config.ReportDriverPostgres:
		db, err := report.OpenPostgres(ctx, cfg.Reports.DSN)
		if err != nil {
			return nil, nil, err
		}
		return report.NewPostgresStore(db), db.Close, nil
	case config.ReportDriverSQLite:
		store, err := report.OpenSQLite(cfg.Reports.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown report driver %q", cfg.Reports.Driver)
	}
}
