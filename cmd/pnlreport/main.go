// Command pnlreport prints a realized P&L report for a broker CSV export
// without touching the database.
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"journal/internal/domain"
	"journal/internal/ingest"
	"journal/internal/timeframe"
)

func main() {
	file := flag.String("file", "", "path to the broker CSV export")
	template := flag.String("template", "webull_v1", "CSV template: "+strings.Join(ingest.Templates(), ", "))
	tfFlag := flag.String("timeframe", "ALL", "1D, 1W, 1M, 3M, 6M, 1Y, YTD or ALL")
	tz := flag.String("tz", "America/New_York", "reporting timezone for day buckets and naive CSV times")
	account := flag.String("account", domain.DefaultAccount, "account for rows without an account column")
	series := flag.Bool("series", false, "print the gap-filled daily P&L series")
	workers := flag.Int("workers", 4, "accounts matched in parallel")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		log.Fatal().Err(err).Str("tz", *tz).Msg("invalid timezone")
	}
	tf, err := timeframe.Parse(*tfFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid timeframe")
	}

	parser, err := ingest.NewParser(*template, loc, ingest.WithAccount(*account))
	if err != nil {
		log.Fatal().Err(err).Strs("templates", ingest.Templates()).Msg("invalid template")
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("open csv")
	}
	defer f.Close()

	parsed, err := parser.Parse(f)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("parse csv")
	}
	for _, rowErr := range parsed.Errors {
		log.Warn().Int("row", rowErr.Row).Err(rowErr.Err).Msg("skipped row")
	}
	log.Info().
		Int("rows", parsed.Rows).
		Int("trades", len(parsed.Trades)).
		Int("failed", len(parsed.Errors)).
		Msg("parsed csv")

	rep, err := buildReport(context.Background(), parsed.Trades, tf, time.Now(), loc, *workers)
	if err != nil {
		log.Fatal().Err(err).Msg("match trades")
	}
	rep.render(os.Stdout, *series)
}
