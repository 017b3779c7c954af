package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/mail"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"

	"exit-ticket-audit/internal/analytics"
	"exit-ticket-audit/internal/notify"
)

func main() {
	inputPath := flag.String("input", "", "Path to a combined responses CSV (one row per submission)")
	manifestPath := flag.String("manifest", "", "Path to a setup manifest YAML listing strands and form CSVs")
	configPath := flag.String("config", "", "Optional YAML config file (or EXIT_TICKET_CONFIG)")
	asOf := flag.String("as-of", "", "Report date (YYYY-MM-DD or M/D/YYYY); defaults to today")
	jsonOut := flag.String("json", "", "Optional JSON output path")
	sheetOut := flag.String("sheet", "", "Optional CSV output laid out like the Reports sheet")
	studentsOut := flag.String("students", "", "Optional CSV output with one row per student")
	formsOut := flag.String("forms", "", "Optional CSV output with grade-level and teacher averages per form")
	sendReports := flag.Bool("send", false, "Email each student their report (SendGrid, or the outbox without an API key)")
	outboxDir := flag.String("outbox", "", "Directory for rendered emails when no SendGrid key is set")
	dbEnabled := flag.Bool("db", false, "Archive this run in Postgres (requires EXIT_TICKET_DB_URL or DATABASE_URL)")
	dbSchema := flag.String("db-schema", "", "Postgres schema for archive tables")
	dbTag := flag.String("db-tag", "", "Optional label for this run")
	initDB := flag.Bool("init-db", false, "Create the archive schema and exit")
	completion := flag.Float64("completion", 0, "Share of forms a student must submit to be ranked")
	flierThreshold := flag.Float64("flier-threshold", 0, "Relative change that marks a flier")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		exitWithError(err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db-schema":
			cfg.Database.Schema = *dbSchema
		case "db-tag":
			cfg.Database.Tag = *dbTag
		case "completion":
			cfg.Analysis.CompletionThreshold = *completion
		case "flier-threshold":
			cfg.Analysis.FlierThreshold = *flierThreshold
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "outbox":
			cfg.Email.OutboxDir = *outboxDir
		case "send":
			cfg.Email.Enabled = *sendReports
		}
	})
	if err := cfg.Validate(); err != nil {
		exitWithError(err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		exitWithError(err)
	}
	defer logger.Sync()

	if *initDB {
		if cfg.Database.URL == "" {
			exitWithError(errors.New("database URL missing; set EXIT_TICKET_DB_URL or DATABASE_URL"))
		}
		if err := initDatabase(cfg.Database); err != nil {
			exitWithError(err)
		}
		logger.Info("archive schema ready", zap.String("schema", cfg.Database.Schema))
		return
	}

	if (*inputPath == "") == (*manifestPath == "") {
		exitWithError(errors.New("exactly one of --input or --manifest is required"))
	}

	asOfDate := time.Now()
	if *asOf != "" {
		parsed, err := parseDate(*asOf)
		if err != nil {
			exitWithError(fmt.Errorf("invalid --as-of date: %w", err))
		}
		asOfDate = parsed
	}

	source := *inputPath
	var batches []analytics.Batch
	var stats IngestStats
	if *manifestPath != "" {
		source = *manifestPath
		batches, stats, err = loadManifestBatches(*manifestPath)
	} else {
		batches, stats, err = loadResponsesCSV(*inputPath)
	}
	if err != nil {
		exitWithError(err)
	}
	logger.Info("responses loaded",
		zap.String("source", source),
		zap.Int("forms", len(batches)),
		zap.Int("rows", stats.Rows),
		zap.Int("invalid_rows", stats.InvalidRows),
		zap.Int("duplicate_rows", stats.DuplicateRows),
	)

	report := buildReport(batches, stats, cfg.Analysis, asOfDate)
	logger.Info("analysis complete",
		zap.Int("students", len(report.Students)),
		zap.Int("qualified", report.Cohort.QualifiedStudents),
		zap.Int("top_fliers", len(report.Cohort.TopFliers)),
		zap.Int("bottom_fliers", len(report.Cohort.BottomFliers)),
	)

	printReport(os.Stdout, report, source)

	if *jsonOut != "" {
		if err := writeJSON(report, *jsonOut); err != nil {
			exitWithError(err)
		}
		fmt.Printf("\nJSON report saved to %s\n", *jsonOut)
	}
	if *sheetOut != "" {
		if err := writeSheetCSV(report, *sheetOut); err != nil {
			exitWithError(err)
		}
		fmt.Printf("Reports sheet CSV saved to %s\n", *sheetOut)
	}
	if *studentsOut != "" {
		if err := writeStudentsCSV(report, *studentsOut); err != nil {
			exitWithError(err)
		}
		fmt.Printf("Student CSV saved to %s\n", *studentsOut)
	}
	if *formsOut != "" {
		if err := writeFormsCSV(report, *formsOut); err != nil {
			exitWithError(err)
		}
		fmt.Printf("Form averages CSV saved to %s\n", *formsOut)
	}

	if *dbEnabled {
		if cfg.Database.URL == "" {
			exitWithError(errors.New("database URL missing; set EXIT_TICKET_DB_URL or DATABASE_URL"))
		}
		runID, err := storeReportInDB(report, cfg.Database)
		if err != nil {
			exitWithError(err)
		}
		logger.Info("run archived", zap.String("run_id", runID), zap.String("schema", cfg.Database.Schema))
		fmt.Printf("\nStored audit run in Postgres (run_id=%s)\n", runID)
	}

	if cfg.Email.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sender := newSender(cfg.Email)
		sent, err := notify.Deliver(ctx, sender, report.Students, asOfDate, logger)
		fmt.Printf("Student reports delivered: %d of %d\n", sent, len(report.Students))
		if err != nil {
			exitWithError(fmt.Errorf("some student reports were not delivered: %w", err))
		}
	}
}

func buildReport(batches []analytics.Batch, stats IngestStats, opts analytics.Options, asOf time.Time) Report {
	result := analytics.Analyze(batches, opts)
	return Report{
		AsOf:     asOf.Format("2006-01-02"),
		Ingest:   stats,
		Options:  opts,
		Cohort:   result.Cohort,
		Students: result.Students,
	}
}

// parseDate accepts the date layouts spreadsheet exports commonly use.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range []string{"2006-01-02", "2006/01/02", "1/2/2006", "01-02-2006"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format: %s", value)
}

func newSender(cfg EmailConfig) notify.Sender {
	if cfg.SendgridAPIKey != "" {
		return notify.NewSendgridSender(cfg.SendgridAPIKey, mail.Address{Name: cfg.FromName, Address: cfg.FromAddress})
	}
	return notify.NewOutboxSender(cfg.OutboxDir)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
