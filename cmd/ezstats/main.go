package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/papaganelli/ezstats/internal/config"
	"github.com/papaganelli/ezstats/internal/version"
	"github.com/papaganelli/ezstats/pkg/geoip"
	"github.com/papaganelli/ezstats/pkg/metrics"
	"github.com/papaganelli/ezstats/pkg/pipeline"
	"github.com/papaganelli/ezstats/pkg/sink"
	"github.com/papaganelli/ezstats/ui"
)

const (
	exitOK = iota
	exitFailure
	exitGeoUnavailable
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ezstats", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath  string
		logDir      string
		output      string
		geoPath     string
		geoBackend  string
		errorLog    string
		workers     int
		progress    bool
		showVersion bool
	)
	fs.StringVar(&configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&logDir, "logs", "", "directory of EZproxy log files (default "+config.DefaultLogDir+")")
	fs.StringVar(&output, "out", "", "CSV output file (default "+config.DefaultOutput+")")
	fs.StringVar(&geoPath, "geoip", "", "GeoLite2/GeoIP2 City database (default "+config.DefaultGeoIPPath+")")
	fs.StringVar(&geoBackend, "geoip-backend", "", "geolocation backend: maxmind or embedded")
	fs.StringVar(&errorLog, "error-log", "", "error log file, truncated per run (default "+config.DefaultErrorLog+")")
	fs.IntVar(&workers, "workers", 0, fmt.Sprintf("line workers (%d-%d)", config.MinWorkers, config.MaxWorkers))
	fs.BoolVar(&progress, "progress", false, "show live progress in the terminal")
	fs.BoolVar(&showVersion, "version", false, "show version information and exit")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	if showVersion {
		fmt.Fprintln(stdout, version.Info())
		return exitOK
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	// Flags override the file and the environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "logs":
			cfg.LogDir = logDir
		case "out":
			cfg.Output = output
		case "geoip":
			cfg.GeoIP.Path = geoPath
		case "geoip-backend":
			cfg.GeoIP.Backend = geoBackend
		case "error-log":
			cfg.ErrorLog = errorLog
		case "workers":
			cfg.Workers = workers
		case "progress":
			cfg.Progress = progress
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: Invalid configuration: %v\n", err)
		return exitFailure
	}
	if err := validateLogDir(cfg.LogDir); err != nil {
		fmt.Fprintf(stderr, "Error: Invalid log directory: %v\n", err)
		return exitFailure
	}

	errFile, err := os.Create(cfg.ErrorLog)
	if err != nil {
		fmt.Fprintf(stderr, "Error: Cannot create error log: %v\n", err)
		return exitFailure
	}
	defer errFile.Close()
	errLog := log.New(errFile, "", log.LstdFlags)
	errLog.Printf("INFO: ezstats %s processing %s", version.Short(), cfg.LogDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tally := metrics.NewTally()
	runner := &pipeline.Runner{
		Config:   cfg,
		OpenSink: openSinks(cfg, errLog),
		ErrorLog: errLog,
		Tally:    tally,
	}

	var sum pipeline.Summary
	if cfg.Progress {
		done := make(chan struct{})
		go func() {
			defer close(done)
			sum, err = runner.Run(ctx)
		}()
		if uiErr := ui.NewProgress(tally, done, cancel).Run(); uiErr != nil {
			log.Printf("WARN: progress display failed: %v", uiErr)
		}
		<-done
	} else {
		sum, err = runner.Run(ctx)
	}

	if err != nil {
		if errors.Is(err, geoip.ErrDatabaseUnavailable) {
			fmt.Fprintf(stderr, "Error: GeoIP database unavailable, no records written: %v\n", err)
			return exitGeoUnavailable
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	errLog.Printf("INFO: run %s finished: %d files, %d lines, %d records, %d skipped in %s",
		sum.RunID, sum.Files, sum.Lines, sum.Records, sum.Skipped, sum.Elapsed)
	fmt.Fprint(stdout, ui.RenderSummary(tally.Snapshot()))
	fmt.Fprintf(stdout, "Wrote %d records to %s (run %s)\n", sum.Records, cfg.Output, sum.RunID)
	if sum.Skipped > 0 {
		fmt.Fprintf(stdout, "%d lines skipped, see %s\n", sum.Skipped, cfg.ErrorLog)
	}
	return exitOK
}

// openSinks creates the CSV output and, when configured, the ClickHouse table.
func openSinks(cfg config.Config, errLog *log.Logger) pipeline.SinkOpener {
	return func(runID string) (sink.Sink, error) {
		csvSink, err := sink.CreateCSV(cfg.Output)
		if err != nil {
			return nil, err
		}
		if !cfg.ClickHouse.Enabled() {
			return csvSink, nil
		}

		ch, err := sink.OpenClickHouse(sink.ClickHouseOptions{
			Addr:      cfg.ClickHouse.Addr,
			Database:  cfg.ClickHouse.Database,
			Table:     cfg.ClickHouse.Table,
			BatchSize: cfg.ClickHouse.BatchSize,
		}, runID)
		if err != nil {
			csvSink.Close()
			return nil, err
		}
		errLog.Printf("INFO: also writing run %s to ClickHouse at %s", runID, cfg.ClickHouse.Addr)
		return sink.Multi{csvSink, ch}, nil
	}
}

// validateLogDir checks that path is a readable directory outside the
// locations that never hold proxy logs.
func validateLogDir(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return fmt.Errorf("cannot evaluate symlinks: %w", err)
	}

	for _, dangerous := range []string{"/etc", "/root/.ssh", "/proc", "/sys"} {
		if evalPath == dangerous || strings.HasPrefix(evalPath, dangerous+"/") {
			return fmt.Errorf("access denied: %s is a system directory", evalPath)
		}
	}

	info, err := os.Stat(evalPath)
	if err != nil {
		return fmt.Errorf("cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", path)
	}
	return nil
}
