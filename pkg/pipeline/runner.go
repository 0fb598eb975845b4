// Package pipeline runs one batch: log files in, records out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papaganelli/ezstats/internal/config"
	"github.com/papaganelli/ezstats/pkg/detector"
	"github.com/papaganelli/ezstats/pkg/geoip"
	"github.com/papaganelli/ezstats/pkg/metrics"
	"github.com/papaganelli/ezstats/pkg/record"
	"github.com/papaganelli/ezstats/pkg/sink"
	"github.com/papaganelli/ezstats/pkg/tailer"
)

// Logger receives the run's error channel.
type Logger interface {
	Printf(format string, v ...any)
}

// SinkOpener creates the output for a run once the geolocation database is available.
type SinkOpener func(runID string) (sink.Sink, error)

// Runner processes every log file of Config.LogDir.
type Runner struct {
	Config   config.Config
	OpenSink SinkOpener
	ErrorLog Logger         // Defaults to log.Default()
	Tally    *metrics.Tally // Optional, for live progress

	// OpenGeo acquires the geolocation database. Defaults to geoip.Open.
	OpenGeo func(geoip.Options) (*geoip.Resolver, error)
}

// Summary reports the counts of a finished run.
type Summary struct {
	RunID   string
	Files   int
	Lines   int
	Records int
	Skipped int
	Elapsed time.Duration
}

type job struct {
	file string
	num  int
	text string
}

// Run processes the batch. A malformed line is logged and skipped; an unavailable
// geolocation database (errors.Is geoip.ErrDatabaseUnavailable) or a failing sink
// aborts the run.
func (r *Runner) Run(ctx context.Context) (sum Summary, err error) {
	start := time.Now()
	sum.RunID = uuid.NewString()
	logger := r.logger()
	tally := r.Tally
	if tally == nil {
		tally = metrics.NewTally()
	}
	defer func() {
		snap := tally.Snapshot()
		sum.Files = snap.FilesDone
		sum.Lines = snap.Lines
		sum.Records = snap.Records
		sum.Skipped = snap.Skipped
		sum.Elapsed = time.Since(start)
	}()

	openGeo := r.OpenGeo
	if openGeo == nil {
		openGeo = geoip.Open
	}
	geo, err := openGeo(geoip.Options{
		Backend:       r.Config.GeoIP.Backend,
		Path:          r.Config.GeoIP.Path,
		LookupTimeout: r.Config.GeoIP.LookupTimeout,
		Logger:        logger,
	})
	if err != nil {
		logger.Printf("CRITICAL: GeoIP database unavailable: %s. Error: %v", r.Config.GeoIP.Path, err)
		return sum, err
	}
	defer geo.Close()

	files, err := detector.DiscoverLogFiles(r.Config.LogDir)
	if err != nil {
		logger.Printf("ERROR: Cannot read log directory: %s. Error: %v", r.Config.LogDir, err)
		return sum, err
	}
	if len(files) == 0 {
		logger.Printf("WARN: no log files found in %s", r.Config.LogDir)
	} else {
		logger.Printf("INFO: processing %d log files (%d KB) from %s", len(files), detector.TotalSize(files)/1024, r.Config.LogDir)
	}
	tally.SetFiles(len(files))

	if r.OpenSink == nil {
		return sum, errors.New("pipeline: no sink")
	}
	out, err := r.OpenSink(sum.RunID)
	if err != nil {
		return sum, fmt.Errorf("opening output: %w", err)
	}
	// The tally sees exactly what the output accepted.
	dest := sink.Multi{out, tally}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing output: %w", cerr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	builder := &record.Builder{
		Geo:          geo,
		Labels:       r.Config.Labels,
		CampusPrefix: r.Config.CampusPrefix,
	}

	workers := r.Config.Workers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan job, workers)
	results := make(chan record.Record, workers)

	go func() {
		defer close(jobs)
		for _, f := range files {
			if !r.readFile(ctx, f.Path, jobs, tally, logger) {
				return
			}
			tally.FileDone()
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				rec, err := builder.Build(ctx, j.text)
				if err != nil {
					logLineError(logger, j, err)
					tally.Skip(reason(err))
					continue
				}
				select {
				case results <- rec:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Single writer: records reach the sink whole and one at a time.
	var writeErr error
	for rec := range results {
		if writeErr != nil {
			continue
		}
		if err := dest.Write(rec); err != nil {
			writeErr = fmt.Errorf("writing record: %w", err)
			logger.Printf("ERROR: %v", writeErr)
			cancel()
		}
	}
	if writeErr != nil {
		return sum, writeErr
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

// readFile feeds the lines of path to jobs. It returns false when the run was cancelled.
func (r *Runner) readFile(ctx context.Context, path string, jobs chan<- job, tally *metrics.Tally, logger Logger) bool {
	lines, err := tailer.ReadLines(path, ctx.Done())
	if err != nil {
		logger.Printf("ERROR: Cannot open log file: %s. Error: %v", path, err)
		return ctx.Err() == nil
	}
	for l := range lines {
		if l.Err != nil {
			logger.Printf("ERROR: Error reading log file: %s at line %d. Error: %v", path, l.Num, l.Err)
			continue
		}
		tally.LineRead()
		select {
		case jobs <- job{file: l.File, num: l.Num, text: strings.TrimSpace(l.Text)}:
		case <-ctx.Done():
			return false
		}
	}
	return ctx.Err() == nil
}

func (r *Runner) logger() Logger {
	if r.ErrorLog != nil {
		return r.ErrorLog
	}
	return log.Default()
}

func logLineError(logger Logger, j job, err error) {
	var lpe *record.LineParseError
	if errors.As(err, &lpe) {
		logger.Printf("ERROR: Error processing log line: %s. Error: %v", lpe.Line, lpe.Err)
		return
	}
	logger.Printf("ERROR: Error processing log line: %s. Error: %v", j.text, err)
}

func reason(err error) string {
	var lpe *record.LineParseError
	if errors.As(err, &lpe) {
		return string(lpe.Reason)
	}
	return string(record.ReasonUnexpected)
}
