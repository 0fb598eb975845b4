package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/papaganelli/ezstats/internal/config"
	"github.com/papaganelli/ezstats/pkg/geoip"
	"github.com/papaganelli/ezstats/pkg/metrics"
	"github.com/papaganelli/ezstats/pkg/record"
	"github.com/papaganelli/ezstats/pkg/sink"
)

const (
	ncsaLine = `192.168.1.1 - - [01/Jan/2024:12:00:00 -0500] "GET http://example.com/x HTTP/1.1" http://referrer.com`
	ezLine   = `10.0.0.5 [15/Mar/2024:08:30:00 +0000] jdoe https://www.jstor.org/stable/1 200 -`
	badLine  = `192.168.1.1 [bad-timestamp] - http://example.com/ 200 -`
)

type fakeDB struct {
	places map[string]geoip.Place
	closed atomic.Int32
}

func (f *fakeDB) Lookup(ip net.IP) (geoip.Place, error) {
	if p, ok := f.places[ip.String()]; ok {
		return p, nil
	}
	return geoip.Place{}, geoip.ErrAddressNotFound
}

func (f *fakeDB) Close() error {
	f.closed.Add(1)
	return nil
}

type memSink struct {
	mu      sync.Mutex
	records []record.Record
	runID   string
	failOn  int // Write number that fails, 0 never
	closed  int
}

func (m *memSink) Write(rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn > 0 && len(m.records)+1 == m.failOn {
		return errors.New("disk full")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	return nil
}

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

func (l *recordingLogger) count(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.msgs {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func writeLogs(t *testing.T, files map[string][]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, lines := range files {
		content := strings.Join(lines, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return dir
}

func newRunner(dir string, db *fakeDB, out *memSink, logger *recordingLogger) *Runner {
	cfg := config.Default()
	cfg.LogDir = dir
	cfg.Labels = map[string]string{"www.jstor.org": "JSTOR"}
	return &Runner{
		Config: cfg,
		OpenSink: func(runID string) (sink.Sink, error) {
			out.runID = runID
			return out, nil
		},
		ErrorLog: logger,
		OpenGeo: func(opts geoip.Options) (*geoip.Resolver, error) {
			return geoip.NewResolver(db, opts), nil
		},
	}
}

func testDB() *fakeDB {
	return &fakeDB{places: map[string]geoip.Place{
		"192.168.1.1": {Country: "United States", Subdivision: "Virginia", City: "Richmond"},
	}}
}

func TestRun(t *testing.T) {
	dir := writeLogs(t, map[string][]string{
		"ezp202401.log": {ncsaLine, badLine, ""},
		"ezp202403.log": {ezLine, "too few fields"},
	})
	db := testDB()
	out := &memSink{}
	logger := &recordingLogger{}
	tally := metrics.NewTally()

	r := newRunner(dir, db, out, logger)
	r.Tally = tally
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if sum.RunID == "" || sum.RunID != out.runID {
		t.Errorf("RunID = %q, sink got %q", sum.RunID, out.runID)
	}
	if sum.Files != 2 || sum.Lines != 5 || sum.Records != 2 || sum.Skipped != 3 {
		t.Errorf("Summary = %+v, want 2 files, 5 lines, 2 records, 3 skipped", sum)
	}
	if len(out.records) != 2 {
		t.Fatalf("sink got %d records, want 2", len(out.records))
	}

	first := out.records[0]
	want := record.Record{
		Date: "01", Weekday: "Monday", Hour: "12",
		Country: "United States", State: "Virginia", City: "Richmond",
		Location: record.OffCampus, Status: "anonymous",
		RequestedURL: "example.com", ReferringURL: "referrer.com",
	}
	if first != want {
		t.Errorf("first record = %+v, want %+v", first, want)
	}

	second := out.records[1]
	if second.Location != record.OnCampus || second.Country != geoip.Unknown || second.Resource != "JSTOR" {
		t.Errorf("second record = %+v", second)
	}
	if second.ReferringURL != record.NoReferrer {
		t.Errorf("ReferringURL = %q, want %q", second.ReferringURL, record.NoReferrer)
	}

	if n := logger.count("ERROR: Error processing log line"); n != 3 {
		t.Errorf("logged %d line errors, want 3", n)
	}
	if logger.count("bad-timestamp") != 1 {
		t.Error("error log should carry the offending line")
	}
	if db.closed.Load() != 1 {
		t.Errorf("geo database closed %d times, want 1", db.closed.Load())
	}
	if out.closed != 1 {
		t.Errorf("sink closed %d times, want 1", out.closed)
	}

	snap := tally.Snapshot()
	if snap.SkipReasons[string(record.ReasonTimestamp)] != 1 || snap.SkipReasons[string(record.ReasonFieldCount)] != 2 {
		t.Errorf("SkipReasons = %v", snap.SkipReasons)
	}
	if snap.Groups[metrics.ByResource]["JSTOR"] != 1 {
		t.Errorf("resource groups = %v", snap.Groups[metrics.ByResource])
	}
}

func TestRunGeoUnavailable(t *testing.T) {
	dir := writeLogs(t, map[string][]string{"ezp.log": {ncsaLine}})
	out := &memSink{}
	logger := &recordingLogger{}
	opened := false

	r := newRunner(dir, testDB(), out, logger)
	r.OpenSink = func(string) (sink.Sink, error) {
		opened = true
		return out, nil
	}
	r.OpenGeo = func(geoip.Options) (*geoip.Resolver, error) {
		return nil, fmt.Errorf("%w: open GeoLite2-City.mmdb: no such file", geoip.ErrDatabaseUnavailable)
	}

	sum, err := r.Run(context.Background())
	if !errors.Is(err, geoip.ErrDatabaseUnavailable) {
		t.Fatalf("Run() error = %v, want ErrDatabaseUnavailable", err)
	}
	if opened {
		t.Error("output should not be opened without a geo database")
	}
	if sum.Records != 0 || sum.Lines != 0 {
		t.Errorf("Summary = %+v, want nothing processed", sum)
	}
	if n := logger.count("CRITICAL:"); n != 1 {
		t.Errorf("logged %d CRITICAL entries, want 1", n)
	}
}

func TestRunMissingDatabaseFile(t *testing.T) {
	dir := writeLogs(t, map[string][]string{"ezp.log": {ncsaLine}})
	cfg := config.Default()
	cfg.LogDir = dir
	cfg.GeoIP.Path = filepath.Join(t.TempDir(), "missing.mmdb")

	r := &Runner{
		Config:   cfg,
		OpenSink: func(string) (sink.Sink, error) { return &memSink{}, nil },
		ErrorLog: &recordingLogger{},
	}
	if _, err := r.Run(context.Background()); !errors.Is(err, geoip.ErrDatabaseUnavailable) {
		t.Errorf("Run() error = %v, want ErrDatabaseUnavailable", err)
	}
}

func TestRunEmbeddedBackend(t *testing.T) {
	dir := writeLogs(t, map[string][]string{"ezp.log": {ncsaLine, ezLine}})
	cfg := config.Default()
	cfg.LogDir = dir
	cfg.GeoIP.Backend = geoip.BackendEmbedded
	cfg.GeoIP.Path = ""
	out := &memSink{}

	r := &Runner{
		Config:   cfg,
		OpenSink: func(string) (sink.Sink, error) { return out, nil },
		ErrorLog: &recordingLogger{},
	}
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Records != 2 {
		t.Fatalf("Records = %d, want 2", sum.Records)
	}
	for _, rec := range out.records {
		if rec.Country == geoip.Error {
			t.Errorf("private address should not be a lookup error: %+v", rec)
		}
	}
}

func TestRunWorkers(t *testing.T) {
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, fmt.Sprintf(`192.168.1.1 [%02d/Jan/2024:%02d:00:00 +0000] - http://host%d.example.com/ 200 -`, i%28+1, i%24, i))
	}
	dir := writeLogs(t, map[string][]string{"a.log": lines[:100], "b.log": lines[100:]})
	out := &memSink{}

	r := newRunner(dir, testDB(), out, &recordingLogger{})
	r.Config.Workers = 8
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Records != 200 || len(out.records) != 200 {
		t.Fatalf("Records = %d (sink %d), want 200", sum.Records, len(out.records))
	}

	hosts := make([]string, 0, len(out.records))
	for _, rec := range out.records {
		hosts = append(hosts, rec.RequestedURL)
	}
	sort.Strings(hosts)
	for i := 1; i < len(hosts); i++ {
		if hosts[i] == hosts[i-1] {
			t.Fatalf("record for %s written twice", hosts[i])
		}
	}
}

func TestRunSinkFailureAborts(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, ncsaLine)
	}
	dir := writeLogs(t, map[string][]string{"ezp.log": lines})
	db := testDB()
	out := &memSink{failOn: 3}

	r := newRunner(dir, db, out, &recordingLogger{})
	_, err := r.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Run() error = %v, want the sink failure", err)
	}
	if len(out.records) != 2 {
		t.Errorf("sink kept %d records, want 2", len(out.records))
	}
	if db.closed.Load() != 1 || out.closed != 1 {
		t.Errorf("geo closed %d, sink closed %d; want 1 and 1", db.closed.Load(), out.closed)
	}
}

func TestRunEmptyDirectory(t *testing.T) {
	out := &memSink{}
	logger := &recordingLogger{}
	r := newRunner(t.TempDir(), testDB(), out, logger)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Files != 0 || sum.Records != 0 {
		t.Errorf("Summary = %+v, want empty", sum)
	}
	if logger.count("WARN: no log files found") != 1 {
		t.Error("expected a warning for an empty directory")
	}
}

func TestRunMissingDirectory(t *testing.T) {
	db := testDB()
	r := newRunner(filepath.Join(t.TempDir(), "nope"), db, &memSink{}, &recordingLogger{})
	if _, err := r.Run(context.Background()); err == nil {
		t.Error("Run() should fail on a missing log directory")
	}
	if db.closed.Load() != 1 {
		t.Error("geo database should be released on early exit")
	}
}

func TestRunCancelled(t *testing.T) {
	dir := writeLogs(t, map[string][]string{"ezp.log": {ncsaLine, ezLine}})
	db := testDB()
	r := newRunner(dir, db, &memSink{}, &recordingLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if db.closed.Load() != 1 {
		t.Error("geo database should be released on cancel")
	}
}

func TestRunNoSink(t *testing.T) {
	r := newRunner(t.TempDir(), testDB(), &memSink{}, &recordingLogger{})
	r.OpenSink = nil
	if _, err := r.Run(context.Background()); err == nil {
		t.Error("Run() without a sink should fail")
	}
}

func BenchmarkRun(b *testing.B) {
	dir := b.TempDir()
	lines := make([]string, 1000)
	for i := range lines {
		lines[i] = ncsaLine
	}
	if err := os.WriteFile(filepath.Join(dir, "ezp.log"), []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r := newRunner(dir, testDB(), &memSink{}, &recordingLogger{})
		if _, err := r.Run(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}
