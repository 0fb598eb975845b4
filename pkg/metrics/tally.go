package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/papaganelli/ezstats/pkg/geoip"
	"github.com/papaganelli/ezstats/pkg/record"
)

// Tally counts what a run has read, kept and skipped, and groups the kept
// records by the report dimensions. It satisfies the record sink contract and
// is safe for concurrent use.
type Tally struct {
	mu        sync.RWMutex
	start     time.Time
	files     int
	filesDone int
	lines     int
	records   int
	skipped   map[string]int
	geoUnk    int
	geoErr    int
	dims      map[Dimension]map[string]int
	rate      *RateTracker
}

// Dimension is a record attribute the report groups by.
type Dimension string

const (
	ByDate     Dimension = "date"
	ByWeekday  Dimension = "weekday"
	ByHour     Dimension = "hour"
	ByCountry  Dimension = "country"
	ByState    Dimension = "state"
	ByCity     Dimension = "city"
	ByLocation Dimension = "location"
	ByResource Dimension = "resource"
)

// Dimensions lists every Dimension in report order.
var Dimensions = []Dimension{ByDate, ByWeekday, ByHour, ByCountry, ByState, ByCity, ByLocation, ByResource}

// NewTally creates an empty Tally; the elapsed time counts from now.
func NewTally() *Tally {
	dims := make(map[Dimension]map[string]int, len(Dimensions))
	for _, d := range Dimensions {
		dims[d] = make(map[string]int)
	}
	return &Tally{
		start:   time.Now(),
		skipped: make(map[string]int),
		dims:    dims,
		rate:    NewRateTracker(time.Second, 10),
	}
}

// SetFiles records how many files the run will read.
func (t *Tally) SetFiles(n int) {
	t.mu.Lock()
	t.files = n
	t.mu.Unlock()
}

// FileDone marks one more file as fully read.
func (t *Tally) FileDone() {
	t.mu.Lock()
	t.filesDone++
	t.mu.Unlock()
}

// LineRead counts one raw line.
func (t *Tally) LineRead() {
	t.mu.Lock()
	t.lines++
	t.mu.Unlock()
	t.rate.Record(time.Now())
}

// Skip counts one line that produced no record.
func (t *Tally) Skip(reason string) {
	t.mu.Lock()
	t.skipped[reason]++
	t.mu.Unlock()
}

// Write counts one record.
func (t *Tally) Write(rec record.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records++
	if rec.Country == geoip.Unknown || rec.State == geoip.Unknown || rec.City == geoip.Unknown {
		t.geoUnk++
	}
	if rec.Country == geoip.Error {
		t.geoErr++
	}

	t.dims[ByDate][rec.Date]++
	t.dims[ByWeekday][rec.Weekday]++
	t.dims[ByHour][rec.Hour]++
	t.dims[ByCountry][rec.Country]++
	t.dims[ByState][rec.State]++
	t.dims[ByCity][rec.City]++
	t.dims[ByLocation][rec.Location.String()]++
	if rec.Resource != "" {
		t.dims[ByResource][rec.Resource]++
	}
	return nil
}

// Close is a no-op; a Tally keeps its counts after the run.
func (t *Tally) Close() error {
	return nil
}

// Snapshot is a point-in-time copy of a Tally.
type Snapshot struct {
	Files       int
	FilesDone   int
	Lines       int
	Records     int
	Skipped     int
	SkipReasons map[string]int
	GeoUnknown  int // Records with at least one Unknown location field
	GeoErrors   int // Records whose lookup failed
	Groups      map[Dimension]map[string]int
	Rate        Stats
	Elapsed     time.Duration
}

// Snapshot copies the current counts.
func (t *Tally) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		Files:       t.files,
		FilesDone:   t.filesDone,
		Lines:       t.lines,
		Records:     t.records,
		SkipReasons: make(map[string]int, len(t.skipped)),
		GeoUnknown:  t.geoUnk,
		GeoErrors:   t.geoErr,
		Groups:      make(map[Dimension]map[string]int, len(t.dims)),
		Rate:        t.rate.Stats(),
		Elapsed:     time.Since(t.start),
	}
	for reason, n := range t.skipped {
		s.SkipReasons[reason] = n
		s.Skipped += n
	}
	for d, m := range t.dims {
		cp := make(map[string]int, len(m))
		for k, v := range m {
			cp[k] = v
		}
		s.Groups[d] = cp
	}
	return s
}

// Count is one group of a dimension.
type Count struct {
	Key string
	N   int
}

// TopN returns the n largest groups of m, largest first; ties sort by key.
// n <= 0 returns every group.
func TopN(m map[string]int, n int) []Count {
	counts := make([]Count, 0, len(m))
	for k, v := range m {
		counts = append(counts, Count{Key: k, N: v})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].N != counts[j].N {
			return counts[i].N > counts[j].N
		}
		return counts[i].Key < counts[j].Key
	})
	if n > 0 && len(counts) > n {
		counts = counts[:n]
	}
	return counts
}
