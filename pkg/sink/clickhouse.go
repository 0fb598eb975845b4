package sink

import (
	"database/sql"
	"fmt"
	"log"
	"regexp"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/papaganelli/ezstats/pkg/record"
)

// DefaultClickHouseTable receives records when no table is configured.
const DefaultClickHouseTable = "ezproxy_requests"

var tableNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ClickHouseOptions configures the ClickHouse sink.
type ClickHouseOptions struct {
	Addr      string // host:port of the native protocol
	Database  string
	Table     string
	BatchSize int
}

// ClickHouse buffers records and inserts them in batches, tagging every row with
// the run id. It is not safe for concurrent use.
type ClickHouse struct {
	db        *sql.DB
	table     string
	runID     string
	batchSize int
	buf       []record.Record
}

// OpenClickHouse connects, creates the table if needed and returns the sink.
func OpenClickHouse(opts ClickHouseOptions, runID string) (*ClickHouse, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("clickhouse: no address configured")
	}
	table := opts.Table
	if table == "" {
		table = DefaultClickHouseTable
	}
	if !tableNameRegex.MatchString(table) {
		return nil, fmt.Errorf("clickhouse: invalid table name %q", table)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	db, err := sql.Open("clickhouse", dataSource(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to clickhouse: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %v", err)
	}
	if _, err := db.Exec(createTableQuery(table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table %s: %v", table, err)
	}
	log.Printf("INFO: writing records to clickhouse %s, table %s", opts.Addr, table)

	return &ClickHouse{
		db:        db,
		table:     table,
		runID:     runID,
		batchSize: batchSize,
		buf:       make([]record.Record, 0, batchSize),
	}, nil
}

func (c *ClickHouse) Write(rec record.Record) error {
	c.buf = append(c.buf, rec)
	if len(c.buf) >= c.batchSize {
		return c.flush()
	}
	return nil
}

// Close inserts the remaining rows and closes the connection.
func (c *ClickHouse) Close() error {
	flushErr := c.flush()
	if err := c.db.Close(); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}

// flush inserts the buffered rows in one transaction.
func (c *ClickHouse) flush() error {
	if len(c.buf) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %v", err)
	}
	stmt, err := tx.Prepare(insertQuery(c.table))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %v", err)
	}
	defer stmt.Close()

	for _, rec := range c.buf {
		if _, err := stmt.Exec(rowArgs(c.runID, rec)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute statement (insert): %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction (batch insert): %v", err)
	}

	log.Printf("INFO: inserted %d records into %s", len(c.buf), c.table)
	c.buf = c.buf[:0]
	return nil
}

func dataSource(opts ClickHouseOptions) string {
	db := opts.Database
	if db == "" {
		db = "default"
	}
	return fmt.Sprintf("clickhouse://%s/%s", opts.Addr, db)
}

func createTableQuery(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id          String,
			day             LowCardinality(String),
			weekday         LowCardinality(String),
			hour            LowCardinality(String),
			country         LowCardinality(String),
			state           String,
			city            String,
			location        LowCardinality(String),
			status          LowCardinality(String),
			requested_url   String,
			referring_url   String,
			resource        LowCardinality(String)
		) ENGINE = MergeTree() ORDER BY (run_id, day, hour)
	`, table)
}

func insertQuery(table string) string {
	return fmt.Sprintf("INSERT INTO %s (run_id, day, weekday, hour, country, state, city, location, status, requested_url, referring_url, resource) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", table)
}

func rowArgs(runID string, rec record.Record) []any {
	return []any{
		runID,
		rec.Date,
		rec.Weekday,
		rec.Hour,
		rec.Country,
		rec.State,
		rec.City,
		rec.Location.String(),
		rec.Status,
		rec.RequestedURL,
		rec.ReferringURL,
		rec.Resource,
	}
}
