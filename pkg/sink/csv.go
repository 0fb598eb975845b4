package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/papaganelli/ezstats/pkg/record"
)

// CSV writes one header row followed by one row per record.
type CSV struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSV writes the header to w.
func NewCSV(w io.Writer) (*CSV, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(record.Header()); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	c := &CSV{w: cw}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}
	return c, nil
}

// CreateCSV creates (or truncates) the file at path.
func CreateCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	c, err := NewCSV(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *CSV) Write(rec record.Record) error {
	return c.w.Write(rec.Row())
}

// Close flushes buffered rows and closes the underlying writer when it is a Closer.
func (c *CSV) Close() error {
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
		c.closer = nil
	}
	return err
}
