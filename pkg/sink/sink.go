// Package sink receives the records of a run.
package sink

import (
	"errors"

	"github.com/papaganelli/ezstats/pkg/record"
)

// Sink consumes records. Write and Close are called from a single goroutine.
type Sink interface {
	Write(rec record.Record) error
	Close() error
}

// Multi fans every record out to all sinks.
type Multi []Sink

// Write stops at the first failing sink.
func (m Multi) Write(rec record.Record) error {
	for _, s := range m {
		if err := s.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
