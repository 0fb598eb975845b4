// Package tailer streams the lines of a log file.
package tailer

import (
	"strings"

	"github.com/hpcloud/tail"
)

// Line is one line of a log file, or the read error that ended the file.
type Line struct {
	File string
	Num  int // 1-based
	Text string
	Err  error
}

// ReadLines sends every line of path to the returned channel once, then closes it.
// Caller should close the done channel to stop early.
func ReadLines(path string, done <-chan struct{}) (<-chan Line, error) {
	config := tail.Config{
		Follow:    false,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	}
	t, err := tail.TailFile(path, config)
	if err != nil {
		return nil, err
	}

	out := make(chan Line)
	go func() {
		defer close(out)
		defer t.Cleanup()

		num := 0
		for {
			select {
			case <-done:
				stop(t)
				return
			case l, ok := <-t.Lines:
				if !ok {
					if err := t.Wait(); err != nil {
						select {
						case out <- Line{File: path, Num: num + 1, Err: err}:
						case <-done:
						}
					}
					return
				}
				num++
				line := Line{File: path, Num: num, Text: strings.TrimRight(l.Text, "\r"), Err: l.Err}
				select {
				case out <- line:
				case <-done:
					stop(t)
					return
				}
			}
		}
	}()
	return out, nil
}

// stop kills the tail goroutine. Lines is unbuffered, so it is drained while
// stopping to keep a pending send from blocking the shutdown.
func stop(t *tail.Tail) {
	go func() {
		for range t.Lines {
		}
	}()
	_ = t.Stop()
}
