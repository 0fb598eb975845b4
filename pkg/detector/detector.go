// Package detector finds the access log files of a batch run.
package detector

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LogFile represents a log file selected for processing.
type LogFile struct {
	Path string
	Size int64
}

// compressedExts lists rotated archives that cannot be read as plain text.
var compressedExts = []string{".gz", ".bz2", ".xz", ".zip", ".zst"}

// DiscoverLogFiles returns the plain files directly inside dir, sorted by path.
// Subdirectories, hidden files and compressed archives are skipped.
// An error is returned only when dir itself cannot be read.
func DiscoverLogFiles(dir string) ([]LogFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading log directory %s: %w", dir, err)
	}

	var logs []LogFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if isCompressed(name) {
			log.Printf("WARN: skipping compressed log %s", filepath.Join(dir, name))
			continue
		}

		path := filepath.Join(dir, name)
		// Stat follows symlinks, so a link to a directory is caught here.
		info, err := os.Stat(path)
		if err != nil {
			log.Printf("WARN: cannot stat %s: %v", path, err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		logs = append(logs, LogFile{Path: path, Size: info.Size()})
	}

	sort.Slice(logs, func(i, j int) bool {
		return logs[i].Path < logs[j].Path
	})
	return logs, nil
}

// TotalSize sums the sizes of logs.
func TotalSize(logs []LogFile) int64 {
	var total int64
	for _, l := range logs {
		total += l.Size
	}
	return total
}

func isCompressed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, c := range compressedExts {
		if ext == c {
			return true
		}
	}
	return false
}
