// Package storage persists recording sessions to disk.
//
// Two formats are supported, selected by configuration:
//
//   - "bin": one raw payload stream per sensor channel plus a binary
//     timestamp sidecar indexing every sample (channel, device timestamp,
//     offset, length).
//   - "container": a single self-describing chunked container with named
//     per-channel datasets and an embedded timestamp index, for toolchains
//     that expect one file per session.
//
// Writers buffer nothing themselves; the recorder batches upstream and hands
// whole batches to Append. Filenames derive from the session start time.
package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Bin1119/EVA-CAM/alpcam"
)

// Writer is the sink for one recording session.
type Writer interface {
	// Append persists a batch of samples in order.
	Append(batch []alpcam.Sample) error
	// Written reports how many samples have been persisted so far.
	Written() int
	// Close finalizes the output and returns the total number of samples
	// persisted. Close is idempotent.
	Close() (int, error)
}

// Format identifies a persisted output layout.
type Format string

const (
	FormatBin       Format = "bin"
	FormatContainer Format = "container"
)

// New creates a writer of the given format rooted at dir. The base filename
// carries the session start time, matching session directory conventions.
func New(format Format, dir string, start time.Time) (Writer, error) {
	base := filepath.Join(dir, "session_"+Stamp(start))
	switch format {
	case FormatBin:
		return NewBinWriter(base)
	case FormatContainer:
		return NewContainerWriter(base + ".evd")
	default:
		return nil, fmt.Errorf("storage: unknown format %q", format)
	}
}

// Stamp formats t the way session artifacts are named: date, time, and
// milliseconds, filesystem safe.
func Stamp(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format("20060102_150405"), t.Nanosecond()/1e6)
}
