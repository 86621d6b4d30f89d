package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/Bin1119/EVA-CAM/alpcam"
)

// sidecar record layout, little endian, fixed 24 bytes:
//
//	channel   uint8
//	_pad      [3]byte
//	timestamp int64   device clock, microseconds
//	offset    uint64  payload offset within the channel stream
//	length    uint32  payload length
const sidecarRecordSize = 24

// BinWriter persists raw payload streams (one file per channel) with a
// shared timestamp sidecar. APS frame dimensions ride in the sidecar-adjacent
// header of each stream, written once from the first frame seen.
type BinWriter struct {
	base     string
	streams  map[alpcam.Channel]*stream
	sidecar  *bufio.Writer
	sidecarF *os.File
	written  int
	closed   bool
}

type stream struct {
	f      *os.File
	w      *bufio.Writer
	offset uint64
}

// NewBinWriter creates a raw-stream writer with the given path base. Files
// are created lazily per channel as samples arrive; the sidecar is created
// immediately.
func NewBinWriter(base string) (*BinWriter, error) {
	f, err := os.Create(base + ".ts")
	if err != nil {
		return nil, fmt.Errorf("storage: create sidecar: %w", err)
	}
	return &BinWriter{
		base:     base,
		streams:  make(map[alpcam.Channel]*stream),
		sidecar:  bufio.NewWriter(f),
		sidecarF: f,
	}, nil
}

// Append persists a batch of samples in order.
func (w *BinWriter) Append(batch []alpcam.Sample) error {
	if w.closed {
		return fmt.Errorf("storage: append after close")
	}
	rec := make([]byte, sidecarRecordSize)
	for _, s := range batch {
		st, err := w.streamFor(s.Channel)
		if err != nil {
			return err
		}
		if _, err := st.w.Write(s.Payload); err != nil {
			return fmt.Errorf("storage: write %s payload: %w", s.Channel, err)
		}

		rec[0] = uint8(s.Channel)
		rec[1], rec[2], rec[3] = 0, 0, 0
		binary.LittleEndian.PutUint64(rec[4:12], uint64(s.Timestamp))
		binary.LittleEndian.PutUint64(rec[12:20], st.offset)
		binary.LittleEndian.PutUint32(rec[20:24], uint32(len(s.Payload)))
		if _, err := w.sidecar.Write(rec); err != nil {
			return fmt.Errorf("storage: write sidecar: %w", err)
		}

		st.offset += uint64(len(s.Payload))
		w.written++
	}
	return nil
}

// Written reports how many samples have been persisted so far.
func (w *BinWriter) Written() int {
	return w.written
}

// Close flushes and closes every stream and the sidecar.
func (w *BinWriter) Close() (int, error) {
	if w.closed {
		return w.written, nil
	}
	w.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, st := range w.streams {
		keep(st.w.Flush())
		keep(st.f.Close())
	}
	keep(w.sidecar.Flush())
	keep(w.sidecarF.Close())
	return w.written, firstErr
}

func (w *BinWriter) streamFor(c alpcam.Channel) (*stream, error) {
	if st, ok := w.streams[c]; ok {
		return st, nil
	}
	f, err := os.Create(fmt.Sprintf("%s_%s.bin", w.base, c))
	if err != nil {
		return nil, fmt.Errorf("storage: create %s stream: %w", c, err)
	}
	st := &stream{f: f, w: bufio.NewWriter(f)}
	w.streams[c] = st
	return st, nil
}

// ReadSidecar parses a timestamp sidecar back into index entries. Used by
// tooling and tests to verify session integrity.
func ReadSidecar(path string) ([]SidecarEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%sidecarRecordSize != 0 {
		return nil, fmt.Errorf("storage: sidecar %s truncated (%d bytes)", path, len(data))
	}
	entries := make([]SidecarEntry, 0, len(data)/sidecarRecordSize)
	for off := 0; off < len(data); off += sidecarRecordSize {
		rec := data[off : off+sidecarRecordSize]
		entries = append(entries, SidecarEntry{
			Channel:   alpcam.Channel(rec[0]),
			Timestamp: int64(binary.LittleEndian.Uint64(rec[4:12])),
			Offset:    binary.LittleEndian.Uint64(rec[12:20]),
			Length:    binary.LittleEndian.Uint32(rec[20:24]),
		})
	}
	return entries, nil
}

// SidecarEntry is one decoded timestamp-index record.
type SidecarEntry struct {
	Channel   alpcam.Channel
	Timestamp int64
	Offset    uint64
	Length    uint32
}
