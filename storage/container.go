package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/Bin1119/EVA-CAM/alpcam"
)

// Container layout ("EVD1"), little endian:
//
//	header:  magic "EVD1"
//	body:    chunks, one per sample:
//	           channel   uint8
//	           _pad      [3]byte
//	           timestamp int64
//	           width     uint16
//	           height    uint16
//	           length    uint32
//	           payload   [length]byte
//	footer:  sample count uint32, body length uint64, magic "EVD1"
//
// The footer makes truncation detectable: a reader seeks to the end, checks
// the closing magic, and walks the body with the recorded length. Named
// per-channel datasets are recovered by filtering chunks on the channel tag,
// and the timestamp index is the sequence of chunk timestamps.
var containerMagic = [4]byte{'E', 'V', 'D', '1'}

const chunkHeaderSize = 20

// ContainerWriter persists a session as a single structured container file.
type ContainerWriter struct {
	f        *os.File
	w        *bufio.Writer
	bodyLen  uint64
	written  int
	closed   bool
	perChan  map[alpcam.Channel]int
}

// NewContainerWriter creates the container at path and writes its header.
func NewContainerWriter(path string) (*ContainerWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("storage: create container: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(containerMagic[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: write container header: %w", err)
	}
	return &ContainerWriter{f: f, w: w, perChan: make(map[alpcam.Channel]int)}, nil
}

// Append persists a batch of samples in order.
func (c *ContainerWriter) Append(batch []alpcam.Sample) error {
	if c.closed {
		return fmt.Errorf("storage: append after close")
	}
	hdr := make([]byte, chunkHeaderSize)
	for _, s := range batch {
		hdr[0] = uint8(s.Channel)
		hdr[1], hdr[2], hdr[3] = 0, 0, 0
		binary.LittleEndian.PutUint64(hdr[4:12], uint64(s.Timestamp))
		binary.LittleEndian.PutUint16(hdr[12:14], s.Width)
		binary.LittleEndian.PutUint16(hdr[14:16], s.Height)
		binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(s.Payload)))
		if _, err := c.w.Write(hdr); err != nil {
			return fmt.Errorf("storage: write chunk header: %w", err)
		}
		if _, err := c.w.Write(s.Payload); err != nil {
			return fmt.Errorf("storage: write chunk payload: %w", err)
		}
		c.bodyLen += chunkHeaderSize + uint64(len(s.Payload))
		c.written++
		c.perChan[s.Channel]++
	}
	return nil
}

// Written reports how many samples have been persisted so far.
func (c *ContainerWriter) Written() int {
	return c.written
}

// DatasetCounts returns per-channel sample counts persisted so far.
func (c *ContainerWriter) DatasetCounts() map[alpcam.Channel]int {
	out := make(map[alpcam.Channel]int, len(c.perChan))
	for k, v := range c.perChan {
		out[k] = v
	}
	return out
}

// Close writes the footer and closes the file.
func (c *ContainerWriter) Close() (int, error) {
	if c.closed {
		return c.written, nil
	}
	c.closed = true

	footer := make([]byte, 0, 16)
	footer = binary.LittleEndian.AppendUint32(footer, uint32(c.written))
	footer = binary.LittleEndian.AppendUint64(footer, c.bodyLen)
	footer = append(footer, containerMagic[:]...)
	if _, err := c.w.Write(footer); err != nil {
		c.f.Close()
		return c.written, fmt.Errorf("storage: write container footer: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		c.f.Close()
		return c.written, err
	}
	return c.written, c.f.Close()
}

// ReadContainer loads every chunk of a container, verifying header and
// footer. Used by tooling and tests.
func ReadContainer(path string) ([]alpcam.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("storage: container header: %w", err)
	}
	if magic != containerMagic {
		return nil, fmt.Errorf("storage: %s is not an EVD1 container", path)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < 4+16 {
		return nil, fmt.Errorf("storage: container %s truncated", path)
	}
	footer := make([]byte, 16)
	if _, err := f.ReadAt(footer, info.Size()-16); err != nil {
		return nil, fmt.Errorf("storage: container footer: %w", err)
	}
	if [4]byte(footer[12:16]) != containerMagic {
		return nil, fmt.Errorf("storage: container %s missing closing magic", path)
	}
	count := binary.LittleEndian.Uint32(footer[0:4])

	samples := make([]alpcam.Sample, 0, count)
	hdr := make([]byte, chunkHeaderSize)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(f, hdr); err != nil {
			return nil, fmt.Errorf("storage: chunk %d header: %w", i, err)
		}
		payload := make([]byte, binary.LittleEndian.Uint32(hdr[16:20]))
		if _, err := io.ReadFull(f, payload); err != nil {
			return nil, fmt.Errorf("storage: chunk %d payload: %w", i, err)
		}
		samples = append(samples, alpcam.Sample{
			Channel:   alpcam.Channel(hdr[0]),
			Timestamp: int64(binary.LittleEndian.Uint64(hdr[4:12])),
			Width:     binary.LittleEndian.Uint16(hdr[12:14]),
			Height:    binary.LittleEndian.Uint16(hdr[14:16]),
			Payload:   payload,
		})
	}
	return samples, nil
}
