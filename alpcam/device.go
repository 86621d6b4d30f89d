// Package alpcam is the transport boundary to the event/frame camera.
//
// The vendor acquisition box streams hybrid sensor data over a single framed
// connection: APS (frame) and EVS (event) samples interleaved, each stamped
// by the device clock. This package speaks that framing and exposes the
// device to the controller as a command surface (open, start, stop) plus a
// per-acquisition sample channel. It performs no image processing; payloads
// are carried opaquely to the recorder.
package alpcam

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"
)

// Channel identifies which sensor produced a sample.
type Channel uint8

const (
	// ChannelAPS is the active-pixel frame sensor.
	ChannelAPS Channel = 1
	// ChannelEVS is the event sensor.
	ChannelEVS Channel = 2
)

// String returns the dataset name used for the channel in persisted output.
func (c Channel) String() string {
	switch c {
	case ChannelAPS:
		return "aps"
	case ChannelEVS:
		return "evs"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Sample is one unit of acquired sensor data. Width and Height are set only
// for APS frames; EVS payloads are packed event words.
type Sample struct {
	Channel   Channel
	Timestamp int64 // device clock, microseconds
	Width     uint16
	Height    uint16
	Payload   []byte
}

// Frame types on the wire.
const (
	frameMagic uint16 = 0xA1CE

	ftCommand uint8 = 1
	ftAck     uint8 = 2
	ftSample  uint8 = 3
)

// Command opcodes.
const (
	opOpen  uint8 = 0x01
	opStart uint8 = 0x02
	opStop  uint8 = 0x03
	opTune  uint8 = 0x04
)

// ack status codes returned by the device.
const ackOK uint8 = 0

const maxPayload = 16 << 20 // refuse absurd frame sizes from a confused peer

// Device is a framed-stream client for the acquisition box. It is safe for
// use by a single recorder context; command methods must not be called
// concurrently with each other.
type Device struct {
	conn net.Conn

	mu        sync.Mutex
	acquiring bool
	samples   chan Sample
	acks      chan ackFrame
	readErr   error
	closed    bool
}

type ackFrame struct {
	op     uint8
	status uint8
	count  uint32
}

// Dial connects to the acquisition box at addr within timeout.
func Dial(addr string, timeout time.Duration) (*Device, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial camera %s: %w", addr, err)
	}
	return NewDevice(conn), nil
}

// NewDevice wraps an established connection. The read loop starts
// immediately; callers proceed with Open.
func NewDevice(conn net.Conn) *Device {
	d := &Device{
		conn: conn,
		acks: make(chan ackFrame, 4),
	}
	go d.readLoop()
	return d
}

// Open configures the device mode and submodes. Must complete before
// StartAcquisition.
func (d *Device) Open(mode, apsSubmode, evsSubmode string) error {
	payload := make([]byte, 0, len(mode)+len(apsSubmode)+len(evsSubmode)+3)
	for _, s := range []string{mode, apsSubmode, evsSubmode} {
		payload = append(payload, s...)
		payload = append(payload, 0)
	}
	if err := d.sendCommand(opOpen, payload); err != nil {
		return err
	}
	_, err := d.awaitAck(opOpen)
	return err
}

// Tune sets the APS exposure and frame rate. Valid between Open and
// StartAcquisition; the device rejects tuning while streaming.
func (d *Device) Tune(exposure time.Duration, fps float64) error {
	payload := make([]byte, 0, 8)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(exposure.Microseconds()))
	payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(float32(fps)))
	if err := d.sendCommand(opTune, payload); err != nil {
		return err
	}
	_, err := d.awaitAck(opTune)
	return err
}

// StartAcquisition begins streaming. A fresh sample channel is created for
// the acquisition interval; retrieve it with Samples after this returns.
func (d *Device) StartAcquisition() error {
	d.mu.Lock()
	if d.acquiring {
		d.mu.Unlock()
		return fmt.Errorf("camera: acquisition already active")
	}
	d.samples = make(chan Sample, 256)
	d.acquiring = true
	d.mu.Unlock()

	if err := d.sendCommand(opStart, nil); err != nil {
		d.abandonAcquisition()
		return err
	}
	if _, err := d.awaitAck(opStart); err != nil {
		d.abandonAcquisition()
		return err
	}
	return nil
}

// abandonAcquisition unwires a failed start without closing the channel; no
// consumer is attached yet and only the read loop may close it.
func (d *Device) abandonAcquisition() {
	d.mu.Lock()
	d.acquiring = false
	d.mu.Unlock()
}

// Samples returns the channel for the current acquisition interval. The
// channel is closed when acquisition stops or the connection drops.
func (d *Device) Samples() <-chan Sample {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.samples
}

// StopAcquisition halts streaming and returns the device-side sample count
// for the interval. The stream delivers in order, so every sample of the
// interval precedes the stop ack; the read loop closes the sample channel
// when it sees that ack.
func (d *Device) StopAcquisition() (int, error) {
	if err := d.sendCommand(opStop, nil); err != nil {
		return 0, err
	}
	ack, err := d.awaitAck(opStop)
	if err != nil {
		return 0, err
	}
	return int(ack.count), nil
}

// Close tears down the connection. The read loop notices and closes any
// active acquisition channel on its way out.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	return d.conn.Close()
}

// closeSamples is called only from the read loop, so it never races a
// pending deliver.
func (d *Device) closeSamples() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquiring {
		close(d.samples)
		d.acquiring = false
	}
}

func (d *Device) sendCommand(op uint8, payload []byte) error {
	buf := make([]byte, 0, 8+len(payload))
	buf = binary.LittleEndian.AppendUint16(buf, frameMagic)
	buf = append(buf, ftCommand, op)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	if _, err := d.conn.Write(buf); err != nil {
		return fmt.Errorf("camera: send command 0x%02x: %w", op, err)
	}
	return nil
}

func (d *Device) awaitAck(op uint8) (ackFrame, error) {
	select {
	case ack, ok := <-d.acks:
		if !ok {
			return ackFrame{}, d.connectionError()
		}
		if ack.op != op {
			return ackFrame{}, fmt.Errorf("camera: ack for 0x%02x while waiting for 0x%02x", ack.op, op)
		}
		if ack.status != ackOK {
			return ackFrame{}, fmt.Errorf("camera: command 0x%02x rejected with status %d", op, ack.status)
		}
		return ack, nil
	case <-time.After(5 * time.Second):
		return ackFrame{}, fmt.Errorf("camera: timeout waiting for ack 0x%02x", op)
	}
}

func (d *Device) connectionError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return fmt.Errorf("camera: connection lost: %w", d.readErr)
	}
	return fmt.Errorf("camera: connection closed")
}

// readLoop demultiplexes acks and samples until the connection fails.
func (d *Device) readLoop() {
	defer func() {
		d.closeSamples()
		close(d.acks)
	}()

	hdr := make([]byte, 8)
	for {
		if _, err := io.ReadFull(d.conn, hdr); err != nil {
			d.setReadErr(err)
			return
		}
		if binary.LittleEndian.Uint16(hdr[0:2]) != frameMagic {
			d.setReadErr(fmt.Errorf("bad frame magic %#04x", binary.LittleEndian.Uint16(hdr[0:2])))
			return
		}
		ftype := hdr[2]
		n := binary.LittleEndian.Uint32(hdr[4:8])
		if n > maxPayload {
			d.setReadErr(fmt.Errorf("frame payload %d exceeds limit", n))
			return
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(d.conn, body); err != nil {
			d.setReadErr(err)
			return
		}

		switch ftype {
		case ftAck:
			if len(body) < 5 {
				d.setReadErr(fmt.Errorf("short ack frame: %d bytes", len(body)))
				return
			}
			if hdr[3] == opStop {
				d.closeSamples()
			}
			d.acks <- ackFrame{
				op:     hdr[3],
				status: body[0],
				count:  binary.LittleEndian.Uint32(body[1:5]),
			}
		case ftSample:
			s, err := decodeSample(hdr[3], body)
			if err != nil {
				d.setReadErr(err)
				return
			}
			d.deliver(s)
		default:
			// Unknown frame types from newer firmware are skipped.
		}
	}
}

func (d *Device) setReadErr(err error) {
	d.mu.Lock()
	if d.readErr == nil {
		d.readErr = err
	}
	d.mu.Unlock()
}

// deliver pushes a sample to the current acquisition channel. Samples that
// arrive outside an acquisition interval are dropped.
func (d *Device) deliver(s Sample) {
	d.mu.Lock()
	ch := d.samples
	active := d.acquiring
	d.mu.Unlock()
	if !active {
		return
	}
	ch <- s
}

// decodeSample parses the body of a sample frame. The channel rides in the
// header's op slot; the body is timestamp, dimensions, then payload.
func decodeSample(channel uint8, body []byte) (Sample, error) {
	if len(body) < 12 {
		return Sample{}, fmt.Errorf("short sample frame: %d bytes", len(body))
	}
	return Sample{
		Channel:   Channel(channel),
		Timestamp: int64(binary.LittleEndian.Uint64(body[0:8])),
		Width:     binary.LittleEndian.Uint16(body[8:10]),
		Height:    binary.LittleEndian.Uint16(body[10:12]),
		Payload:   body[12:],
	}, nil
}

// EncodeSampleFrame builds the wire form of a sample frame. The device never
// sends samples, but simulators and tests that stand in for the acquisition
// box do.
func EncodeSampleFrame(s Sample) []byte {
	buf := make([]byte, 0, 20+len(s.Payload))
	buf = binary.LittleEndian.AppendUint16(buf, frameMagic)
	buf = append(buf, ftSample, uint8(s.Channel))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(12+len(s.Payload)))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.Timestamp))
	buf = binary.LittleEndian.AppendUint16(buf, s.Width)
	buf = binary.LittleEndian.AppendUint16(buf, s.Height)
	buf = append(buf, s.Payload...)
	return buf
}

// EncodeAckFrame builds the wire form of an ack frame, for simulators.
func EncodeAckFrame(op, status uint8, count uint32) []byte {
	buf := make([]byte, 0, 13)
	buf = binary.LittleEndian.AppendUint16(buf, frameMagic)
	buf = append(buf, ftAck, op)
	buf = binary.LittleEndian.AppendUint32(buf, 5)
	buf = append(buf, status)
	buf = binary.LittleEndian.AppendUint32(buf, count)
	return buf
}
