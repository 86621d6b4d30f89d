// Package xarm is the command transport to the manipulator controller.
//
// The controller speaks a synchronous register protocol: each request is a
// small framed message naming a register and carrying float32 parameters,
// answered by a frame echoing the transaction id with a status byte. The
// same framing runs over TCP (the controller's native link) or an RS-485
// serial line, selected at dial time.
//
// The client is deliberately thin: it moves, stops, and reports state. No
// retries, no reconnects; a broken link surfaces as an error and recovery
// policy belongs to the caller.
package xarm

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Registers understood by the controller.
const (
	regMotionEnable  uint8 = 11
	regSetState      uint8 = 12
	regGetState      uint8 = 13
	regMoveLine      uint8 = 21
	regMoveJoint     uint8 = 23
	regCollisionSens uint8 = 33
	regGetPosition   uint8 = 41
)

// Controller states reported by regGetState.
const (
	StateInMotion uint8 = 1
	StateSleeping uint8 = 2
	StatePaused   uint8 = 3
	StateStopped  uint8 = 4
)

// stop is requested by writing the stopped state.
const stateStopRequest uint8 = 4

const headerSize = 7 // txn u16, proto u16, length u16, register u8

const protocolID uint16 = 0x0002

// Client is a synchronous register-protocol client. All methods are safe for
// concurrent use; requests are serialized on the link.
type Client struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser
	txn  uint16

	// deadline support is optional; serial links rely on their read timeout
	deadliner interface {
		SetDeadline(time.Time) error
	}
}

// Dial connects to the controller over TCP.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial arm %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// DialSerial connects to the controller over an RS-485 serial line.
func DialSerial(device string, baud int, readTimeout time.Duration) (*Client, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open arm serial %s: %w", device, err)
	}
	return NewClient(port), nil
}

// NewClient wraps an established link.
func NewClient(conn io.ReadWriteCloser) *Client {
	c := &Client{conn: conn}
	if d, ok := conn.(interface{ SetDeadline(time.Time) error }); ok {
		c.deadliner = d
	}
	return c
}

// MotionEnable arms or disarms the servos.
func (c *Client) MotionEnable(ctx context.Context, enable bool) error {
	v := byte(0)
	if enable {
		v = 1
	}
	_, err := c.exchange(ctx, regMotionEnable, []byte{v})
	return err
}

// SetCollisionSensitivity configures the controller-side collision guard
// (0 disables, higher is more sensitive).
func (c *Client) SetCollisionSensitivity(ctx context.Context, level int) error {
	_, err := c.exchange(ctx, regCollisionSens, []byte{byte(level)})
	return err
}

// MoveCartesian commands an absolute pose (x, y, z in mm; roll, pitch, yaw
// in degrees) at the given speed. With wait set, the call returns after the
// controller acknowledges completion rather than acceptance.
func (c *Client) MoveCartesian(ctx context.Context, pose [6]float64, speed float64, wait bool) error {
	payload := make([]byte, 0, 6*4+4+1)
	for _, v := range pose {
		payload = appendFloat32(payload, v)
	}
	payload = appendFloat32(payload, speed)
	payload = append(payload, boolByte(wait))
	_, err := c.exchange(ctx, regMoveLine, payload)
	return err
}

// MoveJoints commands absolute joint angles in degrees.
func (c *Client) MoveJoints(ctx context.Context, angles [7]float64, speed float64, wait bool) error {
	payload := make([]byte, 0, 7*4+4+1)
	for _, v := range angles {
		payload = appendFloat32(payload, v)
	}
	payload = appendFloat32(payload, speed)
	payload = append(payload, boolByte(wait))
	_, err := c.exchange(ctx, regMoveJoint, payload)
	return err
}

// Stop requests an immediate halt (zero velocity). The controller
// acknowledges once motion has ceased, so callers bound it with ctx.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.exchange(ctx, regSetState, []byte{stateStopRequest})
	return err
}

// Moving reports whether the controller is currently executing motion.
func (c *Client) Moving(ctx context.Context) (bool, error) {
	resp, err := c.exchange(ctx, regGetState, nil)
	if err != nil {
		return false, err
	}
	if len(resp) < 1 {
		return false, fmt.Errorf("arm: empty state response")
	}
	return resp[0] == StateInMotion, nil
}

// Position reads the current Cartesian pose (x, y, z in mm; roll, pitch,
// yaw in degrees).
func (c *Client) Position(ctx context.Context) ([6]float64, error) {
	var pose [6]float64
	resp, err := c.exchange(ctx, regGetPosition, nil)
	if err != nil {
		return pose, err
	}
	if len(resp) < 6*4 {
		return pose, fmt.Errorf("arm: short position response (%d bytes)", len(resp))
	}
	for i := range pose {
		bits := binary.LittleEndian.Uint32(resp[i*4:])
		pose[i] = float64(math.Float32frombits(bits))
	}
	return pose, nil
}

// Close tears down the link.
func (c *Client) Close() error {
	return c.conn.Close()
}

// exchange performs one serialized request/response cycle. The response
// status byte is checked; remaining bytes are returned to the caller.
func (c *Client) exchange(ctx context.Context, register uint8, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.deadliner != nil {
		dl, ok := ctx.Deadline()
		if !ok {
			dl = time.Time{}
		}
		if err := c.deadliner.SetDeadline(dl); err != nil {
			return nil, fmt.Errorf("arm: set deadline: %w", err)
		}
	}

	c.txn++
	txn := c.txn

	frame := make([]byte, 0, headerSize+len(payload))
	frame = binary.LittleEndian.AppendUint16(frame, txn)
	frame = binary.LittleEndian.AppendUint16(frame, protocolID)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(1+len(payload)))
	frame = append(frame, register)
	frame = append(frame, payload...)
	if _, err := c.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("arm: write register %d: %w", register, err)
	}

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(c.conn, hdr); err != nil {
		return nil, fmt.Errorf("arm: read response header: %w", err)
	}
	gotTxn := binary.LittleEndian.Uint16(hdr[0:2])
	if gotTxn != txn {
		return nil, fmt.Errorf("arm: transaction mismatch: sent %d, got %d", txn, gotTxn)
	}
	if hdr[6] != register {
		return nil, fmt.Errorf("arm: register mismatch: sent %d, got %d", register, hdr[6])
	}
	n := binary.LittleEndian.Uint16(hdr[4:6])
	if n < 2 {
		return nil, fmt.Errorf("arm: short response for register %d", register)
	}
	body := make([]byte, n-1)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, fmt.Errorf("arm: read response body: %w", err)
	}
	if status := body[0]; status != 0 {
		return nil, fmt.Errorf("arm: register %d failed with status %d", register, status)
	}
	return body[1:], nil
}

func appendFloat32(b []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v)))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
