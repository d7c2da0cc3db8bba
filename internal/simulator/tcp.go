package simulator

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/traffic.control/internal/monitoring"
	"github.com/banshee-data/traffic.control/internal/units"
)

// MaxMessageSize bounds one length-prefixed message.
const MaxMessageSize = 16 * 1024 * 1024

// DefaultFetchTimeout bounds one request/response round trip.
const DefaultFetchTimeout = 5 * time.Second

// StateRequest asks the simulator for the state of the current tick.
type StateRequest struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
}

// StateResponse is the simulator's answer. Speeds are in SpeedUnit, km/h
// when empty.
type StateResponse struct {
	Seq       uint64 `json:"seq"`
	SpeedUnit string `json:"speed_unit,omitempty"`
	Error     string `json:"error,omitempty"`
	Frame
}

// WriteMessage frames v as a 4-byte big-endian length followed by its JSON
// encoding.
func WriteMessage(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit of %d", len(data), MaxMessageSize)
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message into v.
func ReadMessage(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("failed to read message length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit of %d", n, MaxMessageSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// TCPOption configures a TCPClient.
type TCPOption func(*TCPClient)

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) TCPOption {
	return func(c *TCPClient) { c.timeout = d }
}

// WithSpeedUnit sets the unit assumed when a response omits speed_unit.
func WithSpeedUnit(unit string) TCPOption {
	return func(c *TCPClient) { c.unit = unit }
}

// WithDialer replaces net.Dialer, mainly for tests.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) TCPOption {
	return func(c *TCPClient) { c.dial = dial }
}

// TCPClient fetches State from a simulator speaking the length-prefixed
// JSON protocol. The connection is opened lazily and re-dialled after any
// transport error.
type TCPClient struct {
	addr    string
	timeout time.Duration
	unit    string
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
	seq  uint64
}

// NewTCPClient returns a client for the simulator at addr.
func NewTCPClient(addr string, opts ...TCPOption) *TCPClient {
	var d net.Dialer
	c := &TCPClient{addr: addr, timeout: DefaultFetchTimeout, dial: d.DialContext}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch implements Source.
func (c *TCPClient) Fetch(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := c.dial(ctx, "tcp", c.addr)
		if err != nil {
			return nil, fmt.Errorf("dial simulator %s: %w", c.addr, err)
		}
		c.conn = conn
		monitoring.Logf("simulator: connected to %s", c.addr)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.resetLocked()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	c.seq++
	if err := WriteMessage(c.conn, StateRequest{Type: "state", Seq: c.seq}); err != nil {
		c.resetLocked()
		return nil, err
	}
	var resp StateResponse
	if err := ReadMessage(c.conn, &resp); err != nil {
		c.resetLocked()
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("simulator error: %s", resp.Error)
	}
	if resp.Seq != c.seq {
		c.resetLocked()
		return nil, fmt.Errorf("simulator answered seq %d, expected %d", resp.Seq, c.seq)
	}
	if resp.SpeedUnit == "" {
		resp.SpeedUnit = c.unit
	}
	if resp.SpeedUnit != "" && !units.IsValid(resp.SpeedUnit) {
		return nil, fmt.Errorf("simulator reported invalid speed unit %q", resp.SpeedUnit)
	}
	if err := resp.Frame.Normalize(resp.SpeedUnit); err != nil {
		return nil, err
	}
	return resp.Frame, nil
}

func (c *TCPClient) resetLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close drops the connection. A later Fetch dials again.
func (c *TCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
