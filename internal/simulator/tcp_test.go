package simulator

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/traffic.control/internal/monitoring"
	"github.com/banshee-data/traffic.control/internal/telemetry"
)

func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, StateRequest{Type: "state", Seq: 7}))
	assert.Equal(t, []byte{0, 0, 0, byte(buf.Len() - 4)}, buf.Bytes()[:4])

	var req StateRequest
	require.NoError(t, ReadMessage(&buf, &req))
	assert.Equal(t, StateRequest{Type: "state", Seq: 7}, req)

	// Truncated body.
	require.NoError(t, WriteMessage(&buf, req))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	assert.Error(t, ReadMessage(truncated, &req))

	// Oversized length prefix.
	assert.Error(t, ReadMessage(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}), &req))
}

// pipeSimulator returns a client wired to an in-memory peer that answers
// each request with respond.
func pipeSimulator(t *testing.T, respond func(StateRequest) (StateResponse, bool), opts ...TCPOption) (*TCPClient, *int) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = prev })

	dials := 0
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials++
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			for {
				var req StateRequest
				if err := ReadMessage(server, &req); err != nil {
					return
				}
				resp, ok := respond(req)
				if !ok {
					// Hold the connection open without answering.
					time.Sleep(time.Second)
					return
				}
				if err := WriteMessage(server, resp); err != nil {
					return
				}
			}
		}()
		return client, nil
	}
	c := NewTCPClient("sim:9000", append([]TCPOption{WithDialer(dial)}, opts...)...)
	t.Cleanup(func() { _ = c.Close() })
	return c, &dials
}

func TestTCPClientFetch(t *testing.T) {
	c, dials := pipeSimulator(t, func(req StateRequest) (StateResponse, bool) {
		return StateResponse{
			Seq:       req.Seq,
			SpeedUnit: "mps",
			Frame: Frame{
				Occupancy: map[string]int{"301": int(req.Seq) * 100},
				Snapshots: map[string]telemetry.Snapshot{"3": {QueueLength: 150, AvgSpeed: 5}},
			},
		}, true
	})

	ctx := context.Background()
	for seq := 1; seq <= 3; seq++ {
		st, err := c.Fetch(ctx)
		require.NoError(t, err)
		occ, ok := st.CurrentOccupancy("301")
		require.True(t, ok)
		assert.Equal(t, seq*100, occ)
		s, ok := st.Snapshot("3")
		require.True(t, ok)
		assert.InDelta(t, 18.0, s.AvgSpeed, 1e-9)
	}
	assert.Equal(t, 1, *dials, "connection is reused across fetches")

	require.NoError(t, c.Close())
	_, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, *dials, "fetch after close re-dials")
}

func TestTCPClientDefaultSpeedUnit(t *testing.T) {
	c, _ := pipeSimulator(t, func(req StateRequest) (StateResponse, bool) {
		return StateResponse{
			Seq:   req.Seq,
			Frame: Frame{Snapshots: map[string]telemetry.Snapshot{"3": {AvgSpeed: 5}}},
		}, true
	}, WithSpeedUnit("mps"))

	st, err := c.Fetch(context.Background())
	require.NoError(t, err)
	s, ok := st.Snapshot("3")
	require.True(t, ok)
	assert.InDelta(t, 18.0, s.AvgSpeed, 1e-9)
}

func TestTCPClientErrors(t *testing.T) {
	t.Run("simulator error", func(t *testing.T) {
		c, _ := pipeSimulator(t, func(req StateRequest) (StateResponse, bool) {
			return StateResponse{Seq: req.Seq, Error: "scenario not loaded"}, true
		})
		_, err := c.Fetch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scenario not loaded")
	})

	t.Run("sequence mismatch", func(t *testing.T) {
		c, _ := pipeSimulator(t, func(req StateRequest) (StateResponse, bool) {
			return StateResponse{Seq: req.Seq + 10}, true
		})
		_, err := c.Fetch(context.Background())
		assert.Error(t, err)
	})

	t.Run("invalid unit", func(t *testing.T) {
		c, _ := pipeSimulator(t, func(req StateRequest) (StateResponse, bool) {
			return StateResponse{Seq: req.Seq, SpeedUnit: "knots"}, true
		})
		_, err := c.Fetch(context.Background())
		assert.Error(t, err)
	})

	t.Run("deadline", func(t *testing.T) {
		c, dials := pipeSimulator(t, func(StateRequest) (StateResponse, bool) {
			return StateResponse{}, false
		}, WithFetchTimeout(50*time.Millisecond))
		start := time.Now()
		_, err := c.Fetch(context.Background())
		require.Error(t, err)
		assert.Less(t, time.Since(start), 900*time.Millisecond)

		// The broken connection is dropped and the next fetch dials again.
		_, _ = c.Fetch(context.Background())
		assert.Equal(t, 2, *dials)
	})

	t.Run("cancelled context", func(t *testing.T) {
		c, dials := pipeSimulator(t, func(req StateRequest) (StateResponse, bool) {
			return StateResponse{Seq: req.Seq}, true
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Fetch(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, *dials)
	})
}
