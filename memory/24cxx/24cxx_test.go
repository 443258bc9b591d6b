package eeprom

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/tonerchip"
	"github.com/mklimuk/tonerchip/i2c"
)

// transaction is everything sent between a start and the following stop or
// repeated start.
type transaction struct {
	bytes    []byte
	bits     []bool
	received int
	stopped  bool
}

// recordingBus logs bus activity per transaction. ack decides the answer to
// the n-th SendByte call (counted across the whole test).
type recordingBus struct {
	txs    []*transaction
	sends  int
	starts int
	stops  int
	ack    func(n int, b byte) bool
	data   byte
}

func (r *recordingBus) current() *transaction {
	if len(r.txs) == 0 {
		r.txs = append(r.txs, &transaction{})
	}
	return r.txs[len(r.txs)-1]
}

func (r *recordingBus) Start() bool {
	r.starts++
	r.txs = append(r.txs, &transaction{})
	return true
}

func (r *recordingBus) Stop() {
	r.stops++
	r.current().stopped = true
}

func (r *recordingBus) SendBit(bit bool) {
	tx := r.current()
	tx.bits = append(tx.bits, bit)
}

func (r *recordingBus) SendByte(b byte) bool {
	tx := r.current()
	tx.bytes = append(tx.bytes, b)
	n := r.sends
	r.sends++
	if r.ack == nil {
		return true
	}
	return r.ack(n, b)
}

func (r *recordingBus) RecvByte(masterAck bool) (byte, bool) {
	r.current().received++
	r.data++
	return r.data, true
}

func (r *recordingBus) Release() {}

func (r *recordingBus) Err() error { return nil }

type sleepCounter struct {
	calls int
	total time.Duration
}

func (s *sleepCounter) sleep(d time.Duration) {
	s.calls++
	s.total += d
}

func TestControlByte_AddressRoundTrip(t *testing.T) {
	for offset := uint16(0); offset < MaxOffset; offset++ {
		ctl := ControlByte(FlagWrite, 0, offset)
		got := uint16(ctl&0x0E)<<7 | uint16(AddressByte(offset))
		require.Equal(t, offset, got, "offset %#x", offset)
	}
}

func TestControlByte_Flags(t *testing.T) {
	assert.Equal(t, byte(0x80), ControlByte(FlagWrite, 0, 0))
	assert.Equal(t, byte(0x81), ControlByte(FlagRead, 0, 0))
	assert.Equal(t, byte(0xA0), ControlByte(FlagWrite, 0x20, 0x28))
	assert.Equal(t, byte(0xA3), ControlByte(FlagRead, 0x20, 0x128))
	assert.NotEqual(t, FlagRead, ^FlagWrite)
}

func TestClient_WaitUntilReady(t *testing.T) {
	tests := []struct {
		name      string
		retry     bool
		ackOn     int // probe index acknowledged, -1 for none
		probes    int
		sleeps    int
		expectErr error
	}{
		{"single probe ack", false, 0, 1, 0, nil},
		{"single probe nack", false, -1, 1, 0, tonerchip.ErrNoResponse},
		{"retry first ack", true, 0, 1, 0, nil},
		{"retry third ack", true, 2, 3, 2, nil},
		{"retry exhausted", true, -1, 5, 4, tonerchip.ErrWriteNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &recordingBus{ack: func(n int, b byte) bool { return n == tt.ackOn }}
			s := &sleepCounter{}
			c := New(bus, WithSleep(s.sleep))
			c.SelectChip(0x20)
			err := c.WaitUntilReady(context.Background(), tt.retry)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.probes, bus.starts)
			assert.Equal(t, tt.probes, bus.stops)
			assert.Equal(t, tt.sleeps, s.calls)
			assert.Equal(t, time.Duration(tt.sleeps)*readyProbeDelay, s.total)
			for _, tx := range bus.txs {
				assert.Equal(t, []byte{0xA0}, tx.bytes)
				assert.True(t, tx.stopped)
			}
		})
	}
}

func TestClient_WritePageFraming(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	for nackAt := 0; nackAt <= len(data); nackAt++ {
		t.Run(fmt.Sprintf("nack at %d", nackAt), func(t *testing.T) {
			bus := &recordingBus{ack: func(n int, b byte) bool {
				// 0: control, 1: address, 2.. data, then ready probes
				return nackAt == len(data) || n != 2+nackAt
			}}
			c := New(bus, WithSleep(func(time.Duration) {}))
			c.SelectChip(0x20)
			n, err := c.WritePage(context.Background(), 0x188, data)
			require.NotEmpty(t, bus.txs)
			first := bus.txs[0]
			assert.Equal(t, nackAt, n)
			assert.Equal(t, byte(0xA2), first.bytes[0])
			assert.Equal(t, byte(0x88), first.bytes[1])
			assert.True(t, first.stopped)
			if nackAt < len(data) {
				var pe *tonerchip.PartialTransferError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, nackAt, pe.Transferred)
				assert.Equal(t, len(data), pe.Requested)
				assert.Contains(t, err.Error(), "write at 0x188: transferred")
				// the refused byte is the last one sent
				assert.Equal(t, data[:nackAt+1], first.bytes[2:])
				assert.Equal(t, 1, bus.starts)
				assert.Equal(t, 1, bus.stops)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, data, first.bytes[2:])
			// one framed transfer and one acknowledged ready probe
			require.Len(t, bus.txs, 2)
			assert.Equal(t, []byte{0xA0}, bus.txs[1].bytes)
			assert.Equal(t, 2, bus.starts)
			assert.Equal(t, 2, bus.stops)
		})
	}
}

func TestClient_WritePageAddressNack(t *testing.T) {
	tests := []struct {
		name   string
		nackAt int
	}{
		{"control", 0},
		{"address", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &recordingBus{ack: func(n int, b byte) bool { return n != tt.nackAt }}
			c := New(bus, WithSleep(func(time.Duration) {}))
			n, err := c.WritePage(context.Background(), 0, []byte{1, 2})
			assert.ErrorIs(t, err, tonerchip.ErrNoResponse)
			assert.Zero(t, n)
			assert.Len(t, bus.txs[0].bytes, tt.nackAt+1)
			assert.Equal(t, 1, bus.starts)
			assert.Equal(t, 1, bus.stops)
		})
	}
}

func TestClient_ReadBytesContinueBits(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 16} {
		t.Run(fmt.Sprintf("%d bytes", n), func(t *testing.T) {
			bus := &recordingBus{}
			c := New(bus)
			c.SelectChip(0x24)
			buf := make([]byte, n)
			got, err := c.ReadBytes(context.Background(), 0x1F0, buf)
			require.NoError(t, err)
			assert.Equal(t, n, got)
			require.Len(t, bus.txs, 2)
			// address set, then repeated start into read
			assert.Equal(t, []byte{0xA6, 0xF0}, bus.txs[0].bytes)
			assert.False(t, bus.txs[0].stopped)
			assert.Equal(t, []byte{0xA7}, bus.txs[1].bytes)
			assert.Equal(t, n, bus.txs[1].received)
			expected := n - 1
			if n <= 1 {
				expected = 0
			}
			assert.Len(t, bus.txs[1].bits, expected)
			for _, bit := range bus.txs[1].bits {
				assert.False(t, bit)
			}
			for i := range buf {
				assert.Equal(t, byte(i+1), buf[i])
			}
		})
	}
}

func TestClient_ReadByteReadControlNack(t *testing.T) {
	bus := &recordingBus{ack: func(n int, b byte) bool { return b != 0x81 }}
	c := New(bus)
	_, err := c.ReadByte(context.Background(), 0x10)
	assert.ErrorIs(t, err, tonerchip.ErrNoResponse)
	assert.Equal(t, 1, bus.stops)
	assert.Zero(t, bus.txs[1].received)
}

func TestClient_AddressRange(t *testing.T) {
	bus := &recordingBus{}
	c := New(bus)
	ctx := context.Background()
	_, err := c.ReadByte(ctx, MaxOffset)
	assert.ErrorIs(t, err, tonerchip.ErrAddressRange)
	err = c.WriteByte(ctx, 0xFFFF, 0)
	assert.ErrorIs(t, err, tonerchip.ErrAddressRange)
	_, err = c.ReadBytes(ctx, 1020, make([]byte, 8))
	assert.ErrorIs(t, err, tonerchip.ErrAddressRange)
	_, err = c.WritePage(ctx, 1023, []byte{1, 2})
	assert.ErrorIs(t, err, tonerchip.ErrAddressRange)
	assert.Zero(t, bus.starts)
}

func TestClient_CancelledContext(t *testing.T) {
	bus := &recordingBus{}
	c := New(bus)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ReadBytes(ctx, 0, make([]byte, 4))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.WaitUntilReady(ctx, true), context.Canceled)
	assert.ErrorIs(t, c.Charge(ctx, time.Second), context.Canceled)
	assert.Zero(t, bus.starts)
}

func TestClient_ProbeReadAddress(t *testing.T) {
	bus := &recordingBus{}
	c := New(bus)
	c.SelectChip(0x20)
	b, err := c.ProbeReadAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(1), b)
	assert.Equal(t, []byte{0xA1}, bus.txs[0].bytes)
	assert.True(t, bus.txs[0].stopped)

	bus = &recordingBus{ack: func(int, byte) bool { return false }}
	c = New(bus)
	_, err = c.ProbeReadAddress(context.Background())
	assert.ErrorIs(t, err, tonerchip.ErrNoResponse)
	assert.Zero(t, bus.txs[0].received)
	assert.Equal(t, 1, bus.stops)
}

// MockBus is a testify mock of Bus.
type MockBus struct {
	mock.Mock
}

func (m *MockBus) Start() bool { return m.Called().Bool(0) }

func (m *MockBus) Stop() { m.Called() }

func (m *MockBus) SendBit(bit bool) { m.Called(bit) }

func (m *MockBus) SendByte(b byte) bool { return m.Called(b).Bool(0) }

func (m *MockBus) RecvByte(masterAck bool) (byte, bool) {
	args := m.Called(masterAck)
	return args.Get(0).(byte), args.Bool(1)
}

func (m *MockBus) Release() { m.Called() }

func (m *MockBus) Err() error { return m.Called().Error(0) }

func TestClient_Charge(t *testing.T) {
	bus := new(MockBus)
	bus.On("Release").Return().Once()
	bus.On("Err").Return(nil)
	s := &sleepCounter{}
	c := New(bus, WithSleep(s.sleep))
	require.NoError(t, c.Charge(context.Background(), 250*time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, s.total)
	bus.AssertExpectations(t)
	bus.AssertNotCalled(t, "Start")
}

func TestClient_ScanMock(t *testing.T) {
	bus := new(MockBus)
	bus.On("Release").Return()
	bus.On("Err").Return(nil)
	bus.On("Start").Return(true)
	bus.On("Stop").Return()
	bus.On("SendByte", byte(0x80|0x28)).Return(true)
	bus.On("SendByte", mock.Anything).Return(false)
	s := &sleepCounter{}
	c := New(bus, WithSleep(s.sleep))
	c.SelectChip(0x04)
	found, err := c.Scan(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x28}, found)
	assert.Equal(t, byte(0x04), c.ChipSelect())
	bus.AssertNumberOfCalls(t, "Release", 32)
	bus.AssertNumberOfCalls(t, "Start", 32)
	assert.Equal(t, 32*100*time.Millisecond, s.total)
}

// heldLow is a bus whose data line is stuck low, so every ack bit reads as
// an acknowledgement.
type heldLow struct {
	sets int
}

func (h *heldLow) SetLines(clock, data bool) { h.sets++ }

func (h *heldLow) AckLine() bool { return false }

func (h *heldLow) Err() error { return nil }

type instant struct{}

func (instant) Wait(int) {}

func TestClient_BusHeldLow(t *testing.T) {
	lines := &heldLow{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := i2c.NewEngine(lines, instant{}, i2c.WithLogger(logger))
	c := New(engine, WithSleep(func(time.Duration) {}), WithLogger(logger))
	c.SelectChip(0x20)
	ctx := context.Background()

	err := c.WriteByte(ctx, 0x28, 0x69)
	assert.ErrorIs(t, err, ErrBusNotFree)
	assert.ErrorIs(t, err, tonerchip.ErrNoResponse)

	_, err = c.ReadByte(ctx, 0x28)
	assert.ErrorIs(t, err, ErrBusNotFree)

	_, err = c.ReadBytes(ctx, 0, make([]byte, 4))
	assert.ErrorIs(t, err, ErrBusNotFree)

	_, err = c.WritePage(ctx, 0x88, []byte{0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrBusNotFree)

	assert.ErrorIs(t, c.WaitUntilReady(ctx, true), ErrBusNotFree)

	_, err = c.ProbeReadAddress(ctx)
	assert.ErrorIs(t, err, ErrBusNotFree)

	found, err := c.Scan(ctx, time.Millisecond)
	assert.ErrorIs(t, err, ErrBusNotFree)
	assert.Empty(t, found)
	assert.Equal(t, byte(0x20), c.ChipSelect())
}

func TestClient_BusNotFreeStillFramed(t *testing.T) {
	bus := new(MockBus)
	bus.On("Start").Return(false).Once()
	bus.On("SendByte", byte(0xA0)).Return(true).Once()
	bus.On("SendByte", byte(0x28)).Return(true).Once()
	bus.On("Stop").Return().Once()
	c := New(bus, WithSleep(func(time.Duration) {}))
	c.SelectChip(0x20)
	err := c.WriteByte(context.Background(), 0x28, 0x69)
	assert.ErrorIs(t, err, ErrBusNotFree)
	bus.AssertExpectations(t)
	bus.AssertNotCalled(t, "SendByte", byte(0x69))
}

func TestClient_WritePollsAfterCancel(t *testing.T) {
	tests := []struct {
		name  string
		data  int // SendByte call carrying the last data byte
		write func(ctx context.Context, c *Client) error
	}{
		{"write byte", 2, func(ctx context.Context, c *Client) error {
			return c.WriteByte(ctx, 0x28, 0x69)
		}},
		{"write page", 3, func(ctx context.Context, c *Client) error {
			_, err := c.WritePage(ctx, 0x88, []byte{1, 2})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			bus := &recordingBus{ack: func(n int, b byte) bool {
				if n == tt.data {
					cancel()
				}
				return true
			}}
			c := New(bus, WithSleep(func(time.Duration) {}))
			c.SelectChip(0x20)
			require.NoError(t, tt.write(ctx, c))
			assert.Error(t, ctx.Err())
			// the data transfer and one ready probe
			assert.Equal(t, 2, bus.starts)
			assert.Equal(t, []byte{0xA0}, bus.txs[1].bytes)
		})
	}
}
