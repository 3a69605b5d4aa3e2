package sensorlink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaitworks/pressuremat/internal/decode"
	"github.com/gaitworks/pressuremat/internal/matframe"
	"github.com/gaitworks/pressuremat/internal/timeutil"
)

func fullBody(marker byte) []byte {
	body := make([]byte, matframe.MaxPayload)
	body[0] = marker
	return body
}

func startLink(t *testing.T, port Porter, accumulate int) *Link {
	t.Helper()
	l := newLink(0, "mock0", port, timeutil.RealClock{}, 20*time.Millisecond, 8, accumulate)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.run(ctx)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLink_DecodesFramesFromPort(t *testing.T) {
	port := NewTestablePort()
	port.BlockReads = true
	l := startLink(t, port, 1)

	port.AddReadData(decode.EncodeFrame(fullBody(0x11)))
	port.AddReadData(decode.EncodeFrame(fullBody(0x22)))

	ctx := context.Background()
	f, err := l.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), f.Payload[0])
	assert.Equal(t, matframe.MaxPayload, f.PayloadLength)

	f, err = l.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte(0x22), f.Payload[0])

	assert.False(t, l.Down())
	assert.Equal(t, uint64(2), l.DecoderStats().Frames)
	assert.GreaterOrEqual(t, l.LastFrameAge(), time.Duration(0))
}

func TestLink_NextTimesOutWhenIdle(t *testing.T) {
	port := NewTestablePort()
	port.BlockReads = true
	l := startLink(t, port, 1)

	_, err := l.Next(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLink_CloseUnblocksReadPromptly(t *testing.T) {
	port := NewTestablePort()
	port.BlockReads = true
	l := startLink(t, port, 1)

	// Let the reader park in a blocking read, then close. The reader must
	// exit within roughly one read-timeout interval, not hang.
	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	require.NoError(t, l.Close())

	select {
	case <-l.Done():
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("reader goroutine did not exit after Close")
	}
	assert.True(t, l.Down())

	_, err := l.Next(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrLinkClosed)
}

func TestLink_PortErrorMarksLinkDown(t *testing.T) {
	port := NewTestablePort()
	port.ReadError = assert.AnError
	l := startLink(t, port, 1)

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not exit on port error")
	}
	assert.True(t, l.Down())
}

func TestLink_WalkwayAccumulation(t *testing.T) {
	port := NewTestablePort()
	port.BlockReads = true
	l := startLink(t, port, 3)

	// Three consecutive full-size frames fold into one 3072-byte strip.
	for i := byte(1); i <= 3; i++ {
		port.AddReadData(decode.EncodeFrame(fullBody(i)))
	}

	f, err := l.Next(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*matframe.MaxPayload, f.PayloadLength)
	assert.Equal(t, byte(1), f.Payload[0])
	assert.Equal(t, byte(2), f.Payload[matframe.MaxPayload])
	assert.Equal(t, byte(3), f.Payload[2*matframe.MaxPayload])

	// A second strip folds independently of the first.
	for i := byte(4); i <= 6; i++ {
		port.AddReadData(decode.EncodeFrame(fullBody(i)))
	}
	f, err = l.Next(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte(4), f.Payload[0])
}

func TestLink_AccumulationPassesShortFramesThrough(t *testing.T) {
	port := NewTestablePort()
	port.BlockReads = true
	l := startLink(t, port, 3)

	short := make([]byte, 16)
	short[0] = 0x77
	port.AddReadData(decode.EncodeFrame(short))

	f, err := l.Next(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 16, f.PayloadLength)
	assert.Equal(t, byte(0x77), f.Payload[0])
}
