package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"pinlink/discovery"
	"pinlink/serial"
)

const testPort = "/dev/ttyMOCK0"

func fastHandshake(attempts int) Handshake {
	return Handshake{Attempts: attempts, Interval: 10 * time.Millisecond, Probe: "99", Ack: "11"}
}

func newMockController(t *testing.T, hs Handshake) (*Controller, *serial.MockPort) {
	t.Helper()
	mock := serial.NewMockPort(testPort)
	tr := serial.NewTransport(testPort, serial.WithOpener(mock.Opener()))
	c := New(tr, WithHandshake(hs))
	t.Cleanup(func() { c.Disconnect() })
	return c, mock
}

// firmware answers like the stock sketch: ack the probe, report pin 13 high,
// pin 2 low and 523 on analog 0
func firmware(data []byte) []byte {
	switch strings.TrimSuffix(string(data), "\n") {
	case "99":
		return []byte("11\r\n")
	case "dr13":
		return []byte("1\r\n")
	case "dr2":
		return []byte("0\r\n")
	case "dr7":
		return []byte("\r\n")
	case "ar0":
		return []byte("523\r\n")
	case "ar1":
		return []byte("1023\r\n")
	case "ar5":
		return []byte("n/a\r\n")
	}
	return nil
}

func connected(t *testing.T) (*Controller, *serial.MockPort) {
	t.Helper()
	c, mock := newMockController(t, fastHandshake(3))
	mock.OnWrite(firmware)
	require.NoError(t, c.Connect(context.Background()))
	mock.Reset()
	return c, mock
}

func TestDefaultHandshake(t *testing.T) {
	h := DefaultHandshake()
	assert.Equal(t, 20, h.Attempts)
	assert.Equal(t, 250*time.Millisecond, h.Interval)
	assert.Equal(t, "99", h.Probe)
	assert.Equal(t, "11", h.Ack)
}

func TestWithHandshakeKeepsDefaultsForZeroFields(t *testing.T) {
	c := New(serial.NewTransport(testPort), WithHandshake(Handshake{Attempts: 5}))
	h := c.Handshake()
	assert.Equal(t, 5, h.Attempts)
	assert.Equal(t, 250*time.Millisecond, h.Interval)
	assert.Equal(t, "99", h.Probe)
	assert.Equal(t, "11", h.Ack)
}

func TestConnectSucceedsOnThirdAttempt(t *testing.T) {
	c, mock := newMockController(t, Handshake{Attempts: 20, Interval: 20 * time.Millisecond})

	var probes atomic.Int32
	mock.OnWrite(func(data []byte) []byte {
		if string(data) == "99\n" && probes.Inc() == 3 {
			return []byte("11\r\n")
		}
		return nil
	})

	assert.False(t, c.IsConnected())
	require.NoError(t, c.Connect(context.Background()))

	assert.True(t, c.IsConnected())
	assert.Equal(t, StateConnected, c.State())
	assert.NotEmpty(t, c.Session())
	assert.Equal(t, []string{"99", "99", "99"}, mock.WrittenLines())
	assert.Equal(t, 0, c.Stats().Buffered)
}

func TestConnectTimesOutAfterAllAttempts(t *testing.T) {
	hs := Handshake{Attempts: 5, Interval: time.Millisecond}
	c, mock := newMockController(t, hs)

	start := time.Now()
	err := c.Connect(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	var pe *serial.PortError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, testPort, pe.Port)

	assert.Len(t, mock.WrittenLines(), 5)
	assert.False(t, c.IsConnected())
	assert.Equal(t, StateFailed, c.State())
	assert.False(t, mock.IsOpen())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSilentDeviceBound(t *testing.T) {
	hs := Handshake{Attempts: 5, Interval: 40 * time.Millisecond}
	c, _ := newMockController(t, hs)

	start := time.Now()
	require.ErrorIs(t, c.Connect(context.Background()), ErrHandshakeTimeout)
	elapsed := time.Since(start)

	// One interval per silent attempt
	assert.GreaterOrEqual(t, elapsed, 5*hs.Interval)
	assert.Less(t, elapsed, 10*hs.Interval)
}

func TestConnectFirmwareMismatch(t *testing.T) {
	c, mock := newMockController(t, fastHandshake(20))
	mock.OnWrite(func(data []byte) []byte {
		return []byte("42\r\n")
	})

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFirmwareMismatch)

	// No further attempts after a wrong answer
	assert.Equal(t, []string{"99"}, mock.WrittenLines())
	assert.False(t, c.IsConnected())
	assert.False(t, mock.IsOpen())
}

func TestConnectUnterminatedAnswer(t *testing.T) {
	c, mock := newMockController(t, fastHandshake(20))
	mock.OnWrite(func(data []byte) []byte {
		return []byte("garbage")
	})

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrFirmwareMismatch)
	assert.Len(t, mock.WrittenLines(), 1)
}

func TestConnectDiscardsStrayBytes(t *testing.T) {
	c, mock := newMockController(t, fastHandshake(3))
	mock.OnWrite(func(data []byte) []byte {
		return []byte("11\r\nboot banner\r\n")
	})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 0, c.Stats().Buffered)
}

func TestConnectCancelled(t *testing.T) {
	c, mock := newMockController(t, Handshake{Attempts: 20, Interval: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, serial.ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, mock.IsOpen())
	assert.Equal(t, StateFailed, c.State())
}

func TestConnectOpenFailure(t *testing.T) {
	c, mock := newMockController(t, fastHandshake(3))
	mock.SetOpenError(serial.ErrPortInUse)

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, serial.ErrPortInUse)
	assert.Empty(t, mock.WrittenLines())
	assert.Equal(t, StateFailed, c.State())
}

func TestConnectRetryAfterFailure(t *testing.T) {
	c, mock := newMockController(t, fastHandshake(2))

	require.ErrorIs(t, c.Connect(context.Background()), ErrHandshakeTimeout)

	mock.OnWrite(firmware)
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	assert.Equal(t, 2, mock.Opens())
}

func TestConnectWhenConnectedIsNoop(t *testing.T) {
	c, mock := connected(t)
	session := c.Session()

	require.NoError(t, c.Connect(context.Background()))
	assert.Empty(t, mock.WrittenLines())
	assert.Equal(t, session, c.Session())
}

func TestCommandEncoding(t *testing.T) {
	c, mock := connected(t)

	require.NoError(t, c.DigitalWrite(13, true))
	require.NoError(t, c.DigitalWrite(12, false))
	require.NoError(t, c.AnalogWrite(9, 128))
	require.NoError(t, c.SetPinMode(3, Output))
	require.NoError(t, c.SetPinMode(4, Input))

	assert.Equal(t, []string{"dw13,1", "dw12,0", "aw9,128", "pm3,O", "pm4,I"}, mock.WrittenLines())
}

func TestDigitalRead(t *testing.T) {
	c, mock := connected(t)

	high, err := c.DigitalRead(13)
	require.NoError(t, err)
	assert.True(t, high)

	low, err := c.DigitalRead(2)
	require.NoError(t, err)
	assert.False(t, low)

	assert.Equal(t, []string{"dr13", "dr2"}, mock.WrittenLines())
}

func TestDigitalReadEmptyLine(t *testing.T) {
	c, _ := connected(t)

	_, err := c.DigitalRead(7)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestAnalogRead(t *testing.T) {
	c, mock := connected(t)

	v, err := c.AnalogRead(0)
	require.NoError(t, err)
	assert.Equal(t, 523, v)

	v, err = c.AnalogRead(1)
	require.NoError(t, err)
	assert.Equal(t, 1023, v)

	assert.Equal(t, []string{"ar0", "ar1"}, mock.WrittenLines())
}

func TestAnalogReadMalformed(t *testing.T) {
	c, _ := connected(t)

	_, err := c.AnalogRead(5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)

	var pe *serial.PortError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "analog read", pe.Op)
	assert.Equal(t, testPort, pe.Port)
}

func readWithin(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

func TestReadContextTimeoutEndsSession(t *testing.T) {
	c, mock := connected(t)
	done := c.Done()

	ctx, cancel := readWithin(20 * time.Millisecond)
	defer cancel()

	// Pin 9 is never answered
	_, err := c.AnalogReadContext(ctx, 9)
	assert.ErrorIs(t, err, serial.ErrInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.False(t, c.IsConnected())
	assert.Equal(t, StateFailed, c.State())
	assert.False(t, mock.IsOpen())
	assert.ErrorIs(t, c.Err(), serial.ErrInterrupted)
	select {
	case <-done:
	default:
		t.Fatal("session still running after a failed read")
	}
}

func TestLateAnswerNotReturnedToNextQuery(t *testing.T) {
	c, mock := connected(t)

	ctx, cancel := readWithin(20 * time.Millisecond)
	defer cancel()
	_, err := c.AnalogReadContext(ctx, 9)
	require.ErrorIs(t, err, serial.ErrInterrupted)

	// The answer to the abandoned request arrives after the caller gave up
	mock.FeedString("17\r\n")

	_, err = c.AnalogRead(0)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	v, err := c.AnalogRead(0)
	require.NoError(t, err)
	assert.Equal(t, 523, v)
}

func TestPartialLineNotReturnedToNextQuery(t *testing.T) {
	c, mock := connected(t)

	mock.OnWrite(func(data []byte) []byte {
		if string(data) == "ar9\n" {
			return []byte("52")
		}
		return firmware(data)
	})

	ctx, cancel := readWithin(20 * time.Millisecond)
	defer cancel()
	_, err := c.AnalogReadContext(ctx, 9)
	require.ErrorIs(t, err, serial.ErrInterrupted)

	// The rest of the interrupted line
	mock.FeedString("3\r\n")

	_, err = c.AnalogRead(1)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	v, err := c.AnalogRead(1)
	require.NoError(t, err)
	assert.Equal(t, 1023, v)
}

func TestWriteFailureEndsSession(t *testing.T) {
	c, mock := connected(t)
	mock.SetWriteError(errors.New("i/o error"))

	err := c.DigitalWrite(13, true)
	assert.ErrorIs(t, err, serial.ErrStreamUnavailable)
	assert.False(t, c.IsConnected())
	assert.Equal(t, StateFailed, c.State())
}

func TestLinkFaultEndsSession(t *testing.T) {
	c, mock := connected(t)
	done := c.Done()

	unplugged := errors.New("device unplugged")
	mock.Fail(unplugged)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session not ended after link fault")
	}
	assert.False(t, c.IsConnected())
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, time.Duration(0), c.Uptime())
	assert.ErrorIs(t, c.Err(), serial.ErrStreamUnavailable)
	assert.ErrorIs(t, c.Err(), unplugged)

	_, err := c.DigitalRead(13)
	assert.ErrorIs(t, err, ErrNotConnected)

	// A new handshake starts a fresh session
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	assert.NoError(t, c.Err())
	high, err := c.DigitalRead(13)
	require.NoError(t, err)
	assert.True(t, high)
}

func TestDisconnectEndsSessionWithoutError(t *testing.T) {
	c, _ := connected(t)
	done := c.Done()

	require.NoError(t, c.Disconnect())
	select {
	case <-done:
	default:
		t.Fatal("Done not closed by Disconnect")
	}
	assert.NoError(t, c.Err())
}

func TestPinOperationsRequireConnection(t *testing.T) {
	c, mock := newMockController(t, fastHandshake(1))

	_, err := c.DigitalRead(13)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.AnalogRead(0)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.DigitalWrite(13, true), ErrNotConnected)
	assert.ErrorIs(t, c.AnalogWrite(9, 1), ErrNotConnected)
	assert.ErrorIs(t, c.SetPinMode(3, Output), ErrNotConnected)

	assert.Empty(t, mock.WrittenLines())
}

func TestNegativePin(t *testing.T) {
	c, mock := connected(t)

	assert.ErrorIs(t, c.DigitalWrite(-1, true), ErrInvalidPin)
	_, err := c.AnalogRead(-3)
	assert.ErrorIs(t, err, ErrInvalidPin)
	assert.Empty(t, mock.WrittenLines())
}

func TestSetPinModeRejectsUnknownMode(t *testing.T) {
	c, mock := connected(t)

	assert.ErrorIs(t, c.SetPinMode(3, PinMode('X')), ErrInvalidPinMode)
	assert.Empty(t, mock.WrittenLines())
}

func TestDisconnect(t *testing.T) {
	c, mock := connected(t)
	assert.Greater(t, c.Uptime(), time.Duration(0))

	require.NoError(t, c.Disconnect())
	assert.False(t, c.IsConnected())
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, mock.IsOpen())
	assert.Equal(t, time.Duration(0), c.Uptime())

	assert.ErrorIs(t, c.DigitalWrite(13, true), ErrNotConnected)

	// Disconnecting twice is harmless
	assert.NoError(t, c.Disconnect())
}

func TestConcurrentQueriesDoNotInterleave(t *testing.T) {
	c, _ := connected(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			v, err := c.AnalogRead(0)
			if err == nil && v != 523 {
				err = errors.New("analog read got wrong answer")
			}
			errs <- err
		}()
		go func() {
			defer wg.Done()
			high, err := c.DigitalRead(13)
			if err == nil && !high {
				err = errors.New("digital read got wrong answer")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestDiscover(t *testing.T) {
	locator := &discovery.PrefixLocator{
		Prefixes: []string{"/dev/ttyUSB"},
		List: func() ([]string, error) {
			return []string{"/dev/ttyS0", "/dev/ttyUSB3"}, nil
		},
	}

	c, err := Discover(locator)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", c.Port())
	assert.False(t, c.IsConnected())
}

func TestDiscoverNoPort(t *testing.T) {
	locator := &discovery.PrefixLocator{
		Prefixes: []string{"/dev/ttyUSB"},
		List: func() ([]string, error) {
			return []string{"/dev/ttyS0"}, nil
		},
	}

	_, err := Discover(locator)
	assert.ErrorIs(t, err, discovery.ErrNoPort)
}

func TestParsePinMode(t *testing.T) {
	tests := map[string]PinMode{
		"i":      Input,
		"I":      Input,
		"input":  Input,
		"o":      Output,
		"OUTPUT": Output,
	}
	for in, want := range tests {
		got, err := ParsePinMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePinMode("pullup")
	assert.ErrorIs(t, err, ErrInvalidPinMode)
	assert.Equal(t, "O", Output.String())
}
