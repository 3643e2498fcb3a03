package adapters

import (
	"fmt"
	"io"
	"pms-to-mqtt/application"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	DefaultSerialBaud       = 9600
	DefaultSerialBufferSize = 128
)

var ErrNoData = fmt.Errorf("no data available")

type SerialLinkParams struct {
	Device     string
	Baud       int
	BufferSize int

	Log zerolog.Logger
}

func (p *SerialLinkParams) EnsureDefaults() {
	if p.Baud == 0 {
		p.Baud = DefaultSerialBaud
	}
	if p.BufferSize == 0 {
		p.BufferSize = DefaultSerialBufferSize
	}
}

// SerialLink pumps bytes from the sensor port into a bounded buffer so the
// control loop can ask how many bytes are ready without blocking. Bytes that
// arrive while the buffer is full are dropped, like a UART overrun.
type SerialLink struct {
	port io.ReadCloser
	buf  chan byte

	dropped uint64
	err     atomic.Value
	once    sync.Once

	log zerolog.Logger
}

func OpenSerialLink(params SerialLinkParams) (*SerialLink, error) {
	params.EnsureDefaults()
	port, err := openSerialPort(params.Device, params.Baud)
	if err != nil {
		return nil, err
	}
	params.Log.Info().Str("device", params.Device).Int("baud", params.Baud).Msg("sensor serial started")
	return NewStreamLink(port, params.BufferSize, params.Log), nil
}

// NewStreamLink starts pumping r; the link owns r and closes it on Close.
func NewStreamLink(r io.ReadCloser, bufferSize int, log zerolog.Logger) *SerialLink {
	if bufferSize <= 0 {
		bufferSize = DefaultSerialBufferSize
	}
	l := &SerialLink{port: r, buf: make(chan byte, bufferSize), log: log}
	go l.pump()
	return l
}

func (l *SerialLink) pump() {
	chunk := make([]byte, 64)
	for {
		n, err := l.port.Read(chunk)
		for _, b := range chunk[:n] {
			select {
			case l.buf <- b:
			default:
				if atomic.AddUint64(&l.dropped, 1)%256 == 1 {
					l.log.Warn().Uint64("dropped", atomic.LoadUint64(&l.dropped)).Msg("sensor buffer overrun")
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				l.log.Error().Err(err).Msg("sensor read failed")
			}
			l.err.Store(err)
			return
		}
	}
}

func (l *SerialLink) Available() int { return len(l.buf) }

func (l *SerialLink) ReadByte() (byte, error) {
	select {
	case b := <-l.buf:
		return b, nil
	default:
	}
	if err, ok := l.err.Load().(error); ok {
		return 0, err
	}
	return 0, ErrNoData
}

func (l *SerialLink) Dropped() uint64 { return atomic.LoadUint64(&l.dropped) }

func (l *SerialLink) Close() error {
	var err error
	l.once.Do(func() { err = l.port.Close() })
	return err
}

var _ application.SensorLink = &SerialLink{}
