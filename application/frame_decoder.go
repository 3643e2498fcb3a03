package application

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	FrameMarker1 byte = 0x42
	FrameMarker2 byte = 0x4D

	FrameMinLength = 28
	FrameMaxLength = 64

	DefaultFrameWait = 200 * time.Millisecond
	DefaultFramePoll = 2 * time.Millisecond
)

var (
	ErrMarkerTimeout = fmt.Errorf("frame marker timeout")
	ErrLengthTimeout = fmt.Errorf("frame length timeout")
	ErrFrameLength   = fmt.Errorf("frame length out of bounds")
	ErrBodyTimeout   = fmt.Errorf("frame body timeout")
	ErrChecksum      = fmt.Errorf("frame checksum mismatch")
)

type DecoderState int

const (
	StateSeeking DecoderState = iota
	StateMarker
	StateLengthRead
	StateBodyRead
)

func (s DecoderState) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateMarker:
		return "marker"
	case StateLengthRead:
		return "length"
	case StateBodyRead:
		return "body"
	}
	return "unknown"
}

type FrameDecoderParams struct {
	// Wait bounds each phase of ReadFrame: marker scan, length, body.
	Wait time.Duration
	Poll time.Duration

	Now   func() time.Time
	Sleep func(time.Duration)

	Log     zerolog.Logger
	Metrics Metrics
}

func (p *FrameDecoderParams) EnsureDefaults() {
	if p.Wait == 0 {
		p.Wait = DefaultFrameWait
	}
	if p.Poll == 0 {
		p.Poll = DefaultFramePoll
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Sleep == nil {
		p.Sleep = time.Sleep
	}
	if p.Metrics == nil {
		p.Metrics = NopMetrics{}
	}
}

// FrameDecoder turns the sensor byte stream into samples. Frames are
// resynchronised by content only: 0x42 0x4D, 2 byte big-endian length,
// body of that length whose last 2 bytes are the checksum.
type FrameDecoder struct {
	params FrameDecoderParams

	state  DecoderState
	header [2]byte
	length int
	body   [FrameMaxLength]byte
	got    int

	log zerolog.Logger
}

func NewFrameDecoder(params FrameDecoderParams) *FrameDecoder {
	params.EnsureDefaults()
	return &FrameDecoder{params: params, log: params.Log}
}

func (d *FrameDecoder) State() DecoderState { return d.state }

func (d *FrameDecoder) Reset() {
	d.state = StateSeeking
	d.length = 0
	d.got = 0
}

// Feed advances the state machine by one byte. It returns a sample with ok set
// once a frame passes the checksum. Errors reset the decoder to seeking.
func (d *FrameDecoder) Feed(b byte) (sample TelemetrySample, ok bool, err error) {
	switch d.state {
	case StateSeeking:
		if b == FrameMarker1 {
			d.state = StateMarker
		}

	case StateMarker:
		if b == FrameMarker2 {
			d.state = StateLengthRead
			d.got = 0
		} else {
			d.state = StateSeeking
		}

	case StateLengthRead:
		d.header[d.got] = b
		d.got++
		if d.got < len(d.header) {
			break
		}
		d.length = int(binary.BigEndian.Uint16(d.header[:]))
		if d.length < FrameMinLength || d.length > FrameMaxLength {
			err = fmt.Errorf("%w: %d", ErrFrameLength, d.length)
			d.Reset()
			return
		}
		d.state = StateBodyRead
		d.got = 0

	case StateBodyRead:
		d.body[d.got] = b
		d.got++
		if d.got < d.length {
			break
		}
		sample, err = d.extract()
		d.Reset()
		ok = err == nil
	}
	return
}

func (d *FrameDecoder) extract() (TelemetrySample, error) {
	body := d.body[:d.length]
	sum := uint16(FrameMarker1) + uint16(FrameMarker2) + uint16(d.header[0]) + uint16(d.header[1])
	for _, b := range body[:d.length-2] {
		sum += uint16(b)
	}
	chk := binary.BigEndian.Uint16(body[d.length-2:])
	if sum != chk {
		return TelemetrySample{}, fmt.Errorf("%w: calc=%d frame=%d", ErrChecksum, sum, chk)
	}

	word := func(i int) uint16 { return binary.BigEndian.Uint16(body[i*2:]) }
	return TelemetrySample{
		PM1CF1:  word(0),
		PM25CF1: word(1),
		PM10CF1: word(2),
		PM1ATM:  word(3),
		PM25ATM: word(4),
		PM10ATM: word(5),
		Valid:   true,
	}, nil
}

func phaseOf(s DecoderState) DecoderState {
	if s == StateMarker {
		return StateSeeking
	}
	return s
}

func phaseTimeout(s DecoderState) error {
	switch s {
	case StateLengthRead:
		return ErrLengthTimeout
	case StateBodyRead:
		return ErrBodyTimeout
	}
	return ErrMarkerTimeout
}

// ReadFrame attempts to read one frame from link. Each phase is bounded by
// Wait; partial frames are discarded, never carried into the next call.
func (d *FrameDecoder) ReadFrame(link SensorLink) (TelemetrySample, error) {
	d.Reset()
	phase := phaseOf(d.state)
	start := d.params.Now()
	for {
		if p := phaseOf(d.state); p != phase {
			phase = p
			start = d.params.Now()
		}
		if d.params.Now().Sub(start) >= d.params.Wait {
			err := phaseTimeout(phase)
			d.Reset()
			if phase != StateSeeking {
				d.params.Metrics.FrameRejected(reasonOf(err))
				d.log.Debug().Err(err).Msg("frame abandoned")
			}
			return TelemetrySample{}, err
		}
		if link.Available() == 0 {
			d.params.Sleep(d.params.Poll)
			continue
		}
		b, err := link.ReadByte()
		if err != nil {
			d.params.Sleep(d.params.Poll)
			continue
		}

		sample, ok, err := d.Feed(b)
		if err != nil {
			d.params.Metrics.FrameRejected(reasonOf(err))
			d.log.Warn().Err(err).Msg("frame rejected")
			return TelemetrySample{}, err
		}
		if ok {
			sample.CapturedAt = d.params.Now()
			d.params.Metrics.FrameDecoded()
			return sample, nil
		}
	}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrChecksum):
		return "checksum"
	case errors.Is(err, ErrFrameLength):
		return "length"
	case errors.Is(err, ErrLengthTimeout), errors.Is(err, ErrBodyTimeout):
		return "timeout"
	}
	return "other"
}
