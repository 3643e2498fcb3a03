package application

import (
	"time"

	"github.com/rs/zerolog"
)

// SensorLink is the byte oriented input from the particulate sensor.
type SensorLink interface {
	// Available returns the number of bytes that can be read without waiting.
	Available() int
	ReadByte() (byte, error)
}

// TelemetrySample is one decoded sensor reading, concentrations in µg/m³.
type TelemetrySample struct {
	PM1CF1  uint16
	PM25CF1 uint16
	PM10CF1 uint16
	PM1ATM  uint16
	PM25ATM uint16
	PM10ATM uint16

	CapturedAt time.Time
	Valid      bool
}

func (s TelemetrySample) MarshalZerologObject(e *zerolog.Event) {
	e.Uints16("cf1", []uint16{s.PM1CF1, s.PM25CF1, s.PM10CF1}).
		Uints16("atm", []uint16{s.PM1ATM, s.PM25ATM, s.PM10ATM})
}
