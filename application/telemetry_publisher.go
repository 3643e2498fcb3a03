package application

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
)

const DefaultPublishInterval = 20 * time.Second

type PayloadFormat string

const (
	PayloadJSON PayloadFormat = "json"
	PayloadCBOR PayloadFormat = "cbor"
)

func ParsePayloadFormat(s string) (PayloadFormat, error) {
	switch f := PayloadFormat(s); f {
	case PayloadJSON, PayloadCBOR:
		return f, nil
	}
	return "", fmt.Errorf("invalid payload format %q", s)
}

type Measurement struct {
	PM1  float64 `json:"pm1" cbor:"pm1"`
	PM25 float64 `json:"pm25" cbor:"pm25"`
	PM10 float64 `json:"pm10" cbor:"pm10"`
}

type MeasurementPayload struct {
	Measurement Measurement `json:"measurement" cbor:"measurement"`
}

func EncodePayload(format PayloadFormat, p MeasurementPayload) ([]byte, error) {
	if format == PayloadCBOR {
		return cbor.Marshal(p)
	}
	return json.Marshal(p)
}

type PublishIntent struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// MeasurementTopic is measurements/<node id>/<first sensor id>.
func MeasurementTopic(rec *ConfigurationRecord) string {
	return fmt.Sprintf("measurements/%s/%s", rec.NodeID, rec.SensorID)
}

type TelemetryPublisherParams struct {
	Interval time.Duration
	Format   PayloadFormat

	Log zerolog.Logger
}

func (p *TelemetryPublisherParams) EnsureDefaults() {
	if p.Interval == 0 {
		p.Interval = DefaultPublishInterval
	}
	if p.Format == "" {
		p.Format = PayloadJSON
	}
}

// TelemetryPublisher throttles samples to one intent per interval. Samples
// arriving inside the window are dropped, not queued.
type TelemetryPublisher struct {
	params TelemetryPublisherParams

	lastPublish time.Time

	log zerolog.Logger
}

func NewTelemetryPublisher(params TelemetryPublisherParams) *TelemetryPublisher {
	params.EnsureDefaults()
	return &TelemetryPublisher{params: params, log: params.Log}
}

func (p *TelemetryPublisher) MaybePublish(now time.Time, sample TelemetrySample, broker ConnectionState, rec *ConfigurationRecord) (PublishIntent, bool) {
	if !sample.Valid || !broker.Connected() || !rec.RegistrationOK {
		return PublishIntent{}, false
	}
	if !p.lastPublish.IsZero() && now.Sub(p.lastPublish) < p.params.Interval {
		return PublishIntent{}, false
	}

	payload, err := EncodePayload(p.params.Format, MeasurementPayload{
		Measurement: Measurement{
			PM1:  float64(sample.PM1ATM),
			PM25: float64(sample.PM25ATM),
			PM10: float64(sample.PM10ATM),
		},
	})
	if err != nil {
		p.log.Error().Err(err).Msg("payload encode failed")
		return PublishIntent{}, false
	}
	p.lastPublish = now
	return PublishIntent{Topic: MeasurementTopic(rec), Payload: payload, Retain: true}, true
}
