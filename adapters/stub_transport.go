package adapters

import (
	"context"
	"pms-to-mqtt/application"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Deterministic transports used when networking is disabled. They let the
// provisioning and publishing paths run end to end without a backend.

var StubRegistrationResult = application.RegistrationResult{
	NodeID:         "00000000-0000-0000-0000-000000000001",
	BrokerHost:     "mqtt.example.local",
	BrokerPort:     1883,
	BrokerUsername: "demo-user",
	BrokerPassword: "demo-pass",
	SensorID:       "00000000-0000-0000-0000-00000000SENS",
	SensorSerial:   "PMS5003-EDU",
}

type StubRegistrar struct {
	Log zerolog.Logger
}

func (r *StubRegistrar) Register(ctx context.Context, req application.RegistrationRequest) (application.RegistrationResult, error) {
	r.Log.Info().Str("device_name", req.DeviceName).Msg("[STUB] simulating successful registration")
	return StubRegistrationResult, nil
}

var _ application.Registrar = &StubRegistrar{}

// StubMQTTClient accepts any credentials and logs instead of publishing.
type StubMQTTClient struct {
	Log zerolog.Logger

	connected uint64
	msgCount  uint64
	lastPub   atomic.Pointer[time.Time]
}

func (m *StubMQTTClient) Connect(ctx context.Context, creds application.BrokerCredentials) error {
	m.Log.Info().Str("broker", creds.URL).Msg("[STUB MQTT] connected")
	atomic.StoreUint64(&m.connected, 1)
	return nil
}

func (m *StubMQTTClient) Disconnect() {
	atomic.StoreUint64(&m.connected, 0)
}

func (m *StubMQTTClient) IsConnected() bool {
	return atomic.LoadUint64(&m.connected) == 1
}

func (m *StubMQTTClient) Publish(topic string, qos byte, retained bool, msg any) error {
	if !m.IsConnected() {
		return ErrMQTTNotConnected
	}
	e := m.Log.Info().Str("topic", topic).Bool("retained", retained)
	if b, ok := msg.([]byte); ok {
		e = e.Bytes("payload", b)
	}
	e.Msg("[STUB MQTT] would publish")

	t := time.Now()
	m.lastPub.Store(&t)
	atomic.AddUint64(&m.msgCount, 1)
	return nil
}

func (m *StubMQTTClient) Status() application.MQTTStatus {
	last := time.Unix(0, 0)
	if t := m.lastPub.Load(); t != nil {
		last = *t
	}
	return application.MQTTStatus{
		MessageCount:      atomic.LoadUint64(&m.msgCount),
		LastTimePublished: last,
		Connected:         m.IsConnected(),
	}
}

var _ application.MQTTClient = &StubMQTTClient{}

type StubJoiner struct {
	Log zerolog.Logger

	joined uint64
}

func (j *StubJoiner) Join(ctx context.Context, ssid, passphrase string) error {
	j.Log.Info().Str("ssid", ssid).Msg("[STUB] joined network")
	atomic.StoreUint64(&j.joined, 1)
	return nil
}

func (j *StubJoiner) Leave() {
	atomic.StoreUint64(&j.joined, 0)
}

func (j *StubJoiner) Joined() bool {
	return atomic.LoadUint64(&j.joined) == 1
}

var _ application.NetworkJoiner = &StubJoiner{}
