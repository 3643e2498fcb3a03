package adapters

import (
	"context"
	"fmt"
	"pms-to-mqtt/application"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout    = 15 * time.Second
	MQTTDefaultPublishTimeout    = 5 * time.Second
	MQTTDefaultDisconnectQuiesce = 250
)

var (
	ErrMQTTNotConnected   = fmt.Errorf("not connected")
	ErrMQTTConnectTimeout = fmt.Errorf("connect timeout")
	ErrMQTTPublishTimeout = fmt.Errorf("publish timeout")
)

type MQTTClientParams struct {
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTClientParams) EnsureDefaults() {
	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.PublishTimeout == 0 {
		m.PublishTimeout = MQTTDefaultPublishTimeout
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

// MQTTClient is a paho session rebuilt on every Connect, so credentials from
// a new registration are used without restarting the process. Reconnects are
// left to the connection supervisor.
type MQTTClient struct {
	params MQTTClientParams

	client mqtt.Client

	connected          uint64
	msgCount           uint64
	msgCountUpdateTime atomic.Pointer[time.Time]

	mu sync.RWMutex

	log zerolog.Logger
}

func NewMQTTClient(params MQTTClientParams) *MQTTClient {
	params.EnsureDefaults()

	m := &MQTTClient{params: params, log: params.Log}

	t := time.Unix(0, 0)
	m.msgCountUpdateTime.Store(&t)

	return m
}

func (m *MQTTClient) Connect(ctx context.Context, creds application.BrokerCredentials) error {
	if atomic.LoadUint64(&m.connected) == 1 {
		return nil
	}

	client := m.newMqttClient(creds)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	tc := time.NewTimer(m.params.ConnectTimeout)
	defer tc.Stop()

	m.log.Info().Str("broker", creds.URL).Str("client_id", creds.ClientID).Msg("connecting")

	token := client.Connect()
	select {
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	case <-tc.C:
		client.Disconnect(0)
		return ErrMQTTConnectTimeout
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	}

	atomic.StoreUint64(&m.connected, 1)
	return nil
}

func (m *MQTTClient) Disconnect() {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	atomic.StoreUint64(&m.connected, 0)
	if client != nil {
		client.Disconnect(MQTTDefaultDisconnectQuiesce)
	}
}

func (m *MQTTClient) IsConnected() bool {
	if atomic.LoadUint64(&m.connected) == 0 {
		return false
	}
	return true
}

func (m *MQTTClient) Status() application.MQTTStatus {
	return application.MQTTStatus{
		MessageCount:      atomic.LoadUint64(&m.msgCount),
		LastTimePublished: *m.msgCountUpdateTime.Load(),
		Connected:         m.IsConnected(),
	}
}

func (m *MQTTClient) Publish(topic string, qos byte, retained bool, msg any) error {
	if !m.IsConnected() {
		return ErrMQTTNotConnected
	}

	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	tc := time.NewTimer(m.params.PublishTimeout)
	defer tc.Stop()

	token := client.Publish(topic, qos, retained, msg)
	select {
	case <-tc.C:
		return ErrMQTTPublishTimeout
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	}

	t := time.Now()
	m.msgCountUpdateTime.Store(&t)
	atomic.AddUint64(&m.msgCount, 1)
	return nil
}

func (m *MQTTClient) PublishHandler(client mqtt.Client, msg mqtt.Message) {
	// do nothing
}

func (m *MQTTClient) OnConnect(client mqtt.Client) {
	m.log.Info().Msgf("connected")
	atomic.StoreUint64(&m.connected, 1)
}

func (m *MQTTClient) OnConnectionLost(client mqtt.Client, err error) {
	m.log.Info().Msgf("connect lost: %v", err)
	atomic.StoreUint64(&m.connected, 0)
}

func (m *MQTTClient) newMqttClient(creds application.BrokerCredentials) mqtt.Client {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(creds.URL)
	opts.SetClientID(creds.ClientID)
	opts.SetUsername(creds.Username)
	opts.SetPassword(creds.Password)
	opts.SetConnectTimeout(m.params.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetDefaultPublishHandler(m.PublishHandler)
	opts.OnConnect = m.OnConnect
	opts.OnConnectionLost = m.OnConnectionLost

	return m.params.NewClientFunc(opts)
}

var _ application.MQTTClient = &MQTTClient{}
