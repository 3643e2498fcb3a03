package application

import (
	"context"
	"fmt"
	"time"
)

type MQTTStatus struct {
	MessageCount      uint64    `json:"message_count"`
	LastTimePublished time.Time `json:"last_time_published"`
	Connected         bool      `json:"connected"`
}

type BrokerCredentials struct {
	URL      string
	ClientID string
	Username string
	Password string
}

// MQTTClient is the broker session. Connect may be called again with other
// credentials after Disconnect.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, msg any) error

	Connect(ctx context.Context, creds BrokerCredentials) error
	Disconnect()
	IsConnected() bool
	Status() MQTTStatus
}

type brokerLink struct {
	client MQTTClient
}

// NewBrokerLink supervises the MQTT session opened with the registration
// derived credentials.
func NewBrokerLink(client MQTTClient) Link {
	return &brokerLink{client: client}
}

func (l *brokerLink) Name() string { return "mqtt" }

func (l *brokerLink) Ready(rec *ConfigurationRecord) bool {
	return rec.HasBrokerCredentials()
}

func (l *brokerLink) Connect(ctx context.Context, rec *ConfigurationRecord) error {
	return l.client.Connect(ctx, BrokerCredentials{
		URL:      fmt.Sprintf("tcp://%s:%d", rec.BrokerHost, rec.BrokerPort),
		ClientID: rec.NodeID,
		Username: rec.BrokerUsername,
		Password: rec.BrokerPassword,
	})
}

func (l *brokerLink) IsConnected() bool { return l.client.IsConnected() }

func (l *brokerLink) Disconnect() { l.client.Disconnect() }

// NetworkJoiner joins the upstream Wi-Fi network in station mode.
type NetworkJoiner interface {
	Join(ctx context.Context, ssid, passphrase string) error
	Leave()
	Joined() bool
}

type networkLink struct {
	joiner NetworkJoiner
}

func NewNetworkLink(joiner NetworkJoiner) Link {
	return &networkLink{joiner: joiner}
}

func (l *networkLink) Name() string { return "wifi" }

func (l *networkLink) Ready(rec *ConfigurationRecord) bool {
	return rec.HasWifiCredentials()
}

func (l *networkLink) Connect(ctx context.Context, rec *ConfigurationRecord) error {
	return l.joiner.Join(ctx, rec.WifiSSID, rec.WifiPassword)
}

func (l *networkLink) IsConnected() bool { return l.joiner.Joined() }

func (l *networkLink) Disconnect() { l.joiner.Leave() }
