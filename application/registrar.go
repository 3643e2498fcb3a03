package application

import (
	"context"
	"fmt"
)

var (
	ErrRegistrationFailed     = fmt.Errorf("registration failed")
	ErrIncompleteRegistration = fmt.Errorf("incomplete registration result")
	ErrMissingOneTimeKey      = fmt.Errorf("empty one time key")
)

type RegistrationRequest struct {
	OneTimeKey string `json:"registration_code"`
	OwnerEmail string `json:"user_email"`
	DeviceName string `json:"device_name"`
}

type RegistrationResult struct {
	NodeID         string `json:"node_id"`
	BrokerHost     string `json:"mqtt_host"`
	BrokerPort     uint16 `json:"mqtt_port"`
	BrokerUsername string `json:"mqtt_username"`
	BrokerPassword string `json:"mqtt_password"`
	SensorID       string `json:"first_sensor_id"`
	SensorSerial   string `json:"first_sensor_sn"`
}

// Validate checks the fields the broker connection and the measurement
// topic depend on. The sensor serial is informational and may be empty.
func (r RegistrationResult) Validate() error {
	switch {
	case r.NodeID == "":
		return fmt.Errorf("%w: node_id", ErrIncompleteRegistration)
	case r.BrokerHost == "":
		return fmt.Errorf("%w: mqtt_host", ErrIncompleteRegistration)
	case r.BrokerPort == 0:
		return fmt.Errorf("%w: mqtt_port", ErrIncompleteRegistration)
	case r.BrokerUsername == "":
		return fmt.Errorf("%w: mqtt_username", ErrIncompleteRegistration)
	case r.BrokerPassword == "":
		return fmt.Errorf("%w: mqtt_password", ErrIncompleteRegistration)
	case r.SensorID == "":
		return fmt.Errorf("%w: first_sensor_id", ErrIncompleteRegistration)
	}
	return nil
}

// Registrar exchanges a one time key for broker credentials and node identity.
// Any error is treated as a failed registration.
type Registrar interface {
	Register(ctx context.Context, req RegistrationRequest) (RegistrationResult, error)
}
