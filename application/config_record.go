package application

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const (
	ConfigMagic uint32 = 0xED0C0DE1

	TextFieldLen = 64 // 63 + NUL
	UUIDFieldLen = 37 // 36 + NUL
)

var ErrRecordSize = fmt.Errorf("record image too short")

type TextField int

const (
	FieldWifiSSID TextField = iota
	FieldWifiPassword
	FieldOwnerEmail
	FieldDeviceName
	FieldOneTimeKey
	FieldNodeID
	FieldBrokerHost
	FieldBrokerUsername
	FieldBrokerPassword
	FieldSensorID
	FieldSensorSerial
)

// Capacity returns the storage width of the field including its terminator.
func (f TextField) Capacity() int {
	switch f {
	case FieldNodeID, FieldSensorID:
		return UUIDFieldLen
	default:
		return TextFieldLen
	}
}

func (f TextField) String() string {
	switch f {
	case FieldWifiSSID:
		return "wifi_ssid"
	case FieldWifiPassword:
		return "wifi_pass"
	case FieldOwnerEmail:
		return "user_email"
	case FieldDeviceName:
		return "device_name"
	case FieldOneTimeKey:
		return "one_time_key"
	case FieldNodeID:
		return "node_id"
	case FieldBrokerHost:
		return "mqtt_host"
	case FieldBrokerUsername:
		return "mqtt_username"
	case FieldBrokerPassword:
		return "mqtt_password"
	case FieldSensorID:
		return "first_sensor_id"
	case FieldSensorSerial:
		return "first_sensor_sn"
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// ConfigurationRecord is the single persisted entity of the node.
// Text fields are kept within Capacity()-1 bytes by SetText so the binary
// image always carries a terminator.
type ConfigurationRecord struct {
	Magic uint32

	// written by ProvisioningFlow on submit
	WifiSSID     string
	WifiPassword string
	OwnerEmail   string
	DeviceName   string
	OneTimeKey   string

	// written only from a successful RegistrationResult
	NodeID         string
	BrokerHost     string
	BrokerPort     uint16
	BrokerUsername string
	BrokerPassword string
	SensorID       string
	SensorSerial   string
	RegistrationOK bool
}

// RecordSize is the length of the persisted image.
const RecordSize = 4 +
	5*TextFieldLen + // user fields
	UUIDFieldLen + // node id
	TextFieldLen + // broker host
	2 + // broker port
	2*TextFieldLen + // broker username, password
	UUIDFieldLen + // sensor id
	TextFieldLen + // sensor serial
	1 // registration flag

// NewRecord returns the zeroed record with only the integrity tag set.
func NewRecord() ConfigurationRecord {
	return ConfigurationRecord{Magic: ConfigMagic}
}

// Truncate cuts value to at most capacity-1 bytes.
func Truncate(value string, capacity int) string {
	if capacity <= 0 {
		return ""
	}
	if len(value) >= capacity {
		return value[:capacity-1]
	}
	return value
}

func (r *ConfigurationRecord) field(f TextField) *string {
	switch f {
	case FieldWifiSSID:
		return &r.WifiSSID
	case FieldWifiPassword:
		return &r.WifiPassword
	case FieldOwnerEmail:
		return &r.OwnerEmail
	case FieldDeviceName:
		return &r.DeviceName
	case FieldOneTimeKey:
		return &r.OneTimeKey
	case FieldNodeID:
		return &r.NodeID
	case FieldBrokerHost:
		return &r.BrokerHost
	case FieldBrokerUsername:
		return &r.BrokerUsername
	case FieldBrokerPassword:
		return &r.BrokerPassword
	case FieldSensorID:
		return &r.SensorID
	case FieldSensorSerial:
		return &r.SensorSerial
	}
	panic(fmt.Sprintf("code error unknown text field %d", int(f)))
}

func (r *ConfigurationRecord) SetText(f TextField, value string) {
	*r.field(f) = Truncate(value, f.Capacity())
}

func (r *ConfigurationRecord) Text(f TextField) string {
	return *r.field(f)
}

// ClearRegistration wipes every registration-derived field and the flag.
func (r *ConfigurationRecord) ClearRegistration() {
	r.RegistrationOK = false
	r.NodeID = ""
	r.BrokerHost = ""
	r.BrokerPort = 0
	r.BrokerUsername = ""
	r.BrokerPassword = ""
	r.SensorID = ""
	r.SensorSerial = ""
}

// ApplyRegistration copies a complete result into the derived fields and sets
// the flag. Incomplete results are rejected without touching the record.
func (r *ConfigurationRecord) ApplyRegistration(res RegistrationResult) error {
	if err := res.Validate(); err != nil {
		return err
	}
	r.SetText(FieldNodeID, res.NodeID)
	r.SetText(FieldBrokerHost, res.BrokerHost)
	r.BrokerPort = res.BrokerPort
	r.SetText(FieldBrokerUsername, res.BrokerUsername)
	r.SetText(FieldBrokerPassword, res.BrokerPassword)
	r.SetText(FieldSensorID, res.SensorID)
	r.SetText(FieldSensorSerial, res.SensorSerial)
	r.RegistrationOK = true
	return nil
}

func (r *ConfigurationRecord) HasWifiCredentials() bool {
	return r.WifiSSID != "" && r.WifiPassword != ""
}

// HasBrokerCredentials trusts the registration flag first; the field checks
// only guard against a hand-edited image.
func (r *ConfigurationRecord) HasBrokerCredentials() bool {
	return r.RegistrationOK &&
		r.NodeID != "" &&
		r.BrokerHost != "" &&
		r.BrokerPort != 0 &&
		r.BrokerUsername != "" &&
		r.BrokerPassword != ""
}

// MarshalBinary produces the fixed layout: magic, user fields, derived fields,
// flag. Integers are little-endian, text is NUL padded.
func (r *ConfigurationRecord) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(b[0:4], r.Magic)
	off := 4
	putText := func(f TextField) {
		n := f.Capacity()
		copy(b[off:off+n-1], r.Text(f))
		off += n
	}
	putText(FieldWifiSSID)
	putText(FieldWifiPassword)
	putText(FieldOwnerEmail)
	putText(FieldDeviceName)
	putText(FieldOneTimeKey)
	putText(FieldNodeID)
	putText(FieldBrokerHost)
	binary.LittleEndian.PutUint16(b[off:off+2], r.BrokerPort)
	off += 2
	putText(FieldBrokerUsername)
	putText(FieldBrokerPassword)
	putText(FieldSensorID)
	putText(FieldSensorSerial)
	if r.RegistrationOK {
		b[off] = 1
	}
	return b, nil
}

func (r *ConfigurationRecord) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("%w: %d < %d", ErrRecordSize, len(b), RecordSize)
	}
	var out ConfigurationRecord
	out.Magic = binary.LittleEndian.Uint32(b[0:4])
	off := 4
	getText := func(f TextField) {
		n := f.Capacity()
		raw := b[off : off+n-1]
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		*out.field(f) = string(raw)
		off += n
	}
	getText(FieldWifiSSID)
	getText(FieldWifiPassword)
	getText(FieldOwnerEmail)
	getText(FieldDeviceName)
	getText(FieldOneTimeKey)
	getText(FieldNodeID)
	getText(FieldBrokerHost)
	out.BrokerPort = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	getText(FieldBrokerUsername)
	getText(FieldBrokerPassword)
	getText(FieldSensorID)
	getText(FieldSensorSerial)
	out.RegistrationOK = b[off] == 1
	*r = out
	return nil
}

// Mask keeps the first keep characters of a secret.
func Mask(s string, keep int) string {
	if len(s) <= keep {
		return s
	}
	return s[:keep] + strings.Repeat("*", len(s)-keep)
}

// RecordLogger logs a record with secrets masked unless ShowSecrets is set.
type RecordLogger struct {
	Record      ConfigurationRecord
	ShowSecrets bool
}

func (l RecordLogger) secret(s string) string {
	if l.ShowSecrets {
		return s
	}
	return Mask(s, 2)
}

func (l RecordLogger) MarshalZerologObject(e *zerolog.Event) {
	r := l.Record
	e.Str("wifi_ssid", r.WifiSSID).
		Str("wifi_pass", l.secret(r.WifiPassword)).
		Str("user_email", r.OwnerEmail).
		Str("device_name", r.DeviceName).
		Str("one_time_key", l.secret(r.OneTimeKey)).
		Str("node_id", r.NodeID).
		Str("mqtt_host", r.BrokerHost).
		Uint16("mqtt_port", r.BrokerPort).
		Str("mqtt_username", r.BrokerUsername).
		Str("mqtt_password", l.secret(r.BrokerPassword)).
		Bool("registration_ok", r.RegistrationOK)
}
