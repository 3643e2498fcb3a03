package application

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registeredRecord() ConfigurationRecord {
	rec := NewRecord()
	rec.SetText(FieldWifiSSID, "home")
	rec.SetText(FieldWifiPassword, "secret")
	rec.SetText(FieldOwnerEmail, "a@b.c")
	rec.SetText(FieldDeviceName, "kitchen")
	rec.SetText(FieldOneTimeKey, "KEY")
	_ = rec.ApplyRegistration(RegistrationResult{
		NodeID:         "6f1c2b8e-1d5a-4a57-9c0f-0a4d3e2b1c9d",
		BrokerHost:     "broker.local",
		BrokerPort:     1883,
		BrokerUsername: "user",
		BrokerPassword: "pass",
		SensorID:       "0b9d5c7e-2f4a-4c3b-8d1e-7a6f5e4d3c2b",
		SensorSerial:   "SN-1",
	})
	return rec
}

func TestRecordSize(t *testing.T) {
	assert.Equal(t, 657, RecordSize)
}

func TestConfigurationRecord_SetText_Truncates(t *testing.T) {
	rec := NewRecord()

	long := strings.Repeat("x", 100)
	rec.SetText(FieldWifiSSID, long)
	assert.Len(t, rec.WifiSSID, TextFieldLen-1)

	rec.SetText(FieldNodeID, long)
	assert.Len(t, rec.NodeID, UUIDFieldLen-1)

	rec.SetText(FieldDeviceName, strings.Repeat("y", 63))
	assert.Len(t, rec.DeviceName, 63)

	rec.SetText(FieldDeviceName, strings.Repeat("y", 64))
	assert.Len(t, rec.DeviceName, 63)
}

func TestConfigurationRecord_BinaryLayout(t *testing.T) {
	rec := registeredRecord()

	b, err := rec.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, RecordSize)

	assert.Equal(t, []byte{0xE1, 0x0D, 0x0C, 0xED}, b[0:4])
	assert.Equal(t, "home", string(b[4:8]))
	assert.Equal(t, byte(0), b[8])

	portOffset := 4 + 5*TextFieldLen + UUIDFieldLen + TextFieldLen
	assert.Equal(t, uint16(1883), binary.LittleEndian.Uint16(b[portOffset:]))
	assert.Equal(t, byte(1), b[RecordSize-1])

	var out ConfigurationRecord
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, rec, out)
}

func TestConfigurationRecord_UnmarshalShort(t *testing.T) {
	var rec ConfigurationRecord
	err := rec.UnmarshalBinary(make([]byte, RecordSize-1))
	require.ErrorIs(t, err, ErrRecordSize)
}

func TestConfigurationRecord_UnmarshalUnterminated(t *testing.T) {
	b := make([]byte, RecordSize)
	for i := 4; i < 4+TextFieldLen; i++ {
		b[i] = 'z'
	}

	var rec ConfigurationRecord
	require.NoError(t, rec.UnmarshalBinary(b))
	assert.Len(t, rec.WifiSSID, TextFieldLen-1)
}

func TestConfigurationRecord_ClearRegistration(t *testing.T) {
	rec := registeredRecord()
	require.True(t, rec.HasBrokerCredentials())

	rec.ClearRegistration()

	assert.False(t, rec.RegistrationOK)
	assert.False(t, rec.HasBrokerCredentials())
	assert.Empty(t, rec.NodeID)
	assert.Empty(t, rec.BrokerHost)
	assert.Zero(t, rec.BrokerPort)
	assert.Empty(t, rec.BrokerUsername)
	assert.Empty(t, rec.BrokerPassword)
	assert.Empty(t, rec.SensorID)
	assert.Empty(t, rec.SensorSerial)

	assert.Equal(t, "home", rec.WifiSSID)
	assert.Equal(t, "KEY", rec.OneTimeKey)
	assert.True(t, rec.HasWifiCredentials())
}

func TestConfigurationRecord_ApplyRegistration_Incomplete(t *testing.T) {
	rec := NewRecord()

	err := rec.ApplyRegistration(RegistrationResult{NodeID: "n", BrokerHost: "h"})
	require.ErrorIs(t, err, ErrIncompleteRegistration)
	assert.Equal(t, NewRecord(), rec)
}

func TestConfigurationRecord_ApplyRegistration_SensorRequired(t *testing.T) {
	rec := NewRecord()
	res := testRegistration
	res.SensorID = ""

	err := rec.ApplyRegistration(res)
	require.ErrorIs(t, err, ErrIncompleteRegistration)
	assert.Contains(t, err.Error(), "first_sensor_id")
	assert.Equal(t, NewRecord(), rec)

	res = testRegistration
	res.SensorSerial = ""
	require.NoError(t, rec.ApplyRegistration(res))
	assert.Equal(t, "measurements/"+res.NodeID+"/"+res.SensorID, MeasurementTopic(&rec))
}

func TestConfigurationRecord_HasBrokerCredentials_FlagRequired(t *testing.T) {
	rec := registeredRecord()
	rec.RegistrationOK = false
	assert.False(t, rec.HasBrokerCredentials())
}

func TestMask(t *testing.T) {
	assert.Equal(t, "se****", Mask("secret", 2))
	assert.Equal(t, "ab", Mask("ab", 2))
	assert.Equal(t, "", Mask("", 2))
}
