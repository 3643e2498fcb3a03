package adapters

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"pms-to-mqtt/application"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNodeID = "6f1c2b8e-1d5a-4a57-9c0f-0a4d3e2b1c9d"

func registrationServer(t *testing.T, status int, body string, got *application.RegistrationRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		if got != nil {
			raw, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.NoError(t, json.Unmarshal(raw, got))
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPRegistrar_Register(t *testing.T) {
	var got application.RegistrationRequest
	srv := registrationServer(t, http.StatusOK, `{"success":true,"msg":"ok","result":{
		"node_id":"`+testNodeID+`","mqtt_host":"broker.local","mqtt_port":8883,
		"mqtt_username":"u","mqtt_password":"p",
		"first_sensor_id":"s-1","first_sensor_sn":"SN1"}}`, &got)

	r, err := NewHTTPRegistrar(HTTPRegistrarParams{URL: srv.URL})
	require.NoError(t, err)

	res, err := r.Register(context.Background(), application.RegistrationRequest{
		OneTimeKey: "KEY",
		OwnerEmail: "a@b.c",
		DeviceName: "kitchen",
	})
	require.NoError(t, err)

	assert.Equal(t, "KEY", got.OneTimeKey)
	assert.Equal(t, "a@b.c", got.OwnerEmail)
	assert.Equal(t, "kitchen", got.DeviceName)

	assert.Equal(t, testNodeID, res.NodeID)
	assert.Equal(t, "broker.local", res.BrokerHost)
	assert.Equal(t, uint16(8883), res.BrokerPort)
	assert.Equal(t, "u", res.BrokerUsername)
	assert.Equal(t, "p", res.BrokerPassword)
	assert.Equal(t, "s-1", res.SensorID)
	assert.Equal(t, "SN1", res.SensorSerial)
}

func TestHTTPRegistrar_Register_WrappedBody(t *testing.T) {
	srv := registrationServer(t, http.StatusCreated, `HTTP gateway trace
{"success":true,"result":{"node_id":"`+testNodeID+`","mqtt_host":"h","mqtt_port":1883,"mqtt_username":"u","mqtt_password":"p","first_sensor_id":"s-1"}}
-- end`, nil)

	r, err := NewHTTPRegistrar(HTTPRegistrarParams{URL: srv.URL})
	require.NoError(t, err)

	res, err := r.Register(context.Background(), application.RegistrationRequest{OneTimeKey: "KEY"})
	require.NoError(t, err)
	assert.Equal(t, "h", res.BrokerHost)
}

func TestHTTPRegistrar_Register_Rejected(t *testing.T) {
	srv := registrationServer(t, http.StatusOK, `{"success":false,"msg":"key already used"}`, nil)

	r, err := NewHTTPRegistrar(HTTPRegistrarParams{URL: srv.URL})
	require.NoError(t, err)

	_, err = r.Register(context.Background(), application.RegistrationRequest{OneTimeKey: "KEY"})
	require.ErrorIs(t, err, application.ErrRegistrationFailed)
	assert.Contains(t, err.Error(), "key already used")
}

func TestHTTPRegistrar_Register_Status(t *testing.T) {
	srv := registrationServer(t, http.StatusInternalServerError, `oops`, nil)

	r, err := NewHTTPRegistrar(HTTPRegistrarParams{URL: srv.URL})
	require.NoError(t, err)

	_, err = r.Register(context.Background(), application.RegistrationRequest{OneTimeKey: "KEY"})
	require.ErrorIs(t, err, ErrRegistrationStatus)
}

func TestHTTPRegistrar_Register_Incomplete(t *testing.T) {
	srv := registrationServer(t, http.StatusOK, `{"success":true,"result":{"node_id":"`+testNodeID+`","mqtt_host":"h"}}`, nil)

	r, err := NewHTTPRegistrar(HTTPRegistrarParams{URL: srv.URL})
	require.NoError(t, err)

	_, err = r.Register(context.Background(), application.RegistrationRequest{OneTimeKey: "KEY"})
	require.ErrorIs(t, err, application.ErrIncompleteRegistration)
}

func TestHTTPRegistrar_Register_BadNodeID(t *testing.T) {
	srv := registrationServer(t, http.StatusOK, `{"success":true,"result":{"node_id":"not-a-uuid","mqtt_host":"h","mqtt_port":1883,"mqtt_username":"u","mqtt_password":"p","first_sensor_id":"s-1"}}`, nil)

	r, err := NewHTTPRegistrar(HTTPRegistrarParams{URL: srv.URL})
	require.NoError(t, err)

	_, err = r.Register(context.Background(), application.RegistrationRequest{OneTimeKey: "KEY"})
	require.ErrorIs(t, err, application.ErrIncompleteRegistration)
}

func TestHTTPRegistrar_Register_ContextTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	r, err := NewHTTPRegistrar(HTTPRegistrarParams{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = r.Register(ctx, application.RegistrationRequest{OneTimeKey: "KEY"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPRegistrar_NoURL(t *testing.T) {
	_, err := NewHTTPRegistrar(HTTPRegistrarParams{})
	require.Error(t, err)
}
