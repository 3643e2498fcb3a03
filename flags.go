package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagShowSecrets = &cli.BoolFlag{
	Name:    "show-secrets",
	Usage:   "log and serve secrets unmasked, debugging only",
	EnvVars: []string{"SHOW_SECRETS"},
}

var FlagStorageDir = &cli.StringFlag{
	Name:    "storage-dir",
	Usage:   "directory of the persisted config image, empty keeps it in memory",
	EnvVars: []string{"STORAGE_DIR"},
	Value:   "/var/lib/pms-to-mqtt",
}

var FlagSerialDevice = &cli.StringFlag{
	Name:    "serial-device",
	Usage:   "PMS5003 serial port, empty disables the sensor",
	EnvVars: []string{"SERIAL_DEVICE"},
	Value:   "/dev/ttyS0",
}

var FlagSerialBaud = &cli.IntFlag{
	Name:    "serial-baud",
	EnvVars: []string{"SERIAL_BAUD"},
	Value:   9600,
}

var FlagNetwork = &cli.BoolFlag{
	Name:    "network",
	Usage:   "use real wifi, registration and mqtt transports instead of stubs",
	EnvVars: []string{"ENABLE_NETWORK"},
	Value:   false,
}

var FlagWifiInterface = &cli.StringFlag{
	Name:    "wifi-interface",
	EnvVars: []string{"WIFI_INTERFACE"},
	Value:   "wlan0",
}

var FlagRegistrationURL = &cli.StringFlag{
	Name:    "registration-url",
	Usage:   "https://backend/api/register, required with --network",
	EnvVars: []string{"REGISTRATION_URL"},
}

var FlagRegistrationTimeout = &cli.DurationFlag{
	Name:    "registration-timeout",
	EnvVars: []string{"REGISTRATION_TIMEOUT"},
	Value:   20 * time.Second,
}

var FlagMQTTConnectTimeout = &cli.DurationFlag{
	Name:    "mqtt-connect-timeout",
	EnvVars: []string{"MQTT_CONNECT_TIMEOUT"},
	Value:   15 * time.Second,
}

var FlagMQTTPublishTimeout = &cli.DurationFlag{
	Name:    "mqtt-publish-timeout",
	EnvVars: []string{"MQTT_PUBLISH_TIMEOUT"},
	Value:   5 * time.Second,
}

var FlagPayloadFormat = &cli.StringFlag{
	Name:    "payload-format",
	Usage:   "one of: [json, cbor]",
	EnvVars: []string{"PAYLOAD_FORMAT"},
	Value:   "json",
}

var FlagPortalListen = &cli.StringFlag{
	Name:    "portal-listen",
	EnvVars: []string{"PORTAL_LISTEN"},
	Value:   ":80",
}

var FlagLoopInterval = &cli.DurationFlag{
	Name:    "loop-interval",
	EnvVars: []string{"LOOP_INTERVAL"},
	Value:   10 * time.Millisecond,
}
