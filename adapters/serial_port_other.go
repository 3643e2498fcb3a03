//go:build !linux

package adapters

import (
	"io"

	"github.com/juju/errors"
)

func openSerialPort(device string, baud int) (io.ReadCloser, error) {
	return nil, errors.NotSupportedf("serial port %s on this platform", device)
}
