//go:build !tinygo

package hal

import (
	"io"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"alcosense-go/types"
)

// OpenUplink opens the host serial port named in the bridge profile.
func OpenUplink(p types.BridgeProfile) (io.ReadWriteCloser, error) {
	if p.Port == "" {
		return nil, errors.New("hal: no uplink port configured")
	}
	port, err := serial.Open(p.Port, &serial.Mode{
		BaudRate: p.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "hal: open %s", p.Port)
	}
	return port, nil
}
