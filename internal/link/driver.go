// Package link owns the serial connection to the robot: it scans candidate
// ports, probes each for valid telemetry, keeps the single active
// connection and drops it on any I/O fault so the next cycle rescans.
package link

import (
	"fmt"
	"io"
	"log"
	"time"

	"go.bug.st/serial"
)

// Port is the byte stream of one opened device. Read must return (0, nil)
// when the per-read timeout expires without data.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Driver enumerates and opens candidate ports.
type Driver interface {
	Ports() ([]string, error)
	Open(name string, baudRate int, readTimeout time.Duration) (Port, error)
}

// SerialDriver opens real serial devices.
type SerialDriver struct{}

// Ports lists the serial ports present on the host.
func (SerialDriver) Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("link: list ports: %w", err)
	}
	return ports, nil
}

// Open opens name as 8N1 at baudRate. DTR is held low so boards that reset
// on DTR keep running while we probe them.
func (SerialDriver) Open(name string, baudRate int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("link: open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("link: set timeout on %s: %w", name, err)
	}
	if err := port.SetDTR(false); err != nil {
		log.Printf("[link] %s: clear DTR: %v", name, err)
	}
	return port, nil
}
