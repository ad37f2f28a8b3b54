package rplidar

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the minimal interface the driver needs from a serial port.
// Tests substitute TestableSerialPort.
type Port interface {
	io.ReadWriteCloser
}

// dtrPort is implemented by ports that expose the DTR line, which gates the
// motor on A1 USB adapters.
type dtrPort interface {
	SetDTR(dtr bool) error
}

// timeoutPort is implemented by ports whose reads can time out, so blocked
// reads return periodically and the driver can observe cancellation.
type timeoutPort interface {
	SetReadTimeout(timeout time.Duration) error
}

// flushPort is implemented by ports that can discard pending input.
type flushPort interface {
	ResetInputBuffer() error
}

// Open opens the serial port at path with the given options.
func Open(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	return fmt.Sprintf("%s [USB %s:%s %s]", p.Name, p.VID, p.PID, p.Product)
}

var enumeratePorts = enumerator.GetDetailedPortsList

// ListPorts returns the serial ports present on the host, sorted by name.
func ListPorts() ([]PortInfo, error) {
	details, err := enumeratePorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}

// CP210x is the USB-UART bridge shipped with RPLIDAR A1/A2 kits.
const (
	cp210xVID = "10C4"
	cp210xPID = "EA60"
)

// GuessPort returns the first port that looks like an RPLIDAR adapter, or
// the first port at all when none match. ok is false when no ports exist.
func GuessPort(ports []PortInfo) (name string, ok bool) {
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, cp210xVID) && strings.EqualFold(p.PID, cp210xPID) {
			return p.Name, true
		}
	}
	if len(ports) > 0 {
		return ports[0].Name, true
	}
	return "", false
}
