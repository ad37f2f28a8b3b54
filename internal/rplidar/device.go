package rplidar

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/scanmatch/internal/monitoring"
)

var logf = monitoring.Tagged("RPLidar")

const (
	// readPoll bounds how long a blocked read may delay cancellation.
	readPoll = 100 * time.Millisecond

	// maxResync is how many bytes GrabScan will discard hunting for a valid
	// node before giving up.
	maxResync = 4096

	// maxNodesPerScan caps one revolution; a start flag that never comes
	// would otherwise grow the buffer without bound.
	maxNodesPerScan = 8192

	// DefaultMotorPWM is the duty cycle used by StartMotor on ports without
	// a DTR line.
	DefaultMotorPWM = 660
)

var (
	// ErrNotScanning is returned by GrabScan before StartScan.
	ErrNotScanning = errors.New("rplidar: scan not started")
	// ErrLostSync is returned when no valid node can be found in the stream.
	ErrLostSync = errors.New("rplidar: lost sync with scan stream")
)

// Scanner yields complete sensor revolutions. Device and SyntheticRoom
// implement it.
type Scanner interface {
	GrabScan(ctx context.Context) ([]Measurement, error)
}

// Device drives an RPLIDAR over a serial port. It is not safe for concurrent
// use; one goroutine owns it.
type Device struct {
	port     Port
	scanning bool

	// pending holds the start node that ended the previous revolution.
	pending *Measurement

	resyncs int
	scans   int
}

// NewDevice wraps an open port.
func NewDevice(port Port) *Device {
	if tp, ok := port.(timeoutPort); ok {
		if err := tp.SetReadTimeout(readPoll); err != nil {
			logf("failed to set read timeout: %v", err)
		}
	}
	return &Device{port: port}
}

// Close stops any scan and closes the port.
func (d *Device) Close() error {
	if d.scanning {
		if err := d.Stop(); err != nil {
			logf("stop on close: %v", err)
		}
	}
	return d.port.Close()
}

// Stats reports how many revolutions were returned and how many bytes were
// skipped to regain node alignment.
func (d *Device) Stats() (scans, resyncs int) { return d.scans, d.resyncs }

func (d *Device) send(cmd byte, payload []byte) error {
	if _, err := d.port.Write(encodeRequest(cmd, payload)); err != nil {
		return fmt.Errorf("rplidar: write command %#02x: %w", cmd, err)
	}
	return nil
}

// readFull fills buf, retrying on read timeouts until ctx is done.
func (d *Device) readFull(ctx context.Context, buf []byte) error {
	got := 0
	for got < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := d.port.Read(buf[got:])
		got += n
		if err != nil {
			if got == len(buf) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return fmt.Errorf("rplidar: read: %w", err)
		}
	}
	return nil
}

func (d *Device) readDescriptor(ctx context.Context) (descriptor, error) {
	var b [descriptorLen]byte
	if err := d.readFull(ctx, b[:]); err != nil {
		return descriptor{}, err
	}
	return parseDescriptor(b[:])
}

func (d *Device) request(ctx context.Context, cmd byte, length uint32, typ byte) ([]byte, error) {
	if d.scanning {
		return nil, fmt.Errorf("rplidar: command %#02x not allowed while scanning", cmd)
	}
	if err := d.send(cmd, nil); err != nil {
		return nil, err
	}
	desc, err := d.readDescriptor(ctx)
	if err != nil {
		return nil, err
	}
	if err := desc.expect(length, sendModeSingle, typ); err != nil {
		return nil, err
	}
	body := make([]byte, length)
	if err := d.readFull(ctx, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Info queries model, firmware and serial number.
func (d *Device) Info(ctx context.Context) (DeviceInfo, error) {
	b, err := d.request(ctx, cmdGetInfo, infoLen, respTypeInfo)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("get info: %w", err)
	}
	return parseInfo(b), nil
}

// Health queries the device's self-test status.
func (d *Device) Health(ctx context.Context) (Health, error) {
	b, err := d.request(ctx, cmdGetHealth, healthLen, respTypeHealth)
	if err != nil {
		return Health{}, fmt.Errorf("get health: %w", err)
	}
	return parseHealth(b), nil
}

// StartScan begins continuous scanning. The motor must already be spinning.
func (d *Device) StartScan(ctx context.Context) error {
	if err := d.send(cmdScan, nil); err != nil {
		return err
	}
	desc, err := d.readDescriptor(ctx)
	if err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	if err := desc.expect(nodeLen, sendModeMultiple, respTypeScan); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	d.scanning = true
	d.pending = nil
	logf("scan started")
	return nil
}

// Stop ends scanning and discards buffered scan data.
func (d *Device) Stop() error {
	if err := d.send(cmdStop, nil); err != nil {
		return err
	}
	d.scanning = false
	d.pending = nil
	// The device needs at least 1ms before it accepts the next request.
	time.Sleep(2 * time.Millisecond)
	if fp, ok := d.port.(flushPort); ok {
		if err := fp.ResetInputBuffer(); err != nil {
			return fmt.Errorf("rplidar: flush input: %w", err)
		}
	}
	return nil
}

// Reset reboots the device core.
func (d *Device) Reset() error {
	d.scanning = false
	d.pending = nil
	return d.send(cmdReset, nil)
}

// SetMotorPWM sets the motor duty cycle on models with motor control over
// the serial protocol (A2/A3).
func (d *Device) SetMotorPWM(pwm uint16) error {
	var payload [2]byte
	binary.LittleEndian.PutUint16(payload[:], pwm)
	return d.send(cmdMotorPWM, payload[:])
}

// StartMotor spins the motor up: DTR low on ports that expose it, otherwise
// DefaultMotorPWM.
func (d *Device) StartMotor() error {
	if dp, ok := d.port.(dtrPort); ok {
		return dp.SetDTR(false)
	}
	return d.SetMotorPWM(DefaultMotorPWM)
}

// StopMotor stops the motor.
func (d *Device) StopMotor() error {
	if dp, ok := d.port.(dtrPort); ok {
		return dp.SetDTR(true)
	}
	return d.SetMotorPWM(0)
}

// readNode reads the next valid node, shifting one byte at a time past
// corrupt data.
func (d *Device) readNode(ctx context.Context) (Measurement, error) {
	var b [nodeLen]byte
	if err := d.readFull(ctx, b[:]); err != nil {
		return Measurement{}, err
	}
	for skipped := 0; ; skipped++ {
		m, err := decodeNode(b[:])
		if err == nil {
			return m, nil
		}
		if skipped >= maxResync {
			return Measurement{}, ErrLostSync
		}
		d.resyncs++
		copy(b[:], b[1:])
		if err := d.readFull(ctx, b[nodeLen-1:]); err != nil {
			return Measurement{}, err
		}
	}
}

// GrabScan returns one full revolution, starting at a node with the start
// flag set. Nodes before the first start flag are discarded.
func (d *Device) GrabScan(ctx context.Context) ([]Measurement, error) {
	if !d.scanning {
		return nil, ErrNotScanning
	}

	scan := make([]Measurement, 0, 512)
	if d.pending != nil {
		scan = append(scan, *d.pending)
		d.pending = nil
	}

	for {
		m, err := d.readNode(ctx)
		if err != nil {
			return nil, err
		}
		if m.StartFlag {
			if len(scan) > 0 {
				d.pending = &m
				d.scans++
				return scan, nil
			}
			scan = append(scan, m)
			continue
		}
		if len(scan) == 0 {
			continue
		}
		if len(scan) >= maxNodesPerScan {
			return nil, fmt.Errorf("rplidar: no start flag after %d nodes", len(scan))
		}
		scan = append(scan, m)
	}
}
