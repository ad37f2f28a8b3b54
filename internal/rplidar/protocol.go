package rplidar

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Request framing.
const (
	syncByte1 = 0xA5
	syncByte2 = 0x5A
)

// Commands.
const (
	cmdStop      = 0x25
	cmdReset     = 0x40
	cmdScan      = 0x20
	cmdGetInfo   = 0x50
	cmdGetHealth = 0x52
	cmdMotorPWM  = 0xF0
)

// Response types carried in the descriptor.
const (
	respTypeScan   = 0x81
	respTypeInfo   = 0x04
	respTypeHealth = 0x06
)

const (
	descriptorLen = 7
	nodeLen       = 5
	infoLen       = 20
	healthLen     = 3
)

// Send modes in the descriptor's top two bits.
const (
	sendModeSingle   = 0
	sendModeMultiple = 1
)

var (
	// ErrBadDescriptor reports a response descriptor that does not match the
	// request.
	ErrBadDescriptor = errors.New("rplidar: unexpected response descriptor")
	// ErrBadNode reports a scan node whose check bits are inconsistent.
	ErrBadNode = errors.New("rplidar: invalid scan node")
)

// encodeRequest frames a command. A payload is preceded by its length and
// followed by the XOR checksum of every byte sent.
func encodeRequest(cmd byte, payload []byte) []byte {
	if len(payload) == 0 {
		return []byte{syncByte1, cmd}
	}
	out := make([]byte, 0, 4+len(payload))
	out = append(out, syncByte1, cmd, byte(len(payload)))
	out = append(out, payload...)
	var sum byte
	for _, b := range out {
		sum ^= b
	}
	return append(out, sum)
}

// descriptor is the 7-byte header preceding every response.
type descriptor struct {
	Length   uint32
	SendMode uint8
	Type     byte
}

func parseDescriptor(b []byte) (descriptor, error) {
	if len(b) != descriptorLen || b[0] != syncByte1 || b[1] != syncByte2 {
		return descriptor{}, fmt.Errorf("%w: % X", ErrBadDescriptor, b)
	}
	v := binary.LittleEndian.Uint32(b[2:6])
	return descriptor{
		Length:   v & 0x3FFFFFFF,
		SendMode: uint8(v >> 30),
		Type:     b[6],
	}, nil
}

func (d descriptor) expect(length uint32, mode uint8, typ byte) error {
	if d.Length != length || d.SendMode != mode || d.Type != typ {
		return fmt.Errorf("%w: got len=%d mode=%d type=%#02x, want len=%d mode=%d type=%#02x",
			ErrBadDescriptor, d.Length, d.SendMode, d.Type, length, mode, typ)
	}
	return nil
}

// Measurement is one decoded range sample.
type Measurement struct {
	// AngleRad is the bearing as reported by the sensor: clockwise from its
	// forward axis, in [0, 2π).
	AngleRad float64 `json:"angle_rad"`
	// DistanceM is the range in metres. Zero means no return.
	DistanceM float64 `json:"distance_m"`
	// Quality is the signal strength, 0-63.
	Quality uint8 `json:"quality"`
	// StartFlag marks the first sample of a new revolution.
	StartFlag bool `json:"start_flag"`
}

// decodeNode decodes a 5-byte scan node:
//
//	b0: quality[7:2] | !S[1] | S[0]
//	b1: angle_q6[6:0] | C
//	b2: angle_q6[14:7]
//	b3-b4: distance_q2 little-endian
func decodeNode(b []byte) (Measurement, error) {
	start := b[0]&0x01 != 0
	inverse := b[0]&0x02 != 0
	if start == inverse || b[1]&0x01 == 0 {
		return Measurement{}, ErrBadNode
	}
	angleQ6 := uint16(b[2])<<7 | uint16(b[1])>>1
	distQ2 := binary.LittleEndian.Uint16(b[3:5])

	deg := float64(angleQ6) / 64
	return Measurement{
		AngleRad:  deg * math.Pi / 180,
		DistanceM: float64(distQ2) / 4 / 1000,
		Quality:   b[0] >> 2,
		StartFlag: start,
	}, nil
}

// encodeNode is the inverse of decodeNode; the synthetic device and tests use
// it to produce wire bytes.
func encodeNode(m Measurement) [nodeLen]byte {
	var b [nodeLen]byte
	b[0] = m.Quality << 2
	if m.StartFlag {
		b[0] |= 0x01
	} else {
		b[0] |= 0x02
	}
	deg := m.AngleRad * 180 / math.Pi
	angleQ6 := uint16(math.Round(deg*64)) & 0x7FFF
	b[1] = byte(angleQ6<<1) | 0x01
	b[2] = byte(angleQ6 >> 7)
	distQ2 := uint16(math.Min(math.Round(m.DistanceM*1000*4), math.MaxUint16))
	binary.LittleEndian.PutUint16(b[3:5], distQ2)
	return b
}

// DeviceInfo is the GET_INFO response.
type DeviceInfo struct {
	Model           uint8  `json:"model"`
	FirmwareMajor   uint8  `json:"firmware_major"`
	FirmwareMinor   uint8  `json:"firmware_minor"`
	Hardware        uint8  `json:"hardware"`
	SerialNumberHex string `json:"serial_number"`
}

func (i DeviceInfo) String() string {
	return fmt.Sprintf("model %d firmware %d.%02d hardware %d serial %s",
		i.Model, i.FirmwareMajor, i.FirmwareMinor, i.Hardware, i.SerialNumberHex)
}

func parseInfo(b []byte) DeviceInfo {
	return DeviceInfo{
		Model:           b[0],
		FirmwareMinor:   b[1],
		FirmwareMajor:   b[2],
		Hardware:        b[3],
		SerialNumberHex: fmt.Sprintf("%X", b[4:20]),
	}
}

// HealthStatus is the device's self-reported condition.
type HealthStatus uint8

const (
	HealthGood HealthStatus = iota
	HealthWarning
	HealthError
)

func (s HealthStatus) String() string {
	switch s {
	case HealthGood:
		return "good"
	case HealthWarning:
		return "warning"
	case HealthError:
		return "error"
	default:
		return fmt.Sprintf("HealthStatus(%d)", uint8(s))
	}
}

// Health is the GET_HEALTH response.
type Health struct {
	Status    HealthStatus `json:"status"`
	ErrorCode uint16       `json:"error_code"`
}

func parseHealth(b []byte) Health {
	return Health{Status: HealthStatus(b[0]), ErrorCode: binary.LittleEndian.Uint16(b[1:3])}
}
