// Package scanwire encodes scans and pose estimates in the protobuf wire
// format, field for field compatible with this schema:
//
//	message Point      { double x = 1; double y = 2; }
//	message Pose2d     { double x = 1; double y = 2; double theta = 3; }
//	message PointCloud { repeated Point points = 1; }
//	message ScanFrame {
//	  string     session_id   = 1;
//	  uint64     seq          = 2;
//	  int64      timestamp_ns = 3;
//	  PointCloud cloud        = 4;
//	  Pose2d     pose         = 5;
//	  double     scale        = 6;
//	  double     error        = 7;
//	  int32      state        = 8;
//	  bool       accepted     = 9;
//	}
//	message SubscribeRequest { string client = 1; bool include_cloud = 2; }
//
// Doubles travel as fixed64, so values round-trip bit for bit. Unknown
// fields are skipped on decode. JSON is available through the struct tags.
package scanwire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/scanmatch/internal/geom"
)

// ErrMalformed wraps every decode failure.
var ErrMalformed = errors.New("scanwire: malformed message")

func malformed(what string, n int) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, what, protowire.ParseError(n))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// field is one decoded tag and its raw value.
type field struct {
	num  protowire.Number
	typ  protowire.Type
	u64  uint64 // varint and fixed64 values
	data []byte // bytes values
}

func (f field) double() float64 { return math.Float64frombits(f.u64) }

// walk calls fn for every field in b. Unknown wire types are skipped; a
// known field with the wrong wire type is an error reported by fn.
func walk(b []byte, what string, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(what+" tag", n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u64, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.u64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.data, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return malformed(fmt.Sprintf("%s field %d", what, num), n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func wrongType(what string, f field) error {
	return fmt.Errorf("%w: %s field %d has wire type %d", ErrMalformed, what, f.num, f.typ)
}

// AppendPoint appends p as a Point message body.
func AppendPoint(b []byte, p geom.Point) []byte {
	b = appendDouble(b, 1, p.X)
	return appendDouble(b, 2, p.Y)
}

// ParsePoint decodes a Point message body.
func ParsePoint(b []byte) (geom.Point, error) {
	var p geom.Point
	err := walk(b, "Point", func(f field) error {
		switch f.num {
		case 1, 2:
			if f.typ != protowire.Fixed64Type {
				return wrongType("Point", f)
			}
			if f.num == 1 {
				p.X = f.double()
			} else {
				p.Y = f.double()
			}
		}
		return nil
	})
	return p, err
}

// AppendPose appends p as a Pose2d message body.
func AppendPose(b []byte, p geom.Pose2d) []byte {
	b = appendDouble(b, 1, p.X)
	b = appendDouble(b, 2, p.Y)
	return appendDouble(b, 3, p.Theta)
}

// ParsePose decodes a Pose2d message body.
func ParsePose(b []byte) (geom.Pose2d, error) {
	var p geom.Pose2d
	err := walk(b, "Pose2d", func(f field) error {
		if f.num < 1 || f.num > 3 {
			return nil
		}
		if f.typ != protowire.Fixed64Type {
			return wrongType("Pose2d", f)
		}
		switch f.num {
		case 1:
			p.X = f.double()
		case 2:
			p.Y = f.double()
		case 3:
			p.Theta = f.double()
		}
		return nil
	})
	return p, err
}

// AppendCloud appends c as a PointCloud message body.
func AppendCloud(b []byte, c geom.PointCloud) []byte {
	var scratch []byte
	for _, p := range c.All() {
		scratch = AppendPoint(scratch[:0], p)
		b = appendMessage(b, 1, scratch)
	}
	return b
}

// ParseCloud decodes a PointCloud message body.
func ParseCloud(b []byte) (geom.PointCloud, error) {
	var pts []geom.Point
	err := walk(b, "PointCloud", func(f field) error {
		if f.num != 1 {
			return nil
		}
		if f.typ != protowire.BytesType {
			return wrongType("PointCloud", f)
		}
		p, err := ParsePoint(f.data)
		if err != nil {
			return err
		}
		pts = append(pts, p)
		return nil
	})
	if err != nil {
		return geom.PointCloud{}, err
	}
	return geom.NewPointCloud(pts), nil
}

// MarshalCloud encodes c as a standalone PointCloud message.
func MarshalCloud(c geom.PointCloud) []byte {
	return AppendCloud(make([]byte, 0, c.Len()*22), c)
}
