package scanwire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/icp"
)

// Frame is one published odometry step: the scan as seen by the sensor and
// the pose estimate it produced.
type Frame struct {
	SessionID      string          `json:"session_id"`
	Seq            uint64          `json:"seq"`
	TimestampNanos int64           `json:"timestamp_ns"`
	Cloud          geom.PointCloud `json:"cloud"`
	Pose           geom.Pose2d     `json:"pose"`
	Scale          float64         `json:"scale"`
	Error          float64         `json:"error"`
	State          icp.State       `json:"state"`
	Accepted       bool            `json:"accepted"`
}

// AppendWire appends the ScanFrame encoding of f. Zero-valued scalars are
// omitted as in proto3; the pose is always written.
func (f *Frame) AppendWire(b []byte) []byte {
	if f.SessionID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, f.SessionID)
	}
	if f.Seq != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, f.Seq)
	}
	if f.TimestampNanos != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.TimestampNanos))
	}
	if !f.Cloud.IsEmpty() {
		b = appendMessage(b, 4, MarshalCloud(f.Cloud))
	}
	b = appendMessage(b, 5, AppendPose(nil, f.Pose))
	if f.Scale != 0 {
		b = appendDouble(b, 6, f.Scale)
	}
	if f.Error != 0 {
		b = appendDouble(b, 7, f.Error)
	}
	if f.State != 0 {
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.State))
	}
	if f.Accepted {
		b = protowire.AppendTag(b, 9, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

var frameFieldTypes = map[protowire.Number]protowire.Type{
	1: protowire.BytesType,
	2: protowire.VarintType,
	3: protowire.VarintType,
	4: protowire.BytesType,
	5: protowire.BytesType,
	6: protowire.Fixed64Type,
	7: protowire.Fixed64Type,
	8: protowire.VarintType,
	9: protowire.VarintType,
}

// UnmarshalWire replaces f with the decoded ScanFrame.
func (f *Frame) UnmarshalWire(b []byte) error {
	var out Frame
	err := walk(b, "ScanFrame", func(fl field) error {
		want, known := frameFieldTypes[fl.num]
		if !known {
			return nil
		}
		if fl.typ != want {
			return wrongType("ScanFrame", fl)
		}

		switch fl.num {
		case 1:
			out.SessionID = string(fl.data)
		case 2:
			out.Seq = fl.u64
		case 3:
			out.TimestampNanos = int64(fl.u64)
		case 4:
			c, err := ParseCloud(fl.data)
			if err != nil {
				return err
			}
			out.Cloud = c
		case 5:
			p, err := ParsePose(fl.data)
			if err != nil {
				return err
			}
			out.Pose = p
		case 6:
			out.Scale = fl.double()
		case 7:
			out.Error = fl.double()
		case 8:
			st := icp.State(int32(fl.u64))
			if !st.Valid() {
				return fmt.Errorf("%w: ScanFrame state %d", ErrMalformed, int64(fl.u64))
			}
			out.State = st
		case 9:
			out.Accepted = protowire.DecodeBool(fl.u64)
		}
		return nil
	})
	if err != nil {
		return err
	}
	*f = out
	return nil
}

// SubscribeRequest opens a frame stream.
type SubscribeRequest struct {
	Client string `json:"client"`
	// IncludeCloud asks for the scan points in every frame; without it
	// frames carry only the pose estimate.
	IncludeCloud bool `json:"include_cloud"`
}

// AppendWire appends the SubscribeRequest encoding of r.
func (r *SubscribeRequest) AppendWire(b []byte) []byte {
	if r.Client != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, r.Client)
	}
	if r.IncludeCloud {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

// UnmarshalWire replaces r with the decoded SubscribeRequest.
func (r *SubscribeRequest) UnmarshalWire(b []byte) error {
	var out SubscribeRequest
	err := walk(b, "SubscribeRequest", func(f field) error {
		switch f.num {
		case 1:
			if f.typ != protowire.BytesType {
				return wrongType("SubscribeRequest", f)
			}
			out.Client = string(f.data)
		case 2:
			if f.typ != protowire.VarintType {
				return wrongType("SubscribeRequest", f)
			}
			out.IncludeCloud = protowire.DecodeBool(f.u64)
		}
		return nil
	})
	if err != nil {
		return err
	}
	*r = out
	return nil
}

// Message is implemented by every top-level message in this package.
type Message interface {
	AppendWire(b []byte) []byte
	UnmarshalWire(b []byte) error
}
