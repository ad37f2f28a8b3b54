package scanwire

import (
	"encoding/json"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/icp"
)

var cloudEqual = cmp.Comparer(func(a, b geom.PointCloud) bool {
	return slices.Equal(a.Points(), b.Points())
})

func sampleFrame() Frame {
	return Frame{
		SessionID:      "3f1c2a9e-0000-4000-8000-000000000001",
		Seq:            42,
		TimestampNanos: 1_760_000_000_123_456_789,
		Cloud:          geom.CloudOf(geom.Pt(0.1, -7.3), geom.Pt(1e-300, math.MaxFloat64), geom.Pt(-2, 0)),
		Pose:           geom.Pose2d{X: 1.25, Y: -0.5, Theta: -math.Pi / 3},
		Scale:          0.9999999999999999,
		Error:          1.5e-7,
		State:          icp.StateConverged,
		Accepted:       true,
	}
}

func TestPointKnownBytes(t *testing.T) {
	got := AppendPoint(nil, geom.Pt(1, 0))
	want := []byte{
		0x09, 0, 0, 0, 0, 0, 0, 0xF0, 0x3F,
		0x11, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AppendPoint mismatch (-want +got):\n%s", diff)
	}
}

func TestPointBitExact(t *testing.T) {
	for _, p := range []geom.Point{
		geom.Pt(0.1, -7.3),
		geom.Pt(math.Copysign(0, -1), math.SmallestNonzeroFloat64),
		geom.Pt(math.Inf(1), math.NaN()),
	} {
		got, err := ParsePoint(AppendPoint(nil, p))
		if err != nil {
			t.Fatalf("ParsePoint: %v", err)
		}
		if math.Float64bits(got.X) != math.Float64bits(p.X) || math.Float64bits(got.Y) != math.Float64bits(p.Y) {
			t.Errorf("round trip changed bits: %v -> %v", p, got)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	in := sampleFrame()
	b := in.AppendWire(nil)

	var out Frame
	if err := out.UnmarshalWire(b); err != nil {
		t.Fatalf("UnmarshalWire: %v", err)
	}
	if diff := cmp.Diff(in, out, cloudEqual); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestFrameZeroValue(t *testing.T) {
	var in Frame
	b := in.AppendWire(nil)
	// only the always-present pose, three zero doubles
	if want := 2 + 3*9; len(b) != want {
		t.Errorf("zero frame encodes to %d bytes, want %d", len(b), want)
	}

	out := sampleFrame()
	if err := out.UnmarshalWire(b); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out, cloudEqual); diff != "" {
		t.Errorf("decode did not reset fields (-want +got):\n%s", diff)
	}
}

func TestFrameSkipsUnknownFields(t *testing.T) {
	in := sampleFrame()
	b := in.AppendWire(nil)
	b = protowire.AppendTag(b, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, 99)
	b = protowire.AppendTag(b, 16, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 17, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)

	var out Frame
	if err := out.UnmarshalWire(b); err != nil {
		t.Fatalf("UnmarshalWire: %v", err)
	}
	if diff := cmp.Diff(in, out, cloudEqual); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	full := func() []byte { f := sampleFrame(); return f.AppendWire(nil) }()

	wrongPointType := protowire.AppendTag(nil, 1, protowire.VarintType)
	wrongPointType = protowire.AppendVarint(wrongPointType, 1)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"truncated frame", func() error { var f Frame; return f.UnmarshalWire(full[:len(full)-3]) }},
		{"bad tag", func() error { var f Frame; return f.UnmarshalWire([]byte{0x80}) }},
		{"wrong point wire type", func() error { _, err := ParsePoint(wrongPointType); return err }},
		{"wrong frame wire type", func() error {
			b := protowire.AppendTag(nil, 1, protowire.VarintType)
			b = protowire.AppendVarint(b, 3)
			var f Frame
			return f.UnmarshalWire(b)
		}},
		{"unknown state", func() error {
			b := protowire.AppendTag(nil, 8, protowire.VarintType)
			b = protowire.AppendVarint(b, 7)
			var f Frame
			return f.UnmarshalWire(b)
		}},
		{"negative state", func() error {
			b := protowire.AppendTag(nil, 8, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(^uint32(0)))
			var f Frame
			return f.UnmarshalWire(b)
		}},
		{"bad nested point", func() error {
			b := protowire.AppendTag(nil, 1, protowire.BytesType)
			b = protowire.AppendBytes(b, wrongPointType)
			_, err := ParseCloud(b)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestCloudPreservesOrder(t *testing.T) {
	pts := make([]geom.Point, 100)
	for i := range pts {
		pts[i] = geom.FromPolar(float64(i)*0.0628, 1+float64(i)/100)
	}
	in := geom.NewPointCloud(pts)

	out, err := ParseCloud(MarshalCloud(in))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in.Points(), out.Points()); diff != "" {
		t.Errorf("cloud mismatch (-want +got):\n%s", diff)
	}

	empty, err := ParseCloud(nil)
	if err != nil || !empty.IsEmpty() {
		t.Errorf("ParseCloud(nil) = %v, %v; want empty cloud", empty, err)
	}
}

func TestSubscribeRequestRoundTrip(t *testing.T) {
	in := SubscribeRequest{Client: "viewer", IncludeCloud: true}
	var out SubscribeRequest
	if err := out.UnmarshalWire(in.AppendWire(nil)); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestFrameJSON(t *testing.T) {
	in := sampleFrame()
	in.Cloud = geom.CloudOf(geom.Pt(1, 2))
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["state"] != "converged" {
		t.Errorf("state = %v, want \"converged\"", raw["state"])
	}

	var out Frame
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out, cloudEqual); diff != "" {
		t.Errorf("JSON round trip mismatch (-want +got):\n%s", diff)
	}
}
