package visualiser

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/banshee-data/scanmatch/internal/scanwire"
)

// CodecName is the gRPC content-subtype both ends use for scanwire messages.
const CodecName = "scanwire"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec carries scanwire messages over gRPC in place of generated protobuf
// types. The bytes on the wire are ordinary protobuf.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(scanwire.Message)
	if !ok {
		return nil, fmt.Errorf("scanwire codec: cannot marshal %T", v)
	}
	return m.AppendWire(nil), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(scanwire.Message)
	if !ok {
		return fmt.Errorf("scanwire codec: cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}

func (Codec) Name() string { return CodecName }
