package visualiser

import (
	"context"

	"google.golang.org/grpc"

	"github.com/banshee-data/scanmatch/internal/scanwire"
)

const (
	serviceName     = "scanmatch.v1.ScanStream"
	subscribeMethod = "/" + serviceName + "/Subscribe"
)

// ScanStreamServer is the server API for the ScanStream service.
type ScanStreamServer interface {
	// Subscribe streams frames until the client goes away or the server
	// stops.
	Subscribe(req *scanwire.SubscribeRequest, stream FrameSender) error
}

// FrameSender is the server side of a Subscribe stream.
type FrameSender interface {
	Send(*scanwire.Frame) error
	Context() context.Context
}

type frameSender struct {
	grpc.ServerStream
}

func (s frameSender) Send(f *scanwire.Frame) error {
	return s.ServerStream.SendMsg(f)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(scanwire.SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ScanStreamServer).Subscribe(req, frameSender{stream})
}

// ServiceDesc describes the ScanStream service:
//
//	service ScanStream {
//	  rpc Subscribe(SubscribeRequest) returns (stream ScanFrame);
//	}
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ScanStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "scanmatch/v1/scanstream.proto",
}

// RegisterScanStreamServer registers srv on s.
func RegisterScanStreamServer(s grpc.ServiceRegistrar, srv ScanStreamServer) {
	s.RegisterService(&ServiceDesc, srv)
}
