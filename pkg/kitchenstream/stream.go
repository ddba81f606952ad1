// Package kitchenstream defines the gRPC contract used to stream kitchen item
// events to displays and tools. Messages travel as JSON through a registered
// codec, so no generated stubs are needed on either side.
package kitchenstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/appetiteclub/expo/pkg/event"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	ServiceName = "kitchen.v1.EventStream"
	MethodName  = "Subscribe"
	FullMethod  = "/" + ServiceName + "/" + MethodName
	CodecName   = "json"
)

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals stream messages as JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string {
	return CodecName
}

// SubscribeRequest selects the channel to follow. An empty Station follows the
// global sous-chef channel.
type SubscribeRequest struct {
	Station string `json:"station,omitempty"`
}

// Server is implemented by the kitchen service.
type Server interface {
	Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

var subscribeStreamDesc = grpc.StreamDesc{
	StreamName:    MethodName,
	ServerStreams: true,
}

// ServiceDesc describes the EventStream service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodName,
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "kitchen/v1/event_stream",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Server).Subscribe(req, stream)
}

// Register attaches a Server implementation to a grpc.Server.
func Register(s *grpc.Server, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client opens event subscriptions against a kitchen service connection.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Subscribe opens a stream and returns a channel of events. The channel is
// closed when the stream ends; the returned error function reports why.
func (c *Client) Subscribe(ctx context.Context, station string) (<-chan event.StatusChangeEvent, func() error, error) {
	stream, err := c.conn.NewStream(ctx, &subscribeStreamDesc, FullMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open event stream: %w", err)
	}

	if err := stream.SendMsg(&SubscribeRequest{Station: station}); err != nil {
		return nil, nil, fmt.Errorf("cannot send subscribe request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, nil, fmt.Errorf("cannot close send side: %w", err)
	}

	out := make(chan event.StatusChangeEvent, 16)
	var streamErr error
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		for {
			var evt event.StatusChangeEvent
			if err := stream.RecvMsg(&evt); err != nil {
				if !errors.Is(err, io.EOF) {
					streamErr = err
				}
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				streamErr = ctx.Err()
				return
			}
		}
	}()

	wait := func() error {
		<-done
		return streamErr
	}

	return out, wait, nil
}
