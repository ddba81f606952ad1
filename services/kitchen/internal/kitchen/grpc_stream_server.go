package kitchen

import (
	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/expo/pkg/event"
	"github.com/appetiteclub/expo/pkg/kitchenstream"
	"google.golang.org/grpc"
)

// EventStreamServer implements the gRPC EventStream service on top of the
// broadcaster.
type EventStreamServer struct {
	broadcaster *Broadcaster
	store       ItemLister
	clock       Clock
	logger      apt.Logger
}

// RegisterGRPCService registers this service with the gRPC server (apt.GRPCServiceRegistrar interface)
func (s *EventStreamServer) RegisterGRPCService(server *grpc.Server) {
	kitchenstream.Register(server, s)
}

// NewEventStreamServer creates a new gRPC streaming server
func NewEventStreamServer(broadcaster *Broadcaster, store ItemLister, clock Clock, logger apt.Logger) *EventStreamServer {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &EventStreamServer{
		broadcaster: broadcaster,
		store:       store,
		clock:       clock,
		logger:      logger,
	}
}

// Subscribe sends the active items of the requested channel as created
// events, then streams live changes until the client goes away.
func (s *EventStreamServer) Subscribe(req *kitchenstream.SubscribeRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()

	stationCode := NormalizeStation(req.Station)
	channel := GlobalChannel()
	if stationCode != "" {
		channel = StationChannel(stationCode)
	}

	// Subscribe before the snapshot so no change falls between the two.
	sub := s.broadcaster.Subscribe(channel)
	defer sub.Close()

	if s.store != nil {
		initial, err := s.store.List(ctx, ItemFilter{Station: stationCode, ActiveOnly: true})
		if err != nil {
			s.logger.Errorf("failed to load initial items: %v", err)
			return err
		}

		now := s.clock.Now()
		for _, item := range initial {
			evt := NewStatusChangeEvent(event.EventKitchenItemCreated, item, Status{}, "", now)
			if err := stream.SendMsg(&evt); err != nil {
				s.logger.Errorf("failed to send initial item: %v", err)
				return err
			}
		}
	}

	// Stream real-time updates
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&evt); err != nil {
				s.logger.Errorf("failed to send event: %v", err)
				return err
			}
		}
	}
}
