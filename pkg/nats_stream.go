package pkg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStream implements events.Stream using NATS JetStream for persistent event streaming.
// It keeps no durable consumer: every replay reads the stream from the first
// retained message, so each restart sees the same history.
type NATSStream struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	topic  string
	cc     jetstream.ConsumeContext
}

// NATSStreamConfig configures a NATSStream instance.
type NATSStreamConfig struct {
	URL        string        // NATS server URL
	StreamName string        // JetStream stream name (e.g., "KITCHEN_EVENTS")
	Topic      string        // Subject replayed by Fetch (e.g., "kitchen.items")
	Subjects   []string      // Subjects captured by the stream; defaults to Topic
	MaxAge     time.Duration // How long to retain events (e.g., 24 hours)
	MaxMsgs    int64         // Maximum number of messages to retain (0 = unlimited)
}

func (cfg NATSStreamConfig) subjects() []string {
	if len(cfg.Subjects) > 0 {
		return cfg.Subjects
	}
	return []string{cfg.Topic}
}

const (
	defaultFetchBatch = 1000
	fetchMaxWait      = 2 * time.Second
)

// NewNATSStream creates a new NATSStream and ensures the stream exists.
func NewNATSStream(cfg NATSStreamConfig) (*NATSStream, error) {
	conn, err := connect(cfg.URL, "expo-stream")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamConfig := jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: cfg.subjects(),
		MaxAge:   cfg.MaxAge,
	}
	if cfg.MaxMsgs > 0 {
		streamConfig.MaxMsgs = cfg.MaxMsgs
	}

	stream, err := js.CreateOrUpdateStream(ctx, streamConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.StreamName, err)
	}

	return &NATSStream{
		conn:   conn,
		js:     js,
		stream: stream,
		topic:  cfg.Topic,
	}, nil
}

// Publish publishes a message to the stream.
func (s *NATSStream) Publish(ctx context.Context, topic string, msg []byte) error {
	_, err := s.js.Publish(ctx, topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	return nil
}

// Fetch replays every retained message on the topic, oldest first, up to the
// last one stored when the call began. batch bounds each pull from the server.
func (s *NATSStream) Fetch(ctx context.Context, batch int) ([]events.StreamMessage, error) {
	if batch <= 0 {
		batch = defaultFetchBatch
	}

	last, err := s.stream.GetLastMsgForSubject(ctx, s.topic)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last sequence: %w", err)
	}

	consumer, err := s.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.topic},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create replay consumer: %w", err)
	}

	var messages []events.StreamMessage
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgBatch, err := consumer.Fetch(batch, jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		received := 0
		reachedEnd := false
		for msg := range msgBatch.Messages() {
			received++
			metadata, err := msg.Metadata()
			if err != nil {
				continue
			}
			seq := metadata.Sequence.Stream
			if seq > last.Sequence {
				reachedEnd = true
				continue
			}
			messages = append(messages, events.StreamMessage{
				Data:      msg.Data(),
				Sequence:  seq,
				Timestamp: metadata.Timestamp.UnixNano(),
			})
			if seq == last.Sequence {
				reachedEnd = true
			}
		}
		if err := msgBatch.Error(); err != nil && received == 0 {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		// Messages can age out while replaying; an empty pull means there is
		// nothing left to deliver.
		if reachedEnd || received == 0 {
			return messages, nil
		}
	}
}

// SubscribeStream delivers messages published after the call (real-time).
func (s *NATSStream) SubscribeStream(ctx context.Context, handler events.HandlerFunc) error {
	consumer, err := s.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.topic},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create live consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		_ = handler(ctx, msg.Data())
	})
	if err != nil {
		return err
	}
	s.cc = cc
	return nil
}

// Subscribe implements events.Subscriber interface.
// For streams, topic is ignored (already configured in the stream).
func (s *NATSStream) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	return s.SubscribeStream(ctx, handler)
}

// Close stops any running consumer and closes the NATS connection.
func (s *NATSStream) Close() error {
	if s.cc != nil {
		s.cc.Stop()
	}
	s.conn.Close()
	return nil
}
