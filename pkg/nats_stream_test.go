package pkg

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

func runJetStream(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		t.Fatalf("server.NewServer() error = %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func openStream(t *testing.T, url string) *NATSStream {
	t.Helper()
	s, err := NewNATSStream(NATSStreamConfig{
		URL:        url,
		StreamName: "TEST_EVENTS",
		Topic:      "kitchen.items",
		Subjects:   []string{"kitchen.items", "kitchen.items.>"},
		MaxAge:     time.Hour,
	})
	if err != nil {
		t.Fatalf("NewNATSStream() error = %v", err)
	}
	return s
}

func TestNATSStreamReplaysOnEveryRestart(t *testing.T) {
	url := runJetStream(t)
	ctx := context.Background()

	s := openStream(t, url)
	for i := 1; i <= 3; i++ {
		if err := s.Publish(ctx, "kitchen.items", []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if err := s.Publish(ctx, "kitchen.items.grill", []byte(`{"station":true}`)); err != nil {
			t.Fatalf("Publish() station error = %v", err)
		}
	}
	_ = s.Close()

	for boot := 1; boot <= 2; boot++ {
		s := openStream(t, url)
		msgs, err := s.Fetch(ctx, 100)
		_ = s.Close()
		if err != nil {
			t.Fatalf("boot %d: Fetch() error = %v", boot, err)
		}
		if len(msgs) != 3 {
			t.Fatalf("boot %d: Fetch() returned %d messages, want 3", boot, len(msgs))
		}
		for i, msg := range msgs {
			want := fmt.Sprintf(`{"n":%d}`, i+1)
			if string(msg.Data) != want {
				t.Errorf("boot %d: msgs[%d] = %s, want %s", boot, i, msg.Data, want)
			}
		}
	}
}

func TestNATSStreamFetchPullsInBatches(t *testing.T) {
	url := runJetStream(t)
	ctx := context.Background()

	s := openStream(t, url)
	defer s.Close()

	const total = 25
	for i := 0; i < total; i++ {
		if err := s.Publish(ctx, "kitchen.items", []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	msgs, err := s.Fetch(ctx, 4)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(msgs) != total {
		t.Fatalf("Fetch() returned %d messages, want %d", len(msgs), total)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Sequence <= msgs[i-1].Sequence {
			t.Fatalf("sequence out of order at %d: %d after %d", i, msgs[i].Sequence, msgs[i-1].Sequence)
		}
	}
}

func TestNATSStreamFetchEmpty(t *testing.T) {
	url := runJetStream(t)

	s := openStream(t, url)
	defer s.Close()

	msgs, err := s.Fetch(context.Background(), 10)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Fetch() returned %d messages, want 0", len(msgs))
	}
}
