package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/appetiteclub/expo/cmd/utils/internal/seeding"
	"github.com/appetiteclub/expo/pkg/event"
	"github.com/fatih/color"
)

type recordingPublisher struct {
	topics   []string
	payloads [][]byte
	failOn   int
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if p.failOn > 0 && len(p.topics)+1 == p.failOn {
		return errors.New("broker down")
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestPublishBatchOrdersFirst(t *testing.T) {
	fixture, err := seeding.LoadDemo()
	if err != nil {
		t.Fatalf("LoadDemo() error = %v", err)
	}
	batch := fixture.Events(time.Now())

	pub := &recordingPublisher{}
	if err := publishBatch(context.Background(), pub, batch); err != nil {
		t.Fatalf("publishBatch() error = %v", err)
	}

	want := len(batch.Orders) + len(batch.Items)
	if len(pub.topics) != want {
		t.Fatalf("published %d messages, want %d", len(pub.topics), want)
	}
	for i, topic := range pub.topics {
		wantTopic := event.OrderItemsTopic
		if i < len(batch.Orders) {
			wantTopic = event.OrdersTopic
		}
		if topic != wantTopic {
			t.Errorf("message %d topic = %s, want %s", i, topic, wantTopic)
		}
	}

	var first event.OrderEvent
	if err := json.Unmarshal(pub.payloads[0], &first); err != nil {
		t.Fatalf("unmarshal first payload: %v", err)
	}
	if first.EventType != event.EventOrderCreated || first.DisplayNumber != "201" {
		t.Errorf("first payload = %+v", first)
	}
}

func TestPublishBatchStopsOnError(t *testing.T) {
	fixture, _ := seeding.LoadDemo()
	pub := &recordingPublisher{failOn: 2}

	err := publishBatch(context.Background(), pub, fixture.Events(time.Now()))
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Errorf("publishBatch() error = %v, want broker failure", err)
	}
	if len(pub.topics) != 1 {
		t.Errorf("published %d messages before failing, want 1", len(pub.topics))
	}
}

func TestFormatEvent(t *testing.T) {
	color.NoColor = true

	evt := event.StatusChangeEvent{
		EventType:    event.EventKitchenItemStatusChanged,
		OccurredAt:   time.Now(),
		Station:      "grill",
		NewStatus:    "cooking",
		Quantity:     2,
		MenuItemName: "Ribeye Steak",
		Notes:        "medium rare",
		IsUrgent:     true,
		ActorID:      "chef-1",
	}

	line := formatEvent(evt)
	for _, want := range []string{"status_changed", "GRILL", "cooking", "2x Ribeye Steak", "(medium rare)", "URGENT", "by chef-1"} {
		if !strings.Contains(line, want) {
			t.Errorf("formatEvent() = %q, missing %q", line, want)
		}
	}

	evt.IsUrgent = false
	evt.Notes = ""
	evt.ActorID = ""
	line = formatEvent(evt)
	for _, unwanted := range []string{"URGENT", "(", " by "} {
		if strings.Contains(line, unwanted) {
			t.Errorf("formatEvent() = %q, unexpected %q", line, unwanted)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := VersionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := out.String(); got != "expo-utils version 0.1.0\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRootCmdTree(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"seed-demo", "clear-demo", "reset-db", "tail", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Find(%s) = %v, %v", name, cmd, err)
		}
	}

	tail, _, _ := root.Find([]string{"tail"})
	if tail.Flags().Lookup("station") == nil {
		t.Error("tail has no --station flag")
	}
}
