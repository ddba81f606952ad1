package kitchen

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/expo/pkg/event"
	"github.com/google/uuid"
)

const (
	subscriberBuffer = 100
	publishTimeout   = 2 * time.Second
)

// Channel names a logical notification channel: the global sous-chef channel
// or the channel of one station.
type Channel struct {
	Station string
}

// GlobalChannel receives every change.
func GlobalChannel() Channel {
	return Channel{}
}

// StationChannel receives changes for items routed to station.
func StationChannel(station string) Channel {
	return Channel{Station: NormalizeStation(station)}
}

func (c Channel) IsGlobal() bool {
	return c.Station == ""
}

func (c Channel) String() string {
	if c.IsGlobal() {
		return "global"
	}
	return "station:" + c.Station
}

// Notifier accepts events for asynchronous delivery. Notify never blocks and
// never fails from the caller's point of view.
type Notifier interface {
	Notify(evt event.StatusChangeEvent)
}

// Subscription yields events for one channel until closed.
type Subscription struct {
	ID      string
	Channel Channel

	events chan event.StatusChangeEvent
	b      *Broadcaster
	once   sync.Once
}

func (s *Subscription) Events() <-chan event.StatusChangeEvent {
	return s.events
}

// Close detaches the subscription and closes its event channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.remove(s)
	})
}

// Broadcaster fans item events out to in-process subscriptions and to the
// message broker. Dispatch runs on its own goroutine, off the command path.
type Broadcaster struct {
	publisher events.Publisher
	logger    apt.Logger
	metrics   *Metrics

	queue chan event.StatusChangeEvent

	mu          sync.RWMutex
	subscribers map[string]*Subscription

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewBroadcaster creates a broadcaster. publisher is optional; without it
// events only reach in-process subscriptions.
func NewBroadcaster(publisher events.Publisher, bufferSize int, metrics *Metrics, logger apt.Logger) *Broadcaster {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBroadcastBuffer
	}
	return &Broadcaster{
		publisher:   publisher,
		logger:      logger,
		metrics:     metrics,
		queue:       make(chan event.StatusChangeEvent, bufferSize),
		subscribers: make(map[string]*Subscription),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the dispatch loop.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.startOnce.Do(func() {
		go b.run()
	})
	return nil
}

// Stop drains queued events, then closes every subscription.
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		close(b.stop)
	})

	started := false
	b.startOnce.Do(func() {
		// Never started: nothing is running to drain the queue.
		close(b.done)
	})
	select {
	case <-b.done:
		started = true
	case <-ctx.Done():
		return ctx.Err()
	}

	if started {
		b.closeAll()
	}
	return nil
}

// Notify queues an event. When the queue is full the event is dropped and
// counted; displays recover on their next pull.
func (b *Broadcaster) Notify(evt event.StatusChangeEvent) {
	select {
	case b.queue <- evt:
		b.metrics.RecordBroadcast()
	default:
		b.metrics.RecordDropped("queue_full")
		b.logger.Info("broadcast queue full, dropping event", "item_id", evt.ItemID, "event_type", evt.EventType)
	}
}

// Subscribe attaches a new subscription to channel. Once the broadcaster is
// stopping, the subscription comes back already closed.
func (b *Broadcaster) Subscribe(channel Channel) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Channel: channel,
		events:  make(chan event.StatusChangeEvent, subscriberBuffer),
		b:       b,
	}

	b.mu.Lock()
	select {
	case <-b.stop:
		b.mu.Unlock()
		close(sub.events)
		sub.once.Do(func() {})
		b.logger.Debug("broadcaster stopped, subscription closed", "channel", channel.String())
		return sub
	default:
	}
	b.subscribers[sub.ID] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	b.metrics.SetSubscribers(count)
	b.logger.Info("new kitchen events subscriber", "subscriber_id", sub.ID, "channel", channel.String())
	return sub
}

// SubscriberCount returns the number of open subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broadcaster) run() {
	defer close(b.done)

	for {
		select {
		case evt := <-b.queue:
			b.dispatch(evt)
		case <-b.stop:
			for {
				select {
				case evt := <-b.queue:
					b.dispatch(evt)
				default:
					return
				}
			}
		}
	}
}

func (b *Broadcaster) dispatch(evt event.StatusChangeEvent) {
	b.fanOut(evt)
	b.publish(evt)
}

// fanOut delivers to the global channel and to the item's station channel.
func (b *Broadcaster) fanOut(evt event.StatusChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		if !sub.Channel.IsGlobal() && sub.Channel.Station != evt.Station {
			continue
		}
		select {
		case sub.events <- evt:
		default:
			// Subscriber too slow - skip this event
			b.metrics.RecordDropped("subscriber_full")
			b.logger.Info("subscriber channel full, dropping event", "subscriber_id", id)
		}
	}
}

func (b *Broadcaster) publish(evt event.StatusChangeEvent) {
	if b.publisher == nil {
		return
	}

	data, err := json.Marshal(evt)
	if err != nil {
		b.metrics.RecordDropped("encode")
		b.logger.Error("failed to encode kitchen event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	topics := []string{event.KitchenItemsTopic}
	if evt.Station != "" {
		topics = append(topics, event.StationTopic(evt.Station))
	}

	for _, topic := range topics {
		if err := b.publisher.Publish(ctx, topic, data); err != nil {
			b.metrics.RecordDropped("broker")
			b.logger.Error("failed to publish kitchen event", "topic", topic, "item_id", evt.ItemID, "error", err)
		}
	}
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subscribers[sub.ID]; ok {
		delete(b.subscribers, sub.ID)
		close(sub.events)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	b.metrics.SetSubscribers(count)
	b.logger.Info("kitchen events subscriber disconnected", "subscriber_id", sub.ID)
}

func (b *Broadcaster) closeAll() {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.Close()
	}
}
