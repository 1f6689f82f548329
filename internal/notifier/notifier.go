// Package notifier broadcasts in-process change events to interested collaborators.
package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/ogero/stremio-addonhub/internal/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Listener reacts to a change. Returned errors are logged and never stop the delivery to other listeners.
type Listener func(ctx context.Context) error

// Subscription is the token returned by Channel.Subscribe.
type Subscription struct {
	channel *Channel
	id      uint64
}

// Unsubscribe removes the listener from its channel. Calling it more than once is a no-op.
func (s Subscription) Unsubscribe() {
	if s.channel == nil {
		return
	}
	s.channel.remove(s.id)
}

type subscriber struct {
	id       uint64
	listener Listener
}

// Channel is one kind of change event with its own subscriber list.
type Channel struct {
	name string

	mu          sync.Mutex
	nextID      uint64
	subscribers []subscriber
}

// NewChannel creates an empty channel. The name only shows up in logs and spans.
func NewChannel(name string) *Channel {
	return &Channel{name: name}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Subscribe appends listener to the channel.
func (c *Channel) Subscribe(listener Listener) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.subscribers = append(c.subscribers, subscriber{id: c.nextID, listener: listener})
	return Subscription{channel: c, id: c.nextID}
}

func (c *Channel) remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.subscribers {
		if s.id == id {
			c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
			return
		}
	}
}

// Publish invokes every listener subscribed at call time, synchronously and in subscription order.
// A listener error or panic is logged and delivery continues with the next one.
func (c *Channel) Publish(ctx context.Context) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "notifier.Channel.Publish")
	defer span.End()

	c.mu.Lock()
	subscribers := make([]subscriber, len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.mu.Unlock()

	span.SetAttributes(
		attribute.String("notifier.channel", c.name),
		attribute.Int("notifier.listeners", len(subscribers)),
	)

	for _, s := range subscribers {
		if err := c.deliver(ctx, s.listener); err != nil {
			common.Log.WarnContext(ctx, "Failed to notifier.Listener", "channel", c.name, "err", err)
			span.RecordError(err)
		}
	}
}

func (c *Channel) deliver(ctx context.Context, listener Listener) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return listener(ctx)
}

// Notifier groups the two independent change channels.
type Notifier struct {
	// Addons fires after an addon is installed or removed.
	Addons *Channel
	// Catalogs fires after catalog preferences change.
	Catalogs *Channel
}

// New creates a Notifier with empty channels.
func New() *Notifier {
	return &Notifier{
		Addons:   NewChannel("addons"),
		Catalogs: NewChannel("catalogs"),
	}
}
