package notifier_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ogero/stremio-addonhub/internal/notifier"
	"github.com/stretchr/testify/assert"
)

func TestChannel_PublishInSubscriptionOrder(t *testing.T) {
	c := notifier.NewChannel("test")

	var calls []string
	c.Subscribe(func(ctx context.Context) error { calls = append(calls, "a"); return nil })
	c.Subscribe(func(ctx context.Context) error { calls = append(calls, "b"); return nil })
	c.Subscribe(func(ctx context.Context) error { calls = append(calls, "c"); return nil })

	c.Publish(context.Background())

	assert.Equal(t, []string{"a", "b", "c"}, calls)
}

func TestChannel_FaultyListenersDoNotBlockOthers(t *testing.T) {
	c := notifier.NewChannel("test")

	var calls []string
	c.Subscribe(func(ctx context.Context) error { return errors.New("boom") })
	c.Subscribe(func(ctx context.Context) error { panic("kaboom") })
	c.Subscribe(func(ctx context.Context) error { calls = append(calls, "last"); return nil })

	assert.NotPanics(t, func() { c.Publish(context.Background()) })
	assert.Equal(t, []string{"last"}, calls)
}

func TestChannel_Unsubscribe(t *testing.T) {
	c := notifier.NewChannel("test")

	var calls []string
	a := c.Subscribe(func(ctx context.Context) error { calls = append(calls, "a"); return nil })
	c.Subscribe(func(ctx context.Context) error { calls = append(calls, "b"); return nil })

	a.Unsubscribe()
	a.Unsubscribe()
	c.Publish(context.Background())

	assert.Equal(t, []string{"b"}, calls)
}

func TestChannel_UnsubscribeDuringPublish(t *testing.T) {
	c := notifier.NewChannel("test")

	var calls []string
	var b notifier.Subscription
	c.Subscribe(func(ctx context.Context) error { calls = append(calls, "a"); b.Unsubscribe(); return nil })
	b = c.Subscribe(func(ctx context.Context) error { calls = append(calls, "b"); return nil })

	c.Publish(context.Background())
	c.Publish(context.Background())

	// the first publish works on the listeners subscribed when it started
	assert.Equal(t, []string{"a", "b", "a"}, calls)
}

func TestNotifier_ChannelsAreIndependent(t *testing.T) {
	n := notifier.New()

	var addons, catalogs int
	n.Addons.Subscribe(func(ctx context.Context) error { addons++; return nil })
	n.Catalogs.Subscribe(func(ctx context.Context) error { catalogs++; return nil })

	n.Addons.Publish(context.Background())

	assert.Equal(t, 1, addons)
	assert.Equal(t, 0, catalogs)

	n.Catalogs.Publish(context.Background())
	n.Catalogs.Publish(context.Background())

	assert.Equal(t, 1, addons)
	assert.Equal(t, 2, catalogs)
}
