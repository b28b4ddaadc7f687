package notification

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"payments-gateway/internal/metrics"
	"payments-gateway/internal/worker"
)

const (
	deliveryTimeout  = 30 * time.Second
	maxDeliveredKeys = 10000
)

// Dispatcher fans an event out to its channels on the worker pool.
type Dispatcher struct {
	pool     *worker.Pool
	channels map[ChannelName]Channel
	logger   *slog.Logger

	mu        sync.Mutex
	delivered map[string]bool
}

// NewDispatcher registers channels by name. A nil pool delivers synchronously.
func NewDispatcher(pool *worker.Pool, logger *slog.Logger, channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		pool:      pool,
		channels:  make(map[ChannelName]Channel),
		logger:    logger,
		delivered: make(map[string]bool),
	}
	for _, c := range channels {
		if c != nil {
			d.channels[c.Name()] = c
		}
	}
	return d
}

// Send queues one job per channel selected for e. It does not wait for delivery.
func (d *Dispatcher) Send(ctx context.Context, n Notifiable, e Event) {
	for _, name := range Channels(e) {
		channel, ok := d.channels[name]
		if !ok {
			d.logger.Debug("Notification channel not configured", "channel", name, "kind", e.Kind)
			continue
		}
		job := d.job(context.WithoutCancel(ctx), channel, n, e)
		if d.pool == nil || !d.pool.Submit(job) {
			job()
		}
	}
}

func (d *Dispatcher) job(ctx context.Context, channel Channel, n Notifiable, e Event) worker.Task {
	key := e.ID.String() + "|" + string(channel.Name()) + "|" + n.Type + ":" + n.ID
	return func() {
		if d.seen(key) {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		defer cancel()

		if err := channel.Deliver(ctx, n, e); err != nil {
			metrics.NotificationJobs.WithLabelValues(string(channel.Name()), "failure").Inc()
			d.logger.Error("Notification delivery failed",
				"channel", channel.Name(), "kind", e.Kind, "event_id", e.ID, "error", err)
			return
		}
		d.markDelivered(key)
		metrics.NotificationJobs.WithLabelValues(string(channel.Name()), "success").Inc()
		d.logger.Info("Notification delivered", "channel", channel.Name(), "kind", e.Kind, "event_id", e.ID)
	}
}

func (d *Dispatcher) seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered[key]
}

func (d *Dispatcher) markDelivered(key string) {
	d.mu.Lock()
	if len(d.delivered) >= maxDeliveredKeys {
		d.delivered = make(map[string]bool)
	}
	d.delivered[key] = true
	d.mu.Unlock()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
