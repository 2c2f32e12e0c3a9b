package realtime

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/clock"
	"github.com/smallbiznis/comms/internal/observability/metrics"
	"github.com/smallbiznis/comms/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Publisher is how mutating components announce events. Publish returns
// immediately; delivery happens after the caller's operation has committed.
type Publisher interface {
	Publish(ctx context.Context, channelID snowflake.ID, payload Payload)
}

// Broker moves envelopes to every node that may hold subscribers.
type Broker interface {
	Broadcast(ctx context.Context, env Envelope) error
}

// Dispatcher queues envelopes and hands them to the broker on worker
// goroutines. Each channel hashes to one worker so its events keep their
// publish order. A full queue or a broker failure drops the event with a log
// line; the originating mutation is never affected.
type Dispatcher struct {
	log     *zap.Logger
	clock   clock.Clock
	broker  Broker
	metrics *metrics.Realtime
	queues  []chan Envelope

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewDispatcher(log *zap.Logger, c clock.Clock, broker Broker, m *metrics.Realtime, queueSize, workers int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	perWorker := queueSize / workers
	if perWorker < 1 {
		perWorker = 1
	}
	queues := make([]chan Envelope, workers)
	for i := range queues {
		queues[i] = make(chan Envelope, perWorker)
	}
	return &Dispatcher{
		log:     log.Named("realtime.dispatcher"),
		clock:   c,
		broker:  broker,
		metrics: m,
		queues:  queues,
	}
}

func (d *Dispatcher) Publish(ctx context.Context, channelID snowflake.ID, payload Payload) {
	if payload == nil {
		return
	}
	env := Envelope{
		ID:         correlation.NewID(),
		Kind:       payload.Kind(),
		ChannelID:  channelID,
		OccurredAt: d.clock.Now(),
		Payload:    payload,
	}
	env.TraceID, env.SpanID = correlation.SpanIDs(ctx)

	queue := d.queues[uint64(channelID)%uint64(len(d.queues))]
	select {
	case queue <- env:
	default:
		d.metrics.QueueDropped()
		d.log.Warn("dispatch queue full, event dropped",
			zap.String("kind", string(env.Kind)),
			zap.String("channel_id", channelID.String()),
		)
	}
}

// Start launches the workers. They run until Stop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	for _, queue := range d.queues {
		group.Go(func() error {
			d.run(ctx, queue)
			return nil
		})
	}
	d.cancel = cancel
	d.group = group
}

// Stop halts the workers after they flush what is already queued.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, group := d.cancel, d.group
	d.cancel, d.group = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = group.Wait()
}

func (d *Dispatcher) run(ctx context.Context, queue <-chan Envelope) {
	for {
		select {
		case env := <-queue:
			d.deliver(env)
		case <-ctx.Done():
			for {
				select {
				case env := <-queue:
					d.deliver(env)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(env Envelope) {
	ctx := correlation.ContextWithRemoteSpan(context.Background(), env.TraceID, env.SpanID)
	if err := d.broker.Broadcast(ctx, env); err != nil {
		d.log.Warn("event broadcast failed",
			zap.String("kind", string(env.Kind)),
			zap.String("channel_id", env.ChannelID.String()),
			zap.Error(err),
		)
	}
}
