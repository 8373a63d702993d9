package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"taskrpc/internal/channel"
	"taskrpc/internal/config"
	"taskrpc/internal/logging"
)

type recordID struct {
	topic     string
	partition int32
	offset    int64
}

func recordOf(msg *sarama.ConsumerMessage) recordID {
	return recordID{msg.Topic, msg.Partition, msg.Offset}
}

// Source is the worker side: a consumer group over the request topics,
// high priority topic included. In e2e commit mode an offset is only
// marked once the request's result has been published and acked.
type Source struct {
	cfg    config.Kafka
	topics []string
	accept []string

	cl    sarama.Client
	group sarama.ConsumerGroup
	bp    *Controller

	mu      sync.Mutex
	pending map[recordID]func()

	ackCh      chan recordID
	deliveries chan channel.Delivery

	closeOnce sync.Once
	done      chan struct{}
}

func NewSource(cfg config.Config) (*Source, error) {
	sc, err := newSaramaConfig(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	s := newSource(cfg.Kafka, cfg.Queues(), cfg.AcceptContent)
	if s.cl, err = sarama.NewClient(cfg.Kafka.Brokers, sc); err != nil {
		s.bp.Close()
		return nil, err
	}
	if s.group, err = sarama.NewConsumerGroupFromClient(cfg.Kafka.GroupID, s.cl); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func newSource(cfg config.Kafka, topics, accept []string) *Source {
	if cfg.BackPressure.Capacity <= 0 {
		cfg.BackPressure.Capacity = 1
	}
	if cfg.BackPressure.CheckInt <= 0 {
		cfg.BackPressure.CheckInt = 100 * time.Millisecond
	}
	capacity := cfg.BackPressure.Capacity
	refill := capacity / 10
	return &Source{
		cfg:        cfg,
		topics:     topics,
		accept:     accept,
		bp:         NewController(capacity, refill, cfg.BackPressure.CheckInt),
		pending:    make(map[recordID]func()),
		ackCh:      make(chan recordID, int(capacity)),
		deliveries: make(chan channel.Delivery),
		done:       make(chan struct{}),
	}
}

// Run joins the consumer group and feeds Next until ctx is done.
func (s *Source) Run(ctx context.Context) error {
	handler := &groupHandler{src: s}
	go func() {
		for err := range s.group.Errors() {
			logging.L().Warn("kafka source: consumer group error", "err", err)
		}
	}()
	for {
		if err := s.group.Consume(ctx, s.topics, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Source) Next(ctx context.Context) (channel.Delivery, error) {
	select {
	case d := <-s.deliveries:
		return d, nil
	case <-ctx.Done():
		return channel.Delivery{}, ctx.Err()
	case <-s.done:
		return channel.Delivery{}, channel.ErrClosed
	}
}

func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.group != nil {
			_ = s.group.Close()
		}
		if s.cl != nil {
			_ = s.cl.Close()
		}
		s.bp.Close()
	})
	return nil
}

// OnAck queues rec for resolution by the consuming goroutine. When the
// ack queue is full the oldest ack is dropped.
func (s *Source) OnAck(rec recordID) {
	select {
	case s.ackCh <- rec:
	default:
		select {
		case <-s.ackCh:
		default:
		}
		select {
		case s.ackCh <- rec:
		default:
			logging.L().Warn("kafka source: ack channel full; dropping ack", "topic", rec.topic, "partition", rec.partition, "offset", rec.offset)
		}
	}
}

func (s *Source) resolve(rec recordID) {
	s.mu.Lock()
	cb, ok := s.pending[rec]
	if ok {
		delete(s.pending, rec)
	}
	s.mu.Unlock()
	if ok {
		cb()
		s.bp.Release(1)
		logging.L().Debug("kafka ack released", "topic", rec.topic, "partition", rec.partition, "offset", rec.offset)
	}
}

func (s *Source) forget(rec recordID) {
	s.mu.Lock()
	delete(s.pending, rec)
	s.mu.Unlock()
}

/*──────── consumer group handler ───────*/

type groupHandler struct {
	src *Source
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	s := h.src
	s.mu.Lock()
	dropped := len(s.pending)
	s.pending = make(map[recordID]func())
	s.mu.Unlock()

	if dropped > 0 {
		s.bp.Release(int64(dropped))
		logging.L().Info("kafka source: rebalance cleared pending acks", "count", dropped)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	s := h.src
	ctx := sess.Context()
	cp := newClaimCheckpoint(sess, s.cfg.BackPressure.Capacity, s.cfg.Checkpoint.CommitInt)

	for {
		if !s.bp.TryAcquire(1) {
			select {
			case rec := <-s.ackCh:
				s.resolve(rec)
				continue
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-ctx.Done():
			s.bp.Release(1)
			return nil

		case rec := <-s.ackCh:
			s.bp.Release(1)
			s.resolve(rec)
			continue

		case msg, ok := <-claim.Messages():
			if !ok {
				s.bp.Release(1)
				return nil
			}

			rec, err := cp.Track(ctx, msg)
			if err != nil {
				s.bp.Release(1)
				return err
			}

			req, err := channel.DecodeRequest(payloadOf(msg), s.accept)
			if err != nil {
				logging.L().Warn("kafka source: dropping undecodable request", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
				cp.Resolve(rec)
				s.bp.Release(1)
				continue
			}

			d := channel.Delivery{Request: req, Ack: func() {}}
			if s.cfg.CommitMode == config.CommitE2E {
				s.mu.Lock()
				s.pending[rec] = func() { cp.Resolve(rec) }
				s.mu.Unlock()
				d.Ack = func() { s.OnAck(rec) }
			}

			select {
			case s.deliveries <- d:
			case <-ctx.Done():
				s.forget(rec)
				s.bp.Release(1)
				return nil
			}

			if s.cfg.CommitMode != config.CommitE2E {
				cp.Resolve(rec)
				s.bp.Release(1)
			}
		}
	}
}

var _ channel.Source = (*Source)(nil)
