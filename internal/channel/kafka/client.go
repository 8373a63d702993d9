package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"

	"taskrpc/internal/channel"
	"taskrpc/internal/config"
	"taskrpc/internal/logging"
)

// Channel is the client side. Requests are produced to the topic named by
// their queue; results are read from every partition of the results topic
// and handed to whoever awaits them. Results for unknown ids are ignored,
// so many clients can share one results topic.
type Channel struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer
	cl       sarama.Client
	accept   []string

	mu      sync.Mutex
	waiters map[channel.Handle]chan *channel.Result

	wg        sync.WaitGroup
	parts     []sarama.PartitionConsumer
	closeOnce sync.Once
	done      chan struct{}
}

func NewChannel(cfg config.Config) (*Channel, error) {
	sc, err := newSaramaConfig(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	cl, err := sarama.NewClient(cfg.Kafka.Brokers, sc)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(cl)
	if err != nil {
		_ = cl.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(cl)
	if err != nil {
		_ = producer.Close()
		_ = cl.Close()
		return nil, err
	}
	c, err := newChannel(producer, consumer, cfg.Kafka.ResultsTopic, cfg.AcceptContent)
	if err != nil {
		_ = producer.Close()
		_ = consumer.Close()
		_ = cl.Close()
		return nil, err
	}
	c.cl = cl
	return c, nil
}

func newChannel(producer sarama.SyncProducer, consumer sarama.Consumer, resultsTopic string, accept []string) (*Channel, error) {
	c := &Channel{
		producer: producer,
		consumer: consumer,
		accept:   accept,
		waiters:  make(map[channel.Handle]chan *channel.Result),
		done:     make(chan struct{}),
	}
	partitions, err := consumer.Partitions(resultsTopic)
	if err != nil {
		return nil, errors.Wrapf(err, "kafka channel: partitions of %s", resultsTopic)
	}
	for _, part := range partitions {
		pc, err := consumer.ConsumePartition(resultsTopic, part, sarama.OffsetNewest)
		if err != nil {
			c.stopPartitions()
			return nil, errors.Wrapf(err, "kafka channel: consume %s/%d", resultsTopic, part)
		}
		c.parts = append(c.parts, pc)
		c.wg.Add(1)
		go c.drain(pc)
	}
	return c, nil
}

func (c *Channel) drain(pc sarama.PartitionConsumer) {
	defer c.wg.Done()
	for msg := range pc.Messages() {
		res, err := channel.DecodeResult(payloadOf(msg), c.accept)
		if err != nil {
			logging.L().Warn("kafka channel: dropping undecodable result", "partition", msg.Partition, "offset", msg.Offset, "err", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.waiters[channel.Handle(res.ID)]
		c.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- res:
		default:
		}
	}
}

func (c *Channel) Enqueue(_ context.Context, req *channel.Request) (channel.Handle, error) {
	if req.ID == "" {
		return "", errors.Wrap(channel.ErrEnqueue, "request without id")
	}
	select {
	case <-c.done:
		return "", channel.ErrClosed
	default:
	}
	p, err := channel.EncodeRequest(req)
	if err != nil {
		return "", errors.Wrapf(channel.ErrEnqueue, "encode %s: %v", req.Task, err)
	}
	h := channel.Handle(req.ID)

	// Register before producing so a fast result is not missed.
	c.mu.Lock()
	if _, ok := c.waiters[h]; !ok {
		c.waiters[h] = make(chan *channel.Result, 1)
	}
	c.mu.Unlock()

	if _, _, err := c.producer.SendMessage(producerMessage(req.Queue, req.ID, req.RoutingKey, p)); err != nil {
		c.forget(h)
		return "", errors.Wrapf(channel.ErrEnqueue, "produce %s to %s: %v", req.Task, req.Queue, err)
	}
	return h, nil
}

// Await waits for the result of h. A wait that times out forgets h.
func (c *Channel) Await(ctx context.Context, h channel.Handle, timeout time.Duration) (*channel.Result, error) {
	c.mu.Lock()
	ch, ok := c.waiters[h]
	c.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(channel.ErrUnknown, "handle %s", h)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case res := <-ch:
		c.forget(h)
		return res, nil
	case <-expired:
		c.forget(h)
		return nil, channel.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, channel.ErrClosed
	}
}

func (c *Channel) forget(h channel.Handle) {
	c.mu.Lock()
	delete(c.waiters, h)
	c.mu.Unlock()
}

func (c *Channel) stopPartitions() {
	for _, pc := range c.parts {
		pc.AsyncClose()
	}
}

func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.stopPartitions()
		c.wg.Wait()
		if e := c.producer.Close(); e != nil {
			err = e
		}
		if e := c.consumer.Close(); e != nil && err == nil {
			err = e
		}
		if c.cl != nil {
			_ = c.cl.Close()
		}
	})
	return err
}

var _ channel.Channel = (*Channel)(nil)
