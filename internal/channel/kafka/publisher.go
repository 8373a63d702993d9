package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"

	"taskrpc/internal/channel"
	"taskrpc/internal/config"
)

// Publisher writes results to the results topic, keyed by request id.
type Publisher struct {
	producer   sarama.SyncProducer
	topic      string
	serializer string
}

func NewPublisher(cfg config.Config) (*Publisher, error) {
	sc, err := newSaramaConfig(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	p, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return newPublisher(p, cfg.Kafka.ResultsTopic, cfg.ResultSerializer), nil
}

func newPublisher(p sarama.SyncProducer, topic, serializer string) *Publisher {
	return &Publisher{producer: p, topic: topic, serializer: serializer}
}

func (p *Publisher) Publish(_ context.Context, req *channel.Request, res *channel.Result) error {
	payload, err := channel.EncodeResult(res, p.serializer)
	if err != nil {
		return errors.Wrapf(err, "kafka publisher: encode result of %s", req.ID)
	}
	if _, _, err := p.producer.SendMessage(producerMessage(p.topic, req.ID, "", payload)); err != nil {
		return errors.Wrapf(err, "kafka publisher: send result of %s", req.ID)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}

var _ channel.Publisher = (*Publisher)(nil)
