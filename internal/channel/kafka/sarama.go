// Package kafka carries tasks over Kafka with IBM/sarama. Requests go to
// one topic per queue, keyed by request id; results go to a shared results
// topic that every client tails.
package kafka

import (
	"github.com/IBM/sarama"

	"taskrpc/internal/codec"
	"taskrpc/internal/config"
)

// Message headers describing the payload.
const (
	headerContentType = "content_type"
	headerEncoding    = "content_encoding"
	headerRoutingKey  = "routing_key"
)

func newSaramaConfig(cfg config.Kafka) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}
	sc.Consumer.Return.Errors = true
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}
	switch cfg.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	return sc, nil
}

func producerMessage(topic, key, routingKey string, p codec.Payload) *sarama.ProducerMessage {
	headers := []sarama.RecordHeader{
		{Key: []byte(headerContentType), Value: []byte(p.ContentType)},
		{Key: []byte(headerEncoding), Value: []byte(p.Encoding)},
	}
	if routingKey != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(headerRoutingKey), Value: []byte(routingKey)})
	}
	return &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(p.Body),
		Headers: headers,
	}
}

func payloadOf(msg *sarama.ConsumerMessage) codec.Payload {
	p := codec.Payload{Body: msg.Value}
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		switch string(h.Key) {
		case headerContentType:
			p.ContentType = string(h.Value)
		case headerEncoding:
			p.Encoding = string(h.Value)
		}
	}
	return p
}
