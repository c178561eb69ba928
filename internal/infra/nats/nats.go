package natsclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PinRadar/config"
	"github.com/sifan077/PinRadar/internal/app/model"
)

const defaultConnectTimeout = 5 * time.Second

// Connect creates a NATS connection with JetStream available.
func Connect(cfg config.NATSConfig) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Timeout(defaultConnectTimeout),
		nats.Name("pinradar"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(URL(cfg), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("nats: init jetstream: %w", err)
	}

	return conn, js, nil
}

// EnsureStream creates the pin event stream and the activity consumer when
// they are missing. Existing definitions are left untouched.
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(model.PinStreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("nats: stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       model.PinStreamName,
			Subjects:   []string{model.PinStreamSubjects},
			MaxBytes:   model.PinStreamMaxBytes,
			MaxAge:     model.PinStreamMaxAge,
			Duplicates: 10 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("nats: create stream: %w", err)
		}
	}

	if _, err := js.ConsumerInfo(model.PinStreamName, model.ActivityConsumerName); err != nil {
		if !errors.Is(err, nats.ErrConsumerNotFound) {
			return fmt.Errorf("nats: consumer info: %w", err)
		}
		_, err = js.AddConsumer(model.PinStreamName, &nats.ConsumerConfig{
			Durable:       model.ActivityConsumerName,
			AckPolicy:     nats.AckExplicitPolicy,
			FilterSubject: model.PinStreamSubjects,
			MaxDeliver:    5,
		})
		if err != nil {
			return fmt.Errorf("nats: create consumer: %w", err)
		}
	}

	return nil
}

// URL renders the client URL for cfg.
func URL(cfg config.NATSConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 4222
	}
	return fmt.Sprintf("nats://%s:%d", host, port)
}
