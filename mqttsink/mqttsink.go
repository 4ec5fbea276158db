// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mqttsink implements capture.Sender publishing chunks to an MQTT broker.
package mqttsink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/siderolabs/go-capture"
	"github.com/siderolabs/go-capture/codec"
)

// Publisher is the subset of mqtt.Client used by Sender.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// Options defines settings for Sender.
type Options struct {
	Codec codec.Codec

	Logger *zap.Logger

	// TopicPrefix, chunks are published to <TopicPrefix>/<session>/chunks/<id>.
	TopicPrefix string

	QoS byte
}

// Sender publishes one message per chunk.
type Sender[T any] struct {
	client  Publisher
	opt     Options
	session string
}

// NewSender creates new Sender publishing with client.
func NewSender[T any](client Publisher, session string, opts Options) (*Sender[T], error) {
	if client == nil {
		return nil, errors.New("client should be set")
	}

	if session == "" {
		return nil, errors.New("session should be set")
	}

	if opts.QoS > 2 {
		return nil, fmt.Errorf("invalid qos %d", opts.QoS)
	}

	if opts.Codec == nil {
		opts.Codec = codec.JSON
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "capture"
	}

	return &Sender[T]{
		client:  client,
		session: session,
		opt:     opts,
	}, nil
}

// Topic returns the topic the chunk is published to.
func (s *Sender[T]) Topic(chunkID int64) string {
	return s.opt.TopicPrefix + "/" + s.session + "/chunks/" + strconv.FormatInt(chunkID, 10)
}

// Send implements capture.Sender.
func (s *Sender[T]) Send(ctx context.Context, chunk capture.Chunk[T]) error {
	body, err := s.opt.Codec.Marshal(codec.FromChunk(chunk))
	if err != nil {
		return fmt.Errorf("failed to encode chunk %d: %w", chunk.ID, err)
	}

	topic := s.Topic(chunk.ID)
	token := s.client.Publish(topic, s.opt.QoS, false, body)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %q: %w", topic, ctx.Err())
	}

	if err = token.Error(); err != nil {
		return fmt.Errorf("publish to %q: %w", topic, err)
	}

	s.opt.Logger.Debug("published chunk", zap.String("topic", topic), zap.Int("size", len(body)))

	return nil
}

// Connect creates an MQTT client connected to the broker.
func Connect(ctx context.Context, broker, clientID string, logger *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.String("broker", broker), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("mqtt connect to %q: %w", broker, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %q: %w", broker, err)
	}

	logger.Info("connected to mqtt broker", zap.String("broker", broker), zap.String("client_id", clientID))

	return client, nil
}
