// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mqttsink_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/siderolabs/go-capture"
	"github.com/siderolabs/go-capture/codec"
	"github.com/siderolabs/go-capture/mqttsink"
)

type token struct {
	err  error
	done chan struct{}
}

func newToken(err error, settled bool) *token {
	t := &token{err: err, done: make(chan struct{})}

	if settled {
		close(t.done)
	}

	return t
}

func (t *token) Wait() bool {
	<-t.done

	return true
}

func (t *token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *token) Done() <-chan struct{} { return t.done }
func (t *token) Error() error          { return t.err }

type publisher struct {
	token    *token
	messages map[string][]byte
	mu       sync.Mutex
}

func (p *publisher) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.messages == nil {
		p.messages = map[string][]byte{}
	}

	p.messages[topic] = payload.([]byte)

	return p.token
}

func TestSend(t *testing.T) {
	t.Parallel()

	pub := &publisher{token: newToken(nil, true)}

	sender, err := mqttsink.NewSender[int](pub, "sess", mqttsink.Options{TopicPrefix: "annotations"})
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), capture.Chunk[int]{
		ID:      2,
		Start:   10,
		Samples: []capture.Sample[int]{{Position: 10, Value: 1}, {Position: 11, Value: 2}},
	}))

	body, ok := pub.messages["annotations/sess/chunks/2"]
	require.True(t, ok)

	var payload codec.Payload[int]

	require.NoError(t, codec.JSON.Unmarshal(body, &payload))
	assert.Equal(t, []int64{10, 11}, payload.Positions)
	assert.Equal(t, []int{1, 2}, payload.Values)
}

func TestSendFailure(t *testing.T) {
	t.Parallel()

	errBroker := errors.New("not connected")

	sender, err := mqttsink.NewSender[int](&publisher{token: newToken(errBroker, true)}, "sess", mqttsink.Options{})
	require.NoError(t, err)

	err = sender.Send(context.Background(), capture.Chunk[int]{ID: 0})
	require.ErrorIs(t, err, errBroker)
	assert.Equal(t, "capture/sess/chunks/5", sender.Topic(5))
}

func TestSendTimeout(t *testing.T) {
	t.Parallel()

	sender, err := mqttsink.NewSender[int](&publisher{token: newToken(nil, false)}, "sess", mqttsink.Options{QoS: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = sender.Send(ctx, capture.Chunk[int]{ID: 0})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewSender(t *testing.T) {
	t.Parallel()

	_, err := mqttsink.NewSender[int](nil, "sess", mqttsink.Options{})
	require.Error(t, err)

	_, err = mqttsink.NewSender[int](&publisher{}, "", mqttsink.Options{})
	require.Error(t, err)

	_, err = mqttsink.NewSender[int](&publisher{}, "sess", mqttsink.Options{QoS: 3})
	require.Error(t, err)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
