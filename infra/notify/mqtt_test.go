package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fsd/core/events"
)

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type fakeClient struct {
	published []struct {
		topic   string
		payload []byte
	}
	pubErr error
}

func (c *fakeClient) IsConnected() bool   { return true }
func (c *fakeClient) Connect() paho.Token { return fakeToken{} }
func (c *fakeClient) Disconnect(uint)     {}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.published = append(c.published, struct {
		topic   string
		payload []byte
	}{topic, payload.([]byte)})
	return fakeToken{err: c.pubErr}
}

func newTestNotifier(t *testing.T, cli *fakeClient) *MQTTNotifier {
	t.Helper()
	prev := newMQTTClient
	newMQTTClient = func(*paho.ClientOptions) pahoClient { return cli }
	t.Cleanup(func() { newMQTTClient = prev })

	n, err := NewMQTTNotifier(Config{Broker: "tcp://localhost:1883"}, nil)
	require.NoError(t, err)
	return n
}

func TestNotifyScheduledPublishesPerResourceTopic(t *testing.T) {
	cli := &fakeClient{}
	n := newTestNotifier(t, cli)

	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	err := n.NotifyScheduled(context.Background(), events.ScheduledEvent{
		AppointmentID: "a1", ResourceID: "crew-7",
		Start: start, End: start.Add(90 * time.Minute), Score: 83.5,
	})
	require.NoError(t, err)
	require.Len(t, cli.published, 1)
	assert.Equal(t, "fsd/assignments/crew-7", cli.published[0].topic)

	var decoded events.ScheduledEvent
	require.NoError(t, json.Unmarshal(cli.published[0].payload, &decoded))
	assert.Equal(t, "a1", decoded.AppointmentID)
	assert.Equal(t, 83.5, decoded.Score)
}

func TestNotifyScheduledPublishError(t *testing.T) {
	cli := &fakeClient{pubErr: assert.AnError}
	n := newTestNotifier(t, cli)

	err := n.NotifyScheduled(context.Background(), events.ScheduledEvent{ResourceID: "crew-1"})
	require.Error(t, err)
}
