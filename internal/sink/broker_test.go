package sink

import (
	"context"
	"sync"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKafkaWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaWriteKeysByNode(t *testing.T) {
	w := &fakeKafkaWriter{}
	k := newKafkaWith(w, "n1")
	assert.Equal(t, "kafka", k.Name())

	require.NoError(t, k.Write("udp,4,2001:db8::1,1337,DEADBEEF"))
	require.NoError(t, k.Write("stats,1,2,3"))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, []byte("n1"), w.msgs[0].Key)
	assert.Equal(t, []byte("udp,4,2001:db8::1,1337,DEADBEEF"), w.msgs[0].Value)
	assert.False(t, w.msgs[0].Time.IsZero())
	assert.Equal(t, []byte("stats,1,2,3"), w.msgs[1].Value)

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  interface{}
}

type fakeMQTTClient struct {
	mqtt.Client
	online       bool
	published    []published
	disconnected bool
}

func (f *fakeMQTTClient) IsConnectionOpen() bool { return f.online }

func (f *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.published = append(f.published, published{topic, qos, retained, payload})
	return nil
}

func (f *fakeMQTTClient) Disconnect(uint) { f.disconnected = true }

func TestMQTTWritePublishesToTopic(t *testing.T) {
	c := &fakeMQTTClient{online: true}
	m := newMQTTWith(c, "telenode/records", 1)
	assert.Equal(t, "mqtt", m.Name())

	require.NoError(t, m.Write("radio_rx,3,02:00:00:00:00:00:00:01,-40,255,0A0B0C"))
	require.Len(t, c.published, 1)
	assert.Equal(t, published{"telenode/records", 1, false, "radio_rx,3,02:00:00:00:00:00:00:01,-40,255,0A0B0C"}, c.published[0])

	require.NoError(t, m.Close())
	assert.True(t, c.disconnected)
}

func TestMQTTWriteOffline(t *testing.T) {
	c := &fakeMQTTClient{}
	m := newMQTTWith(c, "telenode/records", 0)

	assert.ErrorIs(t, m.Write("info,boot"), errMQTTOffline)
	assert.Empty(t, c.published)
}
