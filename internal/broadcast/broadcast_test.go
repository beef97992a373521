package broadcast

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/telenode/internal/compose"
	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/dispatch"
	"firestige.xyz/telenode/internal/pktbuf"
	"firestige.xyz/telenode/internal/sink"
	"firestige.xyz/telenode/internal/stack/radio"
)

func demoOptions(t *testing.T, nodes int) DemoOptions {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	opts := DemoOptionsFrom(cfg, nodes)
	opts.Interval = 20 * time.Millisecond
	opts.Seed = 5
	opts.Radio.DIOIntervalMin = 4
	return opts
}

func TestDemoEveryNodeHearsEveryOther(t *testing.T) {
	out := sink.NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	results, err := RunDemo(ctx, demoOptions(t, 3), out)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, r := range results {
		assert.Positive(t, r.Sent, r.Name)
		assert.Zero(t, r.Failed, r.Name)
		assert.Positive(t, r.Received, r.Name)
	}
	assert.Len(t, out.WithPrefix("info"), 3)

	rx := out.WithPrefix("radio_rx")
	require.NotEmpty(t, rx)
	assert.True(t, strings.HasPrefix(rx[0], "radio_rx,"))
	assert.Regexp(t, `^radio_rx,\d+,([0-9a-f]{2}:){7}[0-9a-f]{2},-\d+,\d+,[0-9A-F]+$`, rx[0])
	assert.Len(t, out.WithPrefix("radio"), int(results[0].Sent+results[1].Sent+results[2].Sent))
	assert.Empty(t, out.WithPrefix("udp_rx"))
	assert.Empty(t, out.WithPrefix("error"))
}

func TestDemoRejectsBadOptions(t *testing.T) {
	_, err := RunDemo(context.Background(), DemoOptions{Nodes: 0, Interval: time.Second}, sink.NewMemory())
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))

	_, err = RunDemo(context.Background(), DemoOptions{Nodes: 2}, sink.NewMemory())
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestProducerSend(t *testing.T) {
	pool, err := pktbuf.NewPool(pktbuf.Options{Blocks: 8, BlockSize: 128, Checked: true})
	require.NoError(t, err)
	defer pool.Close()

	comp := compose.New(pool)
	out := sink.NewMemory()
	reg := dispatch.NewRegistry(4, out)
	r := radio.New(radio.NewMedium(0, 1), comp, radio.Options{Name: "wpan0", Root: true})
	defer r.Close()
	reg.SetTransmitter(core.ProtoRadio, r)

	p := NewProducer("n1", 6, time.Second, comp, reg, out)
	require.NoError(t, p.Send(context.Background()))
	assert.Equal(t, []string{"radio,15,6,6E31207361"}, out.WithPrefix("radio"))
	assert.Equal(t, uint64(1), p.Sent())

	wrong := NewProducer("n1", 7, time.Second, comp, reg, out)
	err = wrong.Send(context.Background())
	assert.True(t, errors.Is(err, core.ErrTransmitRejected))
	assert.Equal(t, uint64(1), wrong.Failed())
	assert.Equal(t, 0, pool.InUse())
}

func TestProducerNeedsRawTransmitter(t *testing.T) {
	pool, err := pktbuf.NewPool(pktbuf.Options{Blocks: 8, BlockSize: 128, Checked: true})
	require.NoError(t, err)
	defer pool.Close()

	comp := compose.New(pool)
	out := sink.NewMemory()
	reg := dispatch.NewRegistry(4, out)
	r := radio.New(radio.NewMedium(0, 1), comp, radio.Options{Name: "wpan0", Root: true})
	defer r.Close()
	reg.SetTransmitter(core.ProtoUDP, r)

	p := NewProducer("n1", 6, time.Second, comp, reg, out)
	assert.Error(t, p.Send(context.Background()))
	assert.Equal(t, uint64(1), p.Failed())
	assert.Empty(t, out.WithPrefix("radio"))
	assert.Equal(t, 0, pool.InUse())
}
