package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrBufferExhausted, "telenode: packet buffer exhausted"},
			{ErrAddressParse, "telenode: cannot parse destination address"},
			{ErrPortParse, "telenode: cannot parse destination port"},
			{ErrUseAfterRelease, "telenode: chain used after release"},
			{ErrTransmitRejected, "telenode: transmit rejected"},
			{ErrMalformedInbound, "telenode: malformed inbound packet"},
		}

		for _, tt := range tests {
			assert.Equal(t, tt.message, tt.err.Error())
		}
	})

	t.Run("ErrorWrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("compose: %w", ErrAddressParse)
		assert.True(t, errors.Is(wrapped, ErrAddressParse))
	})
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{fmt.Errorf("alloc transport header: %w", ErrBufferExhausted), "buffer_exhausted"},
		{fmt.Errorf("%w: %w", ErrSegmentTooLarge, ErrBufferExhausted), "segment_too_large"},
		{fmt.Errorf("radio: %w", ErrTransmitRejected), "transmit_rejected"},
		{ErrPortParse, "port_parse"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, ErrorKind(tt.err), tt.err.Error())
	}
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "payload", KindPayload.String())
	assert.Equal(t, "link", KindLink.String())
	assert.Equal(t, "kind(9)", SegmentKind(9).String())
	assert.Equal(t, "udp", ProtoUDP.String())
	assert.Equal(t, "Layer 2", LayerL2.String())
	assert.Equal(t, "IPv6", LayerIPv6.String())
	assert.Equal(t, []Layer{LayerL2, LayerIPv6}, Layers)
}

func TestRoutingSnapshotZeroValue(t *testing.T) {
	var snap RoutingSnapshot
	for _, inst := range snap.Instances {
		assert.False(t, inst.Used)
	}
	for _, p := range snap.Parents {
		assert.False(t, p.Used)
		assert.False(t, p.Addr.IsValid())
	}
	assert.Len(t, snap.Stats, NumFrameTypes)
}
