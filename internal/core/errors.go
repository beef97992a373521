// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Per-packet failures wrap one of these so callers can
// classify them with errors.Is and render a diagnostic record.
var (
	// Packet buffer errors
	ErrBufferExhausted = errors.New("telenode: packet buffer exhausted")
	ErrSegmentTooLarge = errors.New("telenode: segment larger than pool block")
	ErrUseAfterRelease = errors.New("telenode: chain used after release")

	// Composition errors
	ErrAddressParse = errors.New("telenode: cannot parse destination address")
	ErrPortParse    = errors.New("telenode: cannot parse destination port")

	// Dispatch errors
	ErrNoSubscriber     = errors.New("telenode: no subscriber")
	ErrTransmitRejected = errors.New("telenode: transmit rejected")
	ErrInboxFull        = errors.New("telenode: inbox full")

	// Inbound errors
	ErrMalformedInbound = errors.New("telenode: malformed inbound packet")

	// Collaborator errors
	ErrNotSupported = errors.New("telenode: not supported")
	ErrStackClosed  = errors.New("telenode: stack closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("telenode: invalid configuration")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrSegmentTooLarge, "segment_too_large"},
	{ErrBufferExhausted, "buffer_exhausted"},
	{ErrUseAfterRelease, "use_after_release"},
	{ErrAddressParse, "address_parse"},
	{ErrPortParse, "port_parse"},
	{ErrNoSubscriber, "no_subscriber"},
	{ErrTransmitRejected, "transmit_rejected"},
	{ErrInboxFull, "inbox_full"},
	{ErrMalformedInbound, "malformed_inbound"},
	{ErrNotSupported, "not_supported"},
	{ErrStackClosed, "stack_closed"},
	{ErrConfigInvalid, "config_invalid"},
}

// ErrorKind returns the short token used in error records for err.
// Unclassified errors map to "internal".
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
