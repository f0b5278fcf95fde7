package filter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gcp/rustywin/internal/filter"
	"github.com/gcp/rustywin/internal/policy"
	"github.com/gcp/rustywin/internal/wire"
)

// noopRequest builds a minimal, well-formed 4-byte request (no body) for
// the given opcode - enough for the framer and for policy dispatch on
// Opaque/recognized-but-empty-body variants.
func noopRequest(opcode byte) []byte {
	return []byte{opcode, 0x00, 0x01, 0x00}
}

func TestFilterByteConservation(t *testing.T) {
	buf := append(noopRequest(0x01), noopRequest(0x7F)...)
	accepted, rejected := filter.Filter(buf, policy.DefaultEngine())

	require.Equal(t, buf, append(accepted, rejected...))
	require.Empty(t, rejected)
	require.Equal(t, buf, accepted)
}

func TestFilterIdempotentOnAccepted(t *testing.T) {
	buf := append(noopRequest(0x01), noopRequest(0x02)...)
	engine := policy.DefaultEngine()

	accepted, rejected := filter.Filter(buf, engine)
	require.Empty(t, rejected)

	accepted2, rejected2 := filter.Filter(accepted, engine)
	require.Equal(t, accepted, accepted2)
	require.Empty(t, rejected2)
}

func TestFilterTruncatedTail(t *testing.T) {
	// Header declares length 8 (32 bytes... no: 8 units * 4 = 32 bytes),
	// but only 20 bytes are actually present.
	buf := []byte{0x10, 0x00, 0x08, 0x00}
	buf = append(buf, make([]byte, 16)...)
	require.Len(t, buf, 20)

	accepted, rejected := filter.Filter(buf, policy.DefaultEngine())
	require.Empty(t, accepted)
	require.Equal(t, buf, rejected)
}

func TestFilterMixedAllowDeny(t *testing.T) {
	first := noopRequest(wire.OpGrabButton)
	// header(4) + body(20, the fixed ChangeProperty fields with no data) = 24 bytes = 6 units.
	second := append([]byte{wire.OpChangeProperty, 0x00, 0x06, 0x00}, make([]byte, 20)...)
	buf := append(append([]byte{}, first...), second...)

	engine := policy.DefaultEngine()
	engine.Register(wire.ChangeProperty{}, func(d wire.Decoded) policy.Verdict {
		return policy.Deny
	})

	accepted, rejected := filter.Filter(buf, engine)
	require.Equal(t, first, accepted)
	require.Equal(t, second, rejected)
	require.Equal(t, len(buf), len(accepted)+len(rejected))
}

func TestFilterEmptyInput(t *testing.T) {
	accepted, rejected := filter.Filter(nil, policy.DefaultEngine())
	require.Empty(t, accepted)
	require.Empty(t, rejected)
}
