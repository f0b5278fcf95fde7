package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gcp/rustywin/internal/policy"
	"github.com/gcp/rustywin/internal/wire"
)

func TestDefaultEngineAllowsUnrecognizedOpcode(t *testing.T) {
	e := policy.DefaultEngine()
	opaque := wire.Opaque{Req: wire.Request{Opcode: 0x7F}}
	require.Equal(t, policy.Allow, e.Decide(opaque))
}

func TestDefaultEngineAllowsRecognizedOpcode(t *testing.T) {
	e := policy.DefaultEngine()
	grab := wire.GrabButton{Req: wire.Request{Opcode: wire.OpGrabButton}, Window: 42}
	require.Equal(t, policy.Allow, e.Decide(grab))
}

func TestRegisteredRuleOverridesDefault(t *testing.T) {
	e := policy.DefaultEngine()
	e.Register(wire.GrabButton{}, func(d wire.Decoded) policy.Verdict {
		return policy.Deny
	})

	grab := wire.GrabButton{Req: wire.Request{Opcode: wire.OpGrabButton}, Window: 7}
	require.Equal(t, policy.Deny, e.Decide(grab))

	// Unrelated variants are unaffected.
	ia := wire.InternAtom{Req: wire.Request{Opcode: wire.OpInternAtom}}
	require.Equal(t, policy.Allow, e.Decide(ia))
}

func TestRuleCanInspectFields(t *testing.T) {
	const deniedWindow = 0xDEAD0001

	e := policy.DefaultEngine()
	e.Register(wire.ChangeProperty{}, func(d wire.Decoded) policy.Verdict {
		cp := d.(wire.ChangeProperty)
		if cp.Window == deniedWindow {
			return policy.Deny
		}
		return policy.Allow
	})

	denied := wire.ChangeProperty{Req: wire.Request{Opcode: wire.OpChangeProperty}, Window: deniedWindow}
	require.Equal(t, policy.Deny, e.Decide(denied))

	allowed := wire.ChangeProperty{Req: wire.Request{Opcode: wire.OpChangeProperty}, Window: 0x1}
	require.Equal(t, policy.Allow, e.Decide(allowed))
}
