// policy.go - X11 request filtering policy.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package policy decides whether a decoded X11 request should be allowed
// through to the real display server.
//
// The engine is the intended extension point of the whole proxy: a rule
// is just a function from a concrete decoded variant to a Verdict, and
// engines hold at most one rule per variant type.
// Denying GrabButton globally, or denying ChangeProperty on a specific
// window/property pair, is adding a rule - not touching the filter
// pipeline that drives this package.
package policy

import (
	"reflect"

	"github.com/gcp/rustywin/internal/wire"
)

// Verdict is the outcome of inspecting one request.
type Verdict int

const (
	Allow Verdict = iota
	Deny
)

func (v Verdict) String() string {
	if v == Deny {
		return "deny"
	}
	return "allow"
}

// Rule inspects one decoded request and returns a verdict.
type Rule func(d wire.Decoded) Verdict

// Engine dispatches a decoded request to the Rule registered for its
// concrete type, falling back to Allow for variants with no rule - this
// covers wire.Opaque by default, and covers any recognized opcode an
// implementer hasn't opted to restrict.
type Engine struct {
	rules map[reflect.Type]Rule
}

// NewEngine returns an Engine with no rules registered, so every variant
// decides Allow until rules are added with Register.
//
// In the common case, start from DefaultEngine and layer Register calls
// on top.
func NewEngine() *Engine {
	return &Engine{rules: make(map[reflect.Type]Rule)}
}

// DefaultEngine returns the baseline engine: every recognized opcode and
// Opaque returns Allow. This is deliberately permissive - the baseline
// proxy's job is framing and plumbing, not a built-in blocklist.
func DefaultEngine() *Engine {
	return NewEngine()
}

// Register installs rule for the concrete decoded type of sample. sample
// is used only to capture the type; its field values are ignored. Passing
// the same type twice replaces the previous rule.
func (e *Engine) Register(sample wire.Decoded, rule Rule) {
	e.rules[reflect.TypeOf(sample)] = rule
}

// Decide returns the verdict for d: the registered rule for d's concrete
// type if one exists, otherwise Allow.
//
// Decide never sees malformed requests - wire.Decode already collapses an
// unparseable body for a recognized opcode down to wire.Opaque, and a
// decode failure is documented policy to allow through rather than risk
// desyncing a compliant client.
func (e *Engine) Decide(d wire.Decoded) Verdict {
	if rule, ok := e.rules[reflect.TypeOf(d)]; ok {
		return rule(d)
	}
	return Allow
}
