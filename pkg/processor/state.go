package processor

import (
	"fmt"
	"strings"
)

type State int32

const (
	StateInactive = State(iota)
	StateInitializing
	StateActive
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	default:
		return fmt.Sprintf("unknown_state_%d", int32(s))
	}
}

// Fallback defines what is emitted instead of a chunk that may not be fed
// to the model.
type Fallback int

const (
	FallbackSilence = Fallback(iota)
	FallbackPassThrough
)

func (f Fallback) String() string {
	switch f {
	case FallbackSilence:
		return "silence"
	case FallbackPassThrough:
		return "pass_through"
	default:
		return fmt.Sprintf("unknown_fallback_%d", int(f))
	}
}

func ParseFallback(s string) (Fallback, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "silence":
		return FallbackSilence, nil
	case "pass_through", "passthrough", "pass-through":
		return FallbackPassThrough, nil
	default:
		return FallbackSilence, fmt.Errorf("unknown fallback '%s'", s)
	}
}

func (f Fallback) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fallback) UnmarshalText(b []byte) error {
	v, err := ParseFallback(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
