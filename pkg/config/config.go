// Package config holds the engine-wide knobs recognized by the analysis:
// field-materialization bounds, widening delay, and the
// recursion-handling policy.
package config

import "fmt"

// HandleRecur selects how the call-site dispatcher approximates
// recursive functions.
type HandleRecur int

const (
	// Top returns ⊤ for every recursive call's result without analyzing
	// the callee body at all.
	Top HandleRecur = iota
	// WidenOnly runs the callee's fixpoint with widening but skips the
	// narrowing phase, trading precision for a cheaper re-entry.
	WidenOnly
	// WidenNarrow runs the full widen-then-narrow fixpoint on every
	// recursive call, same as a non-recursive function.
	WidenNarrow
)

func (h HandleRecur) String() string {
	switch h {
	case Top:
		return "top"
	case WidenOnly:
		return "widen-only"
	case WidenNarrow:
		return "widen-narrow"
	default:
		return fmt.Sprintf("HandleRecur(%d)", int(h))
	}
}

// ParseHandleRecur converts a CLI/scenario-file string into a
// HandleRecur value.
func ParseHandleRecur(s string) (HandleRecur, error) {
	switch s {
	case "top":
		return Top, nil
	case "widen-only":
		return WidenOnly, nil
	case "widen-narrow":
		return WidenNarrow, nil
	default:
		return Top, fmt.Errorf("config: unknown recursion-handling mode %q (want top, widen-only, or widen-narrow)", s)
	}
}

// Config is the engine's configuration.
type Config struct {
	// MaxFieldLimit bounds any single gep-index materialization and any
	// accumulated byte offset.
	MaxFieldLimit uint32
	// WidenDelay is the number of fixpoint iterations on a cycle head
	// before widening engages.
	WidenDelay uint32
	// ModelArrays, when false, collapses every array/struct index to 0
	// instead of tracking field-sensitive offsets.
	ModelArrays bool
	// EnableThreadCallGraph, when true, makes fork/join edges carry
	// additional CallPE/RetPE bindings.
	EnableThreadCallGraph bool
	// HandleRecur selects the recursive-function approximation policy.
	HandleRecur HandleRecur
}

// Default returns the engine's default configuration.
func Default() Config {
	return Config{
		MaxFieldLimit: 512,
		WidenDelay: 3,
		ModelArrays: true,
		HandleRecur: WidenNarrow,
	}
}

// Validate reports a non-nil error if the configuration is unusable.
func (c Config) Validate() error {
	if c.MaxFieldLimit == 0 {
		return fmt.Errorf("config: MaxFieldLimit must be > 0")
	}
	return nil
}
