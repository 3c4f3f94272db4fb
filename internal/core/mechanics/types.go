package mechanics

import "fmt"

// Kind tags what a Context is being evaluated for.
type Kind string

const (
	KindBreeding      Kind = "breeding"
	KindSpawn         Kind = "spawn"
	KindEnvironmental Kind = "environmental"
	KindInteraction   Kind = "interaction"
	KindResearch      Kind = "research"
	KindBehavior      Kind = "behavior"
	KindCustom        Kind = "custom"
)

var kinds = []Kind{KindBreeding, KindSpawn, KindEnvironmental, KindInteraction, KindResearch, KindBehavior, KindCustom}

func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

func ParseKind(s string) (Kind, error) {
	if k := Kind(s); k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidContext, s)
}

type Category string

const (
	CategoryBreeding      Category = "breeding"
	CategoryEnvironmental Category = "environmental"
	CategorySpawning      Category = "spawning"
	CategoryInteraction   Category = "interaction"
	CategoryResearch      Category = "research"
	CategoryBehavior      Category = "behavior"
	CategoryEconomy       Category = "economy"
	CategoryCustom        Category = "custom"
)

// State is a mechanic's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateEnabled
	StateDisabled
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := StateUninitialized; st <= StateShutdown; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}
