package domain

import "github.com/google/uuid"

// Effect is a primitive, replay-safe mutation instruction appended to a
// tick's effect buffer by the mutation API. Args holds the op's positional
// arguments per the schemas in the patch log contract.
type Effect struct {
	Op    EffectOp
	Args  []Value
	Phase Phase
	// HandlerID identifies the handler that produced this effect, for
	// provenance in error reporting and the patch log.
	HandlerID string
}

// NodeUID returns an effect's first argument when it is a uuid: the target
// node for CREATE_NODE/DELETE_NODE/SET_ATTR/SET_MAPKEY, the source node for
// ADD_EDGE, and the edge uid for DEL_EDGE and RESOLVE_REQUIREMENT.
func (e Effect) NodeUID() (uuid.UUID, bool) {
	if len(e.Args) == 0 {
		return uuid.Nil, false
	}
	id, ok := e.Args[0].(uuid.UUID)
	return id, ok
}

// CanonicalKey returns the tie-break key used when two effects share the
// same op_order: the first two positional args, per spec "(args[:2])".
func (e Effect) CanonicalKey() [2]Value {
	var key [2]Value
	for i := 0; i < 2 && i < len(e.Args); i++ {
		key[i] = e.Args[i]
	}
	return key
}

// Fragment is one unit of journal output produced during the JOURNAL phase.
type Fragment struct {
	FragmentID  uuid.UUID
	Type        FragmentType
	SourceID    *uuid.UUID
	SourceLabel string
	Content     Value // string or []byte
	Extras      map[string]Value
}

// NewTextFragment builds a plain text fragment.
func NewTextFragment(content string) Fragment {
	return Fragment{FragmentID: uuid.New(), Type: FragmentText, Content: content}
}

// NewMarkerFragment builds a marker fragment, used for step bookkeeping
// lines that are dropped when no other content survives JOURNAL coercion.
func NewMarkerFragment(content string) Fragment {
	return Fragment{FragmentID: uuid.New(), Type: FragmentMarker, Content: content}
}

// IoRecord captures one piece of external input/output consumed or
// produced during a tick (e.g. an injected LLM result), recorded in the
// patch for audit and replay parity even though the VM never performs I/O
// itself.
type IoRecord struct {
	Key   string
	Value Value
}

// Patch is the atomic, durable set of effects produced by one tick.
type Patch struct {
	TickID         uuid.UUID
	ParentPatchID  *uuid.UUID
	RNGSeed        uint64
	Effects        []Effect
	Journal        []Fragment
	IO             []IoRecord
}
