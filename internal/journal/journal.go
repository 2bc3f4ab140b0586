// Package journal implements JOURNAL-phase fragment coercion: flattening
// heterogeneous handler return values into an ordered list of Fragments.
package journal

import (
	"fmt"

	"github.com/mbflow-labs/storygraph/internal/dispatch"
	"github.com/mbflow-labs/storygraph/internal/domain"
)

// Coerce inspects a tick's call receipts and flattens their results into
// Fragments: nil is dropped, a Fragment passes through, a string is
// wrapped as text, and any other iterable ([]domain.Value) is recursed.
// If every surviving fragment is a marker and at least one handler
// explicitly returned an empty slice, the output is empty.
func Coerce(receipts []dispatch.CallReceipt) []domain.Fragment {
	var fragments []domain.Fragment
	explicitEmpty := false

	var extend func(v domain.Value)
	extend = func(v domain.Value) {
		switch val := v.(type) {
		case nil:
			return
		case domain.Fragment:
			fragments = append(fragments, val)
		case string:
			fragments = append(fragments, domain.NewTextFragment(val))
		case []domain.Value:
			if len(val) == 0 {
				explicitEmpty = true
				return
			}
			for _, item := range val {
				extend(item)
			}
		case []domain.Fragment:
			if len(val) == 0 {
				explicitEmpty = true
				return
			}
			for _, item := range val {
				fragments = append(fragments, item)
			}
		default:
			fragments = append(fragments, domain.NewTextFragment(fmt.Sprint(val)))
		}
	}

	for _, r := range receipts {
		extend(r.Result)
	}

	var nonMarker []domain.Fragment
	for _, f := range fragments {
		if f.Type != domain.FragmentMarker {
			nonMarker = append(nonMarker, f)
		}
	}

	if explicitEmpty && len(nonMarker) == 0 {
		return nil
	}
	if len(nonMarker) > 0 {
		return nonMarker
	}
	return fragments
}
