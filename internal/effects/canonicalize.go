package effects

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
)

type indexedEffect struct {
	idx int
	eff domain.Effect
}

// Canonicalize reduces a tick's raw effect buffer to the minimal,
// replay-equivalent sequence described in §4.7: a stable sort by
// (op_order, key), with per-node/per-edge collapse of create/delete
// pairs and per-(uid,path) coalescing of attribute mutations.
func Canonicalize(raw []domain.Effect) []domain.Effect {
	indexed := make([]indexedEffect, len(raw))
	for i, e := range raw {
		indexed[i] = indexedEffect{idx: i, eff: e}
	}

	nodeCD := make(map[uuid.UUID][]indexedEffect)
	edgeCD := make(map[uuid.UUID][]indexedEffect)
	attrs := make(map[uuid.UUID][]indexedEffect)
	resolves := make(map[uuid.UUID][]indexedEffect)

	for _, k := range indexed {
		switch k.eff.Op {
		case domain.OpCreateNode, domain.OpDeleteNode:
			uid, _ := k.eff.NodeUID()
			nodeCD[uid] = append(nodeCD[uid], k)
		case domain.OpAddEdge:
			eid, _ := k.eff.Args[3].(uuid.UUID)
			edgeCD[eid] = append(edgeCD[eid], k)
		case domain.OpDelEdge:
			eid, _ := k.eff.Args[0].(uuid.UUID)
			edgeCD[eid] = append(edgeCD[eid], k)
		case domain.OpSetAttr, domain.OpSetMapKey:
			uid, _ := k.eff.NodeUID()
			attrs[uid] = append(attrs[uid], k)
		case domain.OpResolveRequirement:
			eid, _ := k.eff.NodeUID()
			resolves[eid] = append(resolves[eid], k)
		}
	}

	var out []indexedEffect

	nodeExists := make(map[uuid.UUID]bool)
	nodeCreateIdx := make(map[uuid.UUID]int)

	for uid, seq := range nodeCD {
		kept, exists, createIdx := collapseCreateDelete(seq)
		out = append(out, kept...)
		nodeExists[uid] = exists
		if createIdx >= 0 {
			nodeCreateIdx[uid] = createIdx
		}
	}
	for _, seq := range edgeCD {
		kept, _, _ := collapseCreateDelete(seq)
		out = append(out, kept...)
	}

	for uid, seq := range attrs {
		if exists, touched := nodeExists[uid]; touched && !exists {
			continue // node deleted (or never survived) this tick: drop its attr mutations
		}
		minIdx := -1
		if ci, ok := nodeCreateIdx[uid]; ok {
			minIdx = ci
		}
		last := make(map[string]indexedEffect)
		var order []string
		for _, k := range seq {
			if minIdx >= 0 && k.idx < minIdx {
				continue // mutation precedes the kept CREATE_NODE: dropped
			}
			pk := attrPathKey(k.eff)
			if _, ok := last[pk]; !ok {
				order = append(order, pk)
			}
			last[pk] = k
		}
		for _, pk := range order {
			out = append(out, last[pk])
		}
	}

	for _, seq := range resolves {
		out = append(out, seq[len(seq)-1]) // last resolution of the tick wins per edge
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].eff, out[j].eff
		oa, ob := a.Op.Order(), b.Op.Order()
		if oa != ob {
			return oa < ob
		}
		return canonicalKeyLess(a.CanonicalKey(), b.CanonicalKey())
	})

	result := make([]domain.Effect, len(out))
	for i, k := range out {
		result[i] = k.eff
	}
	return result
}

// collapseCreateDelete applies the create/delete collapse rules to a
// single entity's (node or edge) chronological sequence of create/delete
// effects, returning the surviving effects, whether the entity exists at
// tick end, and the index of the surviving CREATE (or -1 if none).
func collapseCreateDelete(seq []indexedEffect) (kept []indexedEffect, exists bool, createIdx int) {
	type run struct {
		isCreate bool
		rep      indexedEffect
	}
	var runs []run
	for _, k := range seq {
		isCreate := k.eff.Op == domain.OpCreateNode || k.eff.Op == domain.OpAddEdge
		if len(runs) > 0 && runs[len(runs)-1].isCreate == isCreate {
			if isCreate {
				runs[len(runs)-1].rep = k // C-run: keep last
			}
			// D-run: keep first, i.e. do nothing further
			continue
		}
		runs = append(runs, run{isCreate: isCreate, rep: k})
	}

	if len(runs) == 0 {
		return nil, false, -1
	}

	startsWithD := !runs[0].isCreate
	endsWithC := runs[len(runs)-1].isCreate

	if endsWithC {
		lastC := runs[len(runs)-1].rep
		if startsWithD {
			firstD := runs[0].rep
			return []indexedEffect{firstD, lastC}, true, lastC.idx
		}
		return []indexedEffect{lastC}, true, lastC.idx
	}

	// ends with D
	if startsWithD {
		return []indexedEffect{runs[0].rep}, false, -1
	}
	return nil, false, -1 // C...D: net no-op
}

func attrPathKey(e domain.Effect) string {
	var path []domain.Value
	if len(e.Args) > 1 {
		if p, ok := e.Args[1].([]domain.Value); ok {
			path = p
		}
	}
	segs := make([]string, len(path))
	for i, p := range path {
		segs[i] = fmt.Sprint(p)
	}
	key := strings.Join(segs, ".")
	if e.Op == domain.OpSetMapKey && len(e.Args) > 2 {
		key += "#" + fmt.Sprint(e.Args[2])
	}
	return key
}

func canonicalKeyLess(a, b [2]domain.Value) bool {
	as := fmt.Sprint(a[0]) + "\x00" + fmt.Sprint(a[1])
	bs := fmt.Sprint(b[0]) + "\x00" + fmt.Sprint(b[1])
	return as < bs
}
