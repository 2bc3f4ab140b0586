package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mbflow-labs/storygraph/internal/domain"
)

// ItemDTO is one FQN-tagged record in a portable graph snapshot: either a
// node or an edge, disambiguated by Cls.
type ItemDTO struct {
	Cls  string
	Data map[string]domain.Value
}

// DTO is the portable snapshot representation of a Graph: items plus the
// adjacency indexes, keyed by string uid so it serializes cleanly.
type DTO struct {
	Items  []ItemDTO
	OutIdx map[string][]string
	InIdx  map[string][]string
}

const (
	clsNode = "node"
	clsEdge = "edge"
)

// Resolver turns a node's class FQN into zero locals beyond what ToDTO
// already captured; in this runtime node shape is uniform, so the
// resolver's only job is bookkeeping for foreign/future node kinds — kept
// as an injection point per the portable-snapshot contract rather than
// hardcoded, matching how CREATE_NODE carries an FQN string instead of a
// compiled-in class reference.
type Resolver interface {
	// ResolveNode is called once per node DTO during FromDTO; return the
	// FQN to store (usually the same one FromDTO already read).
	ResolveNode(fqn string) (string, error)
}

// DefaultResolver accepts any FQN string unchanged.
type DefaultResolver struct{}

func (DefaultResolver) ResolveNode(fqn string) (string, error) { return fqn, nil }

// ToDTO produces a portable snapshot of the graph.
func (g *Graph) ToDTO() DTO {
	dto := DTO{
		OutIdx: make(map[string][]string, len(g.outIdx)),
		InIdx:  make(map[string][]string, len(g.inIdx)),
	}

	for _, n := range g.nodes {
		data := map[string]domain.Value{
			"uid":       n.UID.String(),
			"label":     n.Label,
			"tags":      tagStrings(n.Tags),
			"class_fqn": n.ClassFQN,
			"locals":    n.Locals,
		}
		dto.Items = append(dto.Items, ItemDTO{Cls: clsNode, Data: data})
	}

	for _, e := range g.edges {
		data := map[string]domain.Value{
			"uid":      e.UID.String(),
			"label":    e.Label,
			"tags":     tagStrings(e.Tags),
			"src_id":   e.SrcID.String(),
			"dst_id":   e.DstID.String(),
			"kind":     string(e.Kind),
			"state":    string(e.State),
			"directed": e.Directed,
			"config":   e.Config,
		}
		if e.TriggerPhase != nil {
			data["trigger_phase"] = int(*e.TriggerPhase)
		}
		if e.Requirement != nil {
			data["requirement"] = requirementToDTO(e.Requirement)
		}
		dto.Items = append(dto.Items, ItemDTO{Cls: clsEdge, Data: data})
	}

	for uid, set := range g.outIdx {
		dto.OutIdx[uid.String()] = uuidStrings(set)
	}
	for uid, set := range g.inIdx {
		dto.InIdx[uid.String()] = uuidStrings(set)
	}

	return dto
}

// FromDTO rebuilds a Graph from a portable snapshot using resolver to
// validate/normalize node class FQNs.
func FromDTO(dto DTO, resolver Resolver) (*Graph, error) {
	if resolver == nil {
		resolver = DefaultResolver{}
	}
	g := New()

	for _, item := range dto.Items {
		switch item.Cls {
		case clsNode:
			n, err := nodeFromDTO(item.Data, resolver)
			if err != nil {
				return nil, err
			}
			g.AddNode(n)
		case clsEdge:
			e, err := edgeFromDTO(item.Data)
			if err != nil {
				return nil, err
			}
			g.AddEdge(e)
		default:
			return nil, fmt.Errorf("graph: unknown item class %q", item.Cls)
		}
	}

	return g, nil
}

func nodeFromDTO(data map[string]domain.Value, resolver Resolver) (*domain.Node, error) {
	uid, err := uuid.Parse(toString(data["uid"]))
	if err != nil {
		return nil, fmt.Errorf("graph: bad node uid: %w", err)
	}
	fqn, err := resolver.ResolveNode(toString(data["class_fqn"]))
	if err != nil {
		return nil, fmt.Errorf("graph: resolve class fqn: %w", err)
	}
	n := &domain.Node{
		Entity: domain.Entity{
			UID:   uid,
			Label: toString(data["label"]),
			Tags:  tagsFromStrings(data["tags"]),
		},
		ClassFQN: fqn,
		Locals:   localsFromValue(data["locals"]),
	}
	return n, nil
}

func edgeFromDTO(data map[string]domain.Value) (*domain.Edge, error) {
	uid, err := uuid.Parse(toString(data["uid"]))
	if err != nil {
		return nil, fmt.Errorf("graph: bad edge uid: %w", err)
	}
	src, _ := uuid.Parse(toString(data["src_id"]))
	dst, _ := uuid.Parse(toString(data["dst_id"]))
	e := &domain.Edge{
		Entity: domain.Entity{
			UID:   uid,
			Label: toString(data["label"]),
			Tags:  tagsFromStrings(data["tags"]),
		},
		SrcID:    src,
		DstID:    dst,
		Kind:     domain.EdgeKind(toString(data["kind"])),
		State:    domain.EdgeState(toString(data["state"])),
		Directed: toBool(data["directed"]),
		Config:   localsFromValue(data["config"]),
	}
	if tp, ok := data["trigger_phase"]; ok {
		p := domain.Phase(toInt(tp))
		e.TriggerPhase = &p
	}
	if req, ok := data["requirement"]; ok {
		if m, ok := req.(map[string]domain.Value); ok {
			e.Requirement = requirementFromDTO(m)
		}
	}
	return e, nil
}

func requirementToDTO(r *domain.Requirement) map[string]domain.Value {
	out := map[string]domain.Value{
		"uid":              r.UID.String(),
		"criteria":         r.Criteria,
		"policy":           string(r.Policy),
		"hard_requirement": r.HardRequirement,
		"is_unresolvable":  r.IsUnresolvable,
	}
	if r.Identifier != nil {
		out["identifier"] = r.Identifier.String()
	}
	if r.ProviderID != nil {
		out["provider_id"] = r.ProviderID.String()
	}
	if r.Template != nil {
		out["template"] = templateDataToDTO(r.Template)
	}
	return out
}

func requirementFromDTO(m map[string]domain.Value) *domain.Requirement {
	r := &domain.Requirement{
		Policy:          domain.ProvisionPolicy(toString(m["policy"])),
		HardRequirement: toBool(m["hard_requirement"]),
		IsUnresolvable:  toBool(m["is_unresolvable"]),
	}
	if s := toString(m["uid"]); s != "" {
		if id, err := uuid.Parse(s); err == nil {
			r.UID = id
		}
	}
	if crit, ok := m["criteria"].(map[string]domain.Value); ok {
		r.Criteria = crit
	}
	if s := toString(m["identifier"]); s != "" {
		if id, err := uuid.Parse(s); err == nil {
			r.Identifier = &id
		}
	}
	if s := toString(m["provider_id"]); s != "" {
		if id, err := uuid.Parse(s); err == nil {
			r.ProviderID = &id
		}
	}
	if tmpl, ok := m["template"].(map[string]domain.Value); ok {
		r.Template = templateDataFromDTO(tmpl)
	}
	return r
}

func templateDataToDTO(t *domain.TemplateData) map[string]domain.Value {
	tags := make([]string, len(t.Tags))
	for i, tag := range t.Tags {
		tags[i] = string(tag)
	}
	return map[string]domain.Value{
		"class_fqn": t.ClassFQN,
		"label":     t.Label,
		"locals":    t.Locals,
		"tags":      tags,
	}
}

func templateDataFromDTO(m map[string]domain.Value) *domain.TemplateData {
	t := &domain.TemplateData{
		ClassFQN: toString(m["class_fqn"]),
		Label:    toString(m["label"]),
	}
	if locals, ok := m["locals"].(map[string]domain.Value); ok {
		t.Locals = locals
	}
	for tag := range tagsFromStrings(m["tags"]) {
		t.Tags = append(t.Tags, tag)
	}
	return t
}

func tagStrings(tags map[domain.Tag]struct{}) []string {
	out := make([]string, 0, len(tags))
	for t := range tags {
		out = append(out, string(t))
	}
	return out
}

func tagsFromStrings(v domain.Value) map[domain.Tag]struct{} {
	out := make(map[domain.Tag]struct{})
	list, _ := v.([]string)
	for _, s := range list {
		out[domain.Tag(s)] = struct{}{}
	}
	return out
}

func uuidStrings(set map[uuid.UUID]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id.String())
	}
	return out
}

func localsFromValue(v domain.Value) map[string]domain.Value {
	if m, ok := v.(map[string]domain.Value); ok {
		return m
	}
	return make(map[string]domain.Value)
}

func toString(v domain.Value) string {
	s, _ := v.(string)
	return s
}

func toBool(v domain.Value) bool {
	b, _ := v.(bool)
	return b
}

func toInt(v domain.Value) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
