package domain

import "github.com/google/uuid"

// Entity is the base record shared by nodes and edges: a stable identity
// plus the label/tag surface the registry matcher works against.
type Entity struct {
	UID   uuid.UUID
	Label string
	Tags  map[Tag]struct{}
}

// NewEntity returns an Entity with a fresh UID and no tags.
func NewEntity(label string) Entity {
	return Entity{
		UID:  uuid.New(),
		Label: label,
		Tags: make(map[Tag]struct{}),
	}
}

// HasTag reports whether t is present on the entity.
func (e *Entity) HasTag(t Tag) bool {
	_, ok := e.Tags[t]
	return ok
}

// AddTag adds t to the entity's tag set. Idempotent.
func (e *Entity) AddTag(t Tag) {
	if e.Tags == nil {
		e.Tags = make(map[Tag]struct{})
	}
	e.Tags[t] = struct{}{}
}

// RemoveTag removes t from the entity's tag set. No-op if absent.
func (e *Entity) RemoveTag(t Tag) {
	delete(e.Tags, t)
}

// DomainTags returns the suffixes of every "domain:" tag on the entity.
func (e *Entity) DomainTags() []string {
	var out []string
	for t := range e.Tags {
		if name, ok := t.DomainName(); ok {
			out = append(out, name)
		}
	}
	return out
}

// Matches reports whether the entity satisfies a criteria filter: each key
// either names an attribute to compare via Attr, or a "has_<x>" predicate
// tested against Tags. An empty criteria map matches everything.
func (e *Entity) Matches(getAttr func(key string) (Value, bool), criteria map[string]Value) bool {
	for k, want := range criteria {
		if pred, ok := matchHasPredicate(k); ok {
			if !e.HasTag(Tag(pred)) {
				return false
			}
			continue
		}
		if k == "label" {
			if e.Label != want {
				return false
			}
			continue
		}
		if getAttr == nil {
			return false
		}
		got, ok := getAttr(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

const hasPrefix = "has_"

func matchHasPredicate(key string) (string, bool) {
	if len(key) <= len(hasPrefix) || key[:len(hasPrefix)] != hasPrefix {
		return "", false
	}
	return key[len(hasPrefix):], true
}
