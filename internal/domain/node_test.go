package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNode_Attr_ReadsLocalsRootedPath(t *testing.T) {
	n := NewNode("hero", "Player")
	n.Locals["hp"] = 10
	v, ok := n.Attr([]string{"locals", "hp"})
	assert.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestNode_Attr_RejectsNonLocalsRoot(t *testing.T) {
	n := NewNode("hero", "Player")
	_, ok := n.Attr([]string{"tags", "anything"})
	assert.False(t, ok)
}

func TestNode_Attr_MissingNestedKeyNotFound(t *testing.T) {
	n := NewNode("hero", "Player")
	n.Locals["inventory"] = map[string]Value{"sword": true}
	_, ok := n.Attr([]string{"locals", "inventory", "shield"})
	assert.False(t, ok)
}

func TestNode_Attr_WalksNestedMaps(t *testing.T) {
	n := NewNode("hero", "Player")
	n.Locals["inventory"] = map[string]Value{"sword": true}
	v, ok := n.Attr([]string{"locals", "inventory", "sword"})
	assert.True(t, ok)
	assert.Equal(t, true, v)
}

func TestNode_Clone_ProducesFreshUIDWithCopiedState(t *testing.T) {
	n := NewNode("hero", "Player")
	n.Locals["hp"] = 10
	n.AddTag("brave")

	clone := n.Clone()
	assert.NotEqual(t, n.UID, clone.UID)
	assert.Equal(t, n.Label, clone.Label)
	assert.Equal(t, n.ClassFQN, clone.ClassFQN)
	assert.True(t, clone.HasTag("brave"))
	assert.Equal(t, n.Locals["hp"], clone.Locals["hp"])
}

func TestNode_Clone_LocalsAreIndependentCopies(t *testing.T) {
	n := NewNode("hero", "Player")
	n.Locals["hp"] = 10

	clone := n.Clone()
	clone.Locals["hp"] = 99

	assert.Equal(t, 10, n.Locals["hp"])
	assert.Equal(t, 99, clone.Locals["hp"])
}
