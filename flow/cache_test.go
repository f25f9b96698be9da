package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheNames(c *ArrayCache) []string {
	values := c.Values()
	names := make([]string, len(values))
	for i, f := range values {
		names[i] = f.Name
	}
	return names
}

func testFlows(names ...string) []*Flow {
	out := make([]*Flow, len(names))
	for i, n := range names {
		out[i] = &Flow{Name: n}
	}
	return out
}

func TestArrayCacheInitialize(t *testing.T) {
	c := NewArrayCache()
	assert.Zero(t, c.Len())

	c.Initialize(testFlows("a.flow.json", "b.flow.json", "c.flow.json"))
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"a.flow.json", "b.flow.json", "c.flow.json"}, cacheNames(c))
}

func TestArrayCacheUpdateKeepsOrder(t *testing.T) {
	c := NewArrayCache()
	c.Initialize(testFlows("a.flow.json", "b.flow.json", "c.flow.json"))

	updated := &Flow{Name: "b.flow.json", StartNode: "entry"}
	c.Update("b.flow.json", updated)

	assert.Equal(t, []string{"a.flow.json", "b.flow.json", "c.flow.json"}, cacheNames(c))
	got := c.Get("b.flow.json")
	require.NotNil(t, got)
	assert.Equal(t, "entry", got.StartNode)
}

func TestArrayCacheUpdateAppendsNewKey(t *testing.T) {
	c := NewArrayCache()
	c.Initialize(testFlows("a.flow.json"))

	c.Update("z.flow.json", &Flow{Name: "z.flow.json"})
	assert.Equal(t, []string{"a.flow.json", "z.flow.json"}, cacheNames(c))
}

func TestArrayCacheRenameKeepsOrder(t *testing.T) {
	c := NewArrayCache()
	c.Initialize(testFlows("a.flow.json", "b.flow.json", "c.flow.json"))

	c.Rename("b.flow.json", "renamed.flow.json")

	assert.Equal(t, []string{"a.flow.json", "renamed.flow.json", "c.flow.json"}, cacheNames(c))
	assert.Nil(t, c.Get("b.flow.json"))
	got := c.Get("renamed.flow.json")
	require.NotNil(t, got)
	assert.Equal(t, "renamed.flow.json", got.Location)
}

func TestArrayCacheRenameUnknownKeyIsNoop(t *testing.T) {
	c := NewArrayCache()
	c.Initialize(testFlows("a.flow.json"))

	c.Rename("missing.flow.json", "other.flow.json")
	assert.Equal(t, []string{"a.flow.json"}, cacheNames(c))
}

func TestArrayCacheRemoveCompacts(t *testing.T) {
	c := NewArrayCache()
	c.Initialize(testFlows("a.flow.json", "b.flow.json", "c.flow.json"))

	c.Remove("b.flow.json")

	assert.Equal(t, []string{"a.flow.json", "c.flow.json"}, cacheNames(c))
	assert.Nil(t, c.Get("b.flow.json"))
	// Index still resolves the survivors after compaction.
	assert.NotNil(t, c.Get("c.flow.json"))
}

func TestArrayCacheValuesIsACopy(t *testing.T) {
	c := NewArrayCache()
	c.Initialize(testFlows("a.flow.json", "b.flow.json"))

	values := c.Values()
	values[0] = &Flow{Name: "mutated"}

	assert.Equal(t, []string{"a.flow.json", "b.flow.json"}, cacheNames(c))
}
