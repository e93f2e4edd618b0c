package naming

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderKey = Key{Kind: KindService, Namespace: "public", Group: "DEFAULT_GROUP", Name: "order"}

func node(ip string, port int, md ...string) NodeInfo {
	n := NodeInfo{IP: ip, Port: port, Healthy: true}
	if len(md) > 0 {
		n.Metadata = make(map[string]string)
		for i := 0; i+1 < len(md); i += 2 {
			n.Metadata[md[i]] = md[i+1]
		}
	}
	return n
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func addresses(nodes []NodeInfo) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Address()
	}
	return out
}

func TestDiffServiceMixedChange(t *testing.T) {
	prev := []NodeInfo{node("10.0.0.1", 1), node("10.0.0.2", 2)}
	next := []NodeInfo{node("10.0.0.2", 2, "version", "v2"), node("10.0.0.3", 3)}

	events := diffService(orderKey, prev, next)
	require.Equal(t, []EventType{NodeRemoved, NodeUpdated, NodeAdded, ServiceUpdated}, eventTypes(events))

	assert.Equal(t, "10.0.0.1:1", events[0].Node.Address())
	assert.Equal(t, "10.0.0.2:2", events[1].Node.Address())
	assert.Equal(t, "v2", events[1].Node.Metadata["version"])
	assert.Equal(t, "10.0.0.3:3", events[2].Node.Address())
	assert.Nil(t, events[3].Node)

	// NODE_REMOVED 携带移除前的列表，之后逐步推进
	assert.Equal(t, []string{"10.0.0.1:1", "10.0.0.2:2"}, addresses(events[0].AllNodes))
	assert.Equal(t, []string{"10.0.0.2:2"}, addresses(events[1].AllNodes))
	assert.Equal(t, []string{"10.0.0.2:2", "10.0.0.3:3"}, addresses(events[2].AllNodes))
	assert.Equal(t, []string{"10.0.0.2:2", "10.0.0.3:3"}, addresses(events[3].AllNodes))
	assert.Equal(t, []string{"10.0.0.2:2", "10.0.0.3:3"}, addresses(events[3].Service.Nodes))

	for _, e := range events {
		assert.Equal(t, orderKey, e.Key)
		assert.Equal(t, "order", e.Service.Name)
	}
}

func TestDiffServiceFirstPush(t *testing.T) {
	events := diffService(orderKey, nil, []NodeInfo{node("10.0.0.2", 80), node("10.0.0.1", 80)})
	require.Equal(t, []EventType{NodeAdded, NodeAdded, ServiceAdded}, eventTypes(events))
	assert.Equal(t, "10.0.0.1:80", events[0].Node.Address())
	assert.Equal(t, "10.0.0.2:80", events[1].Node.Address())
}

func TestDiffServiceDeleted(t *testing.T) {
	prev := []NodeInfo{node("10.0.0.1", 80), node("10.0.0.2", 80)}
	events := diffService(orderKey, prev, nil)
	require.Equal(t, []EventType{NodeRemoved, NodeRemoved, ServiceDeleted}, eventTypes(events))

	// SERVICE_DELETED 携带删除前的列表
	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.2:80"}, addresses(events[2].AllNodes))
	assert.Empty(t, events[2].Service.Nodes)
}

func TestDiffServiceNoop(t *testing.T) {
	assert.Nil(t, diffService(orderKey, nil, nil))

	nodes := []NodeInfo{node("10.0.0.1", 80, "zone", "a")}
	assert.Nil(t, diffService(orderKey, nodes, []NodeInfo{node("10.0.0.1", 80, "zone", "a")}))
}

func TestDiffServiceIdempotent(t *testing.T) {
	prev := []NodeInfo{node("10.0.0.1", 80)}
	next := []NodeInfo{node("10.0.0.1", 80, "weight", "2"), node("10.0.0.9", 80)}

	first := diffService(orderKey, prev, next)
	require.NotEmpty(t, first)
	assert.Empty(t, diffService(orderKey, normalizeNodes(next), next))
}

func TestDiffServiceHealthChangeIsUpdate(t *testing.T) {
	healthy := node("10.0.0.1", 80)
	sick := healthy
	sick.Healthy = false

	events := diffService(orderKey, []NodeInfo{healthy}, []NodeInfo{sick})
	require.Equal(t, []EventType{NodeUpdated, ServiceUpdated}, eventTypes(events))
	assert.False(t, events[0].Node.Healthy)
}

func TestDiffServiceDeterministic(t *testing.T) {
	var prev, next []NodeInfo
	for i := 1; i <= 20; i++ {
		prev = append(prev, node("10.0.1.1", i))
		if i%3 != 0 {
			next = append(next, node("10.0.1.1", i, "gen", "2"))
		}
		next = append(next, node("10.0.2.1", i))
	}

	want := diffService(orderKey, prev, next)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		r.Shuffle(len(prev), func(a, b int) { prev[a], prev[b] = prev[b], prev[a] })
		r.Shuffle(len(next), func(a, b int) { next[a], next[b] = next[b], next[a] })
		assert.Equal(t, want, diffService(orderKey, prev, next))
	}
}

func TestDiffServiceRemovalsBeforeAdditions(t *testing.T) {
	prev := []NodeInfo{node("10.0.0.5", 80), node("10.0.0.6", 80)}
	next := []NodeInfo{node("10.0.0.1", 80), node("10.0.0.2", 80)}

	events := diffService(orderKey, prev, next)
	lastRemoved, firstAdded := -1, len(events)
	for i, e := range events {
		switch e.Type {
		case NodeRemoved:
			lastRemoved = i
		case NodeAdded:
			if i < firstAdded {
				firstAdded = i
			}
		}
	}
	assert.Less(t, lastRemoved, firstAdded)
	assert.Equal(t, ServiceUpdated, events[len(events)-1].Type)
}

func TestDiffServiceEventsDoNotAliasInput(t *testing.T) {
	next := []NodeInfo{node("10.0.0.1", 80, "zone", "a")}
	events := diffService(orderKey, nil, next)
	require.NotEmpty(t, events)

	events[0].Node.Metadata["zone"] = "b"
	events[0].AllNodes[0].Metadata["zone"] = "c"
	assert.Equal(t, "a", next[0].Metadata["zone"])
}
