// Package ordercache memoizes computed execution orders.
//
// Keys are content fingerprints of the resolved dependency graph, so a hit is
// only possible when the graph is provably unchanged. The memory backend is
// additionally purged on every registry mutation.
package ordercache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"slices"

	"git.home.luguber.info/inful/buildgraph/internal/graph"
	"git.home.luguber.info/inful/buildgraph/internal/topo"
)

// Cache stores execution orders by fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) (topo.ExecutionOrder, bool, error)
	Put(ctx context.Context, key string, order topo.ExecutionOrder) error
	// Invalidate drops every entry that may be stale after a definition change.
	Invalidate()
}

// Fingerprint hashes the strategy, the sorted members and every node with its
// sorted dependencies.
func Fingerprint(strategy string, g *graph.Graph) string {
	h := sha256.New()
	// Every part is length-prefixed so names containing separators cannot
	// collide with a different split.
	var lenBuf [binary.MaxVarintLen64]byte
	write := func(parts ...string) {
		h.Write(lenBuf[:binary.PutUvarint(lenBuf[:], uint64(len(parts)))])
		for _, part := range parts {
			h.Write(lenBuf[:binary.PutUvarint(lenBuf[:], uint64(len(part)))])
			h.Write([]byte(part))
		}
	}
	write("strategy", strategy)
	members := g.Members()
	slices.Sort(members)
	write(append([]string{"members"}, members...)...)
	for _, n := range g.Nodes() {
		write(append([]string{"node", n}, g.Dependencies(n)...)...)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// None never caches.
type None struct{}

func (None) Get(context.Context, string) (topo.ExecutionOrder, bool, error) {
	return topo.ExecutionOrder{}, false, nil
}
func (None) Put(context.Context, string, topo.ExecutionOrder) error { return nil }
func (None) Invalidate()                                            {}
