// Package registry provides the two concrete implementations of
// shard.Registry: InProcess, for tests and single-process deployments, and
// RPC, for dialing real peer addresses over pkg/grpc.
package registry

import (
	"fmt"
	"sync"

	"github.com/distshard/shardcore/internal/shard"
	"github.com/distshard/shardcore/pkg/config"
)

// InProcess is a registry backed by a plain map of named clients. It is the
// shard-domain analogue of the platform's earlier hash-partition Router,
// adapted from per-shard-ID lookup to per-name lookup.
type InProcess struct {
	mu         sync.RWMutex
	byName     map[string]shard.Client
	coldPrefix string
}

// NewInProcess creates an empty in-process registry. coldPrefix is used to
// build the "<prefix>-<index>" names ResolveCold looks up.
func NewInProcess(coldPrefix string) *InProcess {
	return &InProcess{
		byName:     make(map[string]shard.Client),
		coldPrefix: coldPrefix,
	}
}

// Register associates name with client, overwriting any prior registration.
func (r *InProcess) Register(name string, client shard.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = client
}

// Resolve looks up a replica descriptor by its addressing key.
func (r *InProcess) Resolve(descriptor config.ReplicaDescriptor) (shard.Client, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.byName[descriptor.Key()]
	if !ok {
		return nil, fmt.Errorf("no shard registered for %s", descriptor.Key())
	}
	return client, nil
}

// ResolveCold looks up the cold shard named "<coldPrefix>-<index>".
func (r *InProcess) ResolveCold(index int) (shard.Client, error) {
	name := fmt.Sprintf("%s-%d", r.coldPrefix, index)
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("no cold shard registered for %s", name)
	}
	return client, nil
}
