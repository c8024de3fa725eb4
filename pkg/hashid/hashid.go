// Package hashid provides the stable string-to-64-bit hash that identifies
// peers by address. The hasher is treated as a pluggable collaborator
// supplied by the host environment, so this is a minimal, deterministic
// stdlib implementation rather than a third-party hash library: FNV-1a is
// stable across processes and Go versions, which is all identifier
// derivation requires.
package hashid

import "hash/fnv"

// Of returns the stable 64-bit id for a peer address.
func Of(address string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(address))
	return h.Sum64()
}
