package consensus

import "errors"

// errTimedOut marks an RPC that exceeded its caller-enforced deadline.
// It is a protocol-level signal consumed entirely within this package and
// never returned to callers outside it.
var errTimedOut = errors.New("consensus: rpc timed out")
