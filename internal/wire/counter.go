package wire

import "sync/atomic"

func nextID(n *int32) int32 {
	return atomic.AddInt32(n, 1)
}
