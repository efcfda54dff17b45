// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
	"net"
)

// TagFor computes a 4-byte tag from a connection's remote address and its
// session id. The tag only prefixes log lines so that the output of one
// connection can be grepped; it is not unique and never reversed.
func TagFor(remote net.Addr, sessionID string) uint32 {
	h := fnv.New32a()
	if remote != nil {
		h.Write([]byte(remote.String()))
	}
	h.Write([]byte(sessionID))
	return h.Sum32()
}
