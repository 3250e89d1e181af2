// Package id mints batch identifiers.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// New returns a batch ID safe for URLs and object key paths.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; a
		// timestamp keeps IDs at least distinct across batches.
		return "b_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return "b_" + hex.EncodeToString(b[:])
}
