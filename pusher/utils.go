package pusher

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync/atomic"
)

var idCounter uint64

// generateID names a client instance in logs.
func generateID() string {
	counter := atomic.AddUint64(&idCounter, 1)

	id := make([]byte, 4)
	if _, err := rand.Read(id); err != nil {
		return "client-" + strconv.FormatUint(counter, 10)
	}
	return hex.EncodeToString(id) + "-" + strconv.FormatUint(counter, 10)
}
