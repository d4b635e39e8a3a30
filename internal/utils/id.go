package utils

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"
)

var seq uint64

// NewID builds a collision-resistant identifier like "bkg_1724918400123456789_4821_17".
func NewID(prefix string) string {
	n := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("%s_%d_%04d_%d", prefix, time.Now().UnixNano(), rand.Intn(10000), n)
}
