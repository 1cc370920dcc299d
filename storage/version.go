package storage

import (
	"sync/atomic"
	"time"
)

var lastVersion int64

// nextVersion returns a strictly increasing unix-nano timestamp. Two
// mutations applied in the same nanosecond still get distinct versions.
func nextVersion() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastVersion)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastVersion, last, now) {
			return now
		}
	}
}
