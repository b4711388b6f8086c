package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// GenerateReference returns prefix + UTC timestamp with milliseconds + a
// 4-digit random suffix, e.g. ws_CO_SANDBOX_20240101103000123_4821.
func GenerateReference(prefix string) string {
	now := time.Now().UTC()
	millis := now.Nanosecond() / int(time.Millisecond)

	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		n = big.NewInt(now.UnixNano() % 10000)
	}

	return fmt.Sprintf("%s%s%03d_%04d", prefix, now.Format("20060102150405"), millis, n.Int64())
}
