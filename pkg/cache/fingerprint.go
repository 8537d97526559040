// Package cache provides content-addressed caching of pipeline results:
// deterministic fingerprints, differentiated retention for safe and unsafe
// outcomes, and a capacity-bounded in-memory store.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint derives the deterministic cache key for a scan. Identical
// inputs always produce identical fingerprints. The config version is part
// of the digest, so every reconfiguration invalidates prior entries without
// an explicit sweep.
func Fingerprint(content string, scanners []string, configVersion int64) string {
	sorted := append([]string(nil), scanners...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(content)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", configVersion)
	return hex.EncodeToString(h.Sum(nil))
}
