package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTraceHash hashes a canonical trace encoding (e.g. from
// ExecutionTrace.CanonicalJSON) with sha256, hex-encoded. The input
// must already be canonical; this function does not sort or normalize.
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}

// GraphHash hashes a task graph's identity (ID and sorted Dependencies
// per task, in task order) so two plans with identical
// shape produce the same GraphHash regardless of incidental fields
// like descriptions or priorities.
func GraphHash(taskIDs []string, dependenciesByID map[string][]string) string {
	var buf []byte
	for _, id := range taskIDs {
		deps := append([]string(nil), dependenciesByID[id]...)
		sortStrings(deps)
		buf = append(buf, []byte(id)...)
		buf = append(buf, ':')
		for _, d := range deps {
			buf = append(buf, []byte(d)...)
			buf = append(buf, ',')
		}
		buf = append(buf, '\n')
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
