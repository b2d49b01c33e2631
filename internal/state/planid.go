package state

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// NewPlanID derives the planId format: plan-<8 hex chars of
// sha256(goal)>-<base36 millisecond timestamp>. The hash component
// makes two runs of the same goal easy to spot in a directory listing;
// the timestamp component keeps same-goal plans chronologically sorted
// and distinguishes reruns of an identical goal from one another.
func NewPlanID(goal string, now time.Time) string {
	sum := sha256.Sum256([]byte(goal))
	hashPart := hex.EncodeToString(sum[:])[:8]
	tsPart := strconv.FormatInt(now.UnixMilli(), 36)
	return "plan-" + hashPart + "-" + tsPart
}
