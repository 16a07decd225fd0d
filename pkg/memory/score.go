package memory

import (
	"math"
	"time"

	"github.com/zhy0216/toolbox/pkg/types"
)

// frequencyScore saturates at ten accesses.
func frequencyScore(accessCount int) float64 {
	return math.Min(float64(accessCount)/10.0, 1.0)
}

// ShortTermScore ranks an in-process memory by age since creation, decaying
// on a ShortTermDecayHours scale.
func ShortTermScore(created time.Time, accessCount int, now time.Time) float64 {
	ageHours := math.Max(now.Sub(created).Hours(), 0)
	recency := 1.0 / (1.0 + ageHours/types.ShortTermDecayHours)
	return types.RecencyWeight*recency + types.FrequencyWeight*frequencyScore(accessCount)
}

// LongTermScore ranks a persisted memory by time since last access, decaying
// on a MemoryHalfLifeDays scale.
func LongTermScore(lastAccessed time.Time, accessCount int, now time.Time) float64 {
	ageDays := math.Max(now.Sub(lastAccessed).Hours()/24, 0)
	recency := 1.0 / (1.0 + ageDays/types.MemoryHalfLifeDays)
	return types.RecencyWeight*recency + types.FrequencyWeight*frequencyScore(accessCount)
}
