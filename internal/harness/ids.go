package harness

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TestIDPrefix marks every entity the harness creates. Orphan sweeps key
// off it, so it must never appear in real production identifiers.
const TestIDPrefix = "test-"

// idGenerator produces test-<kind>-<unix-millis>-<counter> identifiers.
// The counter keeps them unique even when the clock does not advance
// between calls.
type idGenerator struct {
	mu      sync.Mutex
	counter int64
}

func (g *idGenerator) next(kind string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s%s-%d-%d", TestIDPrefix, kind, time.Now().UnixMilli(), g.counter)
}

// IsTestID reports whether id carries the harness marker prefix.
func IsTestID(id string) bool {
	return strings.HasPrefix(id, TestIDPrefix)
}

// TestIDTime recovers the creation time embedded in a generated
// identifier. It reports false for identifiers that do not follow the
// generator's layout.
func TestIDTime(id string) (time.Time, bool) {
	if !IsTestID(id) {
		return time.Time{}, false
	}
	parts := strings.Split(id, "-")
	if len(parts) < 4 {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}
