package harness

import (
	"context"
	"fmt"
	"time"

	"tpmjs/tests/integration/internal/client"
	"tpmjs/tests/integration/internal/model"
)

// SweepReport counts what an orphan sweep removed.
type SweepReport struct {
	Agents      int
	Collections int
}

// SweepOrphans deletes test-marked agents and collections older than
// maxAge. It works from the server's listings, not from any tracker, so
// it also clears leftovers of runs that aborted before their cleanup. A
// maxAge of zero or less removes every test-marked entity.
func SweepOrphans(ctx context.Context, api *client.Client, maxAge time.Duration) (SweepReport, error) {
	var report SweepReport
	now := time.Now()

	agents, err := client.Get[model.AgentList](ctx, api, "/api/agents", client.Options{})
	if err != nil {
		return report, err
	}
	if !agents.OK {
		return report, fmt.Errorf("harness: list agents: %s", agents.Error)
	}
	for _, agent := range agents.Data.Agents {
		if !sweepable(agent.UID, now, maxAge) {
			continue
		}
		if err := deleteOne(ctx, api, "/api/agents/"+agent.UID); err != nil {
			return report, fmt.Errorf("harness: sweep: %w", err)
		}
		report.Agents++
	}

	collections, err := client.Get[model.CollectionList](ctx, api, "/api/collections", client.Options{})
	if err != nil {
		return report, err
	}
	if !collections.OK {
		return report, fmt.Errorf("harness: list collections: %s", collections.Error)
	}
	for _, collection := range collections.Data.Collections {
		if !sweepable(collection.Slug, now, maxAge) {
			continue
		}
		if err := deleteOne(ctx, api, "/api/collections/"+collection.ID); err != nil {
			return report, fmt.Errorf("harness: sweep: %w", err)
		}
		report.Collections++
	}
	return report, nil
}

// SweepAll removes every test-marked entity regardless of age.
func SweepAll(ctx context.Context, api *client.Client) (SweepReport, error) {
	return SweepOrphans(ctx, api, 0)
}

// sweepable keeps the sweep conservative: entities whose identifier does
// not embed a parseable timestamp are only removed when no age cutoff is
// in effect.
func sweepable(id string, now time.Time, maxAge time.Duration) bool {
	if !IsTestID(id) {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	created, ok := TestIDTime(id)
	if !ok {
		return false
	}
	return now.Sub(created) >= maxAge
}
