// Package jobs defines the background work the service queues on River and
// tracks each queued job through to its final state.
package jobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

const (
	QueueSegments    = "segments"
	QueueMaintenance = "maintenance"
)

const (
	KindSegmentRefresh = "segment_refresh"
	KindRefreshSweep   = "segment_refresh_sweep"
	KindExpirePoints   = "points_expiration"
)

// uniqueStates are the states in which a second insert of the same args is
// skipped as a duplicate.
var uniqueStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// RefreshSegmentArgs reconciles one segment. Only SegmentID takes part in
// uniqueness.
type RefreshSegmentArgs struct {
	SegmentID uuid.UUID `json:"segment_id" river:"unique"`
	Reason    string    `json:"reason"`
}

func (RefreshSegmentArgs) Kind() string { return KindSegmentRefresh }

func (RefreshSegmentArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:      QueueSegments,
		UniqueOpts: river.UniqueOpts{ByArgs: true, ByState: uniqueStates},
	}
}

// RefreshSweepArgs finds auto-refresh segments that are due and queues a
// refresh for each.
type RefreshSweepArgs struct {
	// At is the slot being swept, truncated to the hour.
	At time.Time `json:"at"`
}

func (RefreshSweepArgs) Kind() string { return KindRefreshSweep }

func (RefreshSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:      QueueMaintenance,
		UniqueOpts: river.UniqueOpts{ByArgs: true, ByState: uniqueStates},
	}
}

// ExpirePointsArgs runs one expiration pass. At most one is inserted per day.
type ExpirePointsArgs struct {
	AsOf time.Time `json:"as_of"`
}

func (ExpirePointsArgs) Kind() string { return KindExpirePoints }

func (ExpirePointsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:      QueueMaintenance,
		UniqueOpts: river.UniqueOpts{ByPeriod: 24 * time.Hour},
	}
}
