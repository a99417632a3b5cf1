// Package scheduler runs the periodic rotation/archival and
// ring-compaction sweeps storage engines declare an interest in: a
// ScheduleType/Schedule/Config shape and a poll-driven runner.
package scheduler

import (
	"context"
	"time"
)

// ScheduleType names how a RotationTask's Expression is interpreted.
type ScheduleType string

const (
	// ScheduleTypeCron parses Expression as a standard five-field cron
	// expression via robfig/cron.
	ScheduleTypeCron ScheduleType = "cron"
	// ScheduleTypeInterval parses Expression as a Go duration string
	// ("5m", "1h") and fires every interval.
	ScheduleTypeInterval ScheduleType = "interval"
)

// Rotatable is satisfied by any storage engine that declares a rotation
// interval: file-mode segment rotation/archival, or a ring
// buffer's compaction sweep.
type Rotatable interface {
	// Rotate performs one rotation/compaction pass. It must return quickly
	// or respect ctx cancellation — unless the task sets SkipIfRunning,
	// the scheduler starts another invocation of the same task on each
	// due tick while an earlier one is still running.
	Rotate(ctx context.Context) error
}

// RotationTask is one scheduled rotation job for a storage that declares
// a rotation interval.
type RotationTask struct {
	Name     string
	Target   Rotatable
	Type     ScheduleType
	// Expression is a cron expression when Type is ScheduleTypeCron, or a
	// Go duration string when Type is ScheduleTypeInterval.
	Expression string
	Timezone   string

	// SkipIfRunning skips this tick if the previous invocation of the same
	// task is still in flight.
	SkipIfRunning bool

	LastRun *time.Time
	LastErr error
}
