package eventbus

import "time"

// Event types published by the scheduler and the node runtime.
const (
	TaskRan             = "task.ran"
	TaskFailed          = "task.failed"
	TaskSkippedLate     = "task.skipped_late"
	TaskDeferredVoltage = "task.deferred_voltage"
	NodeSleep           = "node.sleep"
	NodeWake            = "node.wake"
	HistorySaved        = "history.saved"
	HistoryLoaded       = "history.loaded"
)

// TaskRun is the payload of TaskRan and TaskFailed.
type TaskRun struct {
	Task      string
	Index     int
	Scheduled time.Time
	Lateness  time.Duration
	Duration  time.Duration
	Voltage   float64
	Err       error
}

// TaskSkip is the payload of TaskSkippedLate and TaskDeferredVoltage.
type TaskSkip struct {
	Task      string
	Index     int
	Scheduled time.Time
	// Lateness is set for late skips.
	Lateness time.Duration
	// Voltage and Required are set for voltage deferrals.
	Voltage  float64
	Required float64
}

// Sleep is the payload of NodeSleep.
type Sleep struct {
	Until    time.Time
	Duration time.Duration
	Voltage  float64
}

// Wake is the payload of NodeWake.
type Wake struct {
	Reason  string // "timer", "config", "start"
	Voltage float64
}

// History is the payload of HistorySaved and HistoryLoaded.
type History struct {
	Tasks   int
	Missing int
	Corrupt int
	Err     error
}
