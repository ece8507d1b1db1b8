package coordinator

import "fmt"

// Lifecycle stages that can fail fatally for one order. The stage name is
// carried in the error and the failure log so operators can tell a
// parameter-fetch failure from a lock or submission failure.
const (
	StageFetchParams   = "fetch_params"
	StageLockFunds     = "lock_funds"
	StageBuildOrder    = "build_order"
	StageSubmitOrder   = "submit_order"
	StageBeginSchedule = "begin_schedule"
	StageSubscribeFeed = "subscribe_feed"
)

// LifecycleError marks a fatal, per-order failure. It never propagates past
// the order that raised it.
type LifecycleError struct {
	Stage string
	Err   error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

func fatal(stage string, err error) *LifecycleError {
	return &LifecycleError{Stage: stage, Err: err}
}
