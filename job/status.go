package job

// Status represents the lifecycle state of a job instance.
type Status string

const (
	// StatusWaiting means the instance is pending, waiting for its trigger
	// time and dependencies.
	StatusWaiting Status = "waiting"
	// StatusRunning means an execution unit is currently working on the
	// instance.
	StatusRunning Status = "running"
	// StatusSuccess means the instance finished successfully.
	StatusSuccess Status = "success"
	// StatusFail means the instance failed terminally.
	StatusFail Status = "fail"
	// StatusTimeout means the instance exceeded its execution timeout.
	StatusTimeout Status = "timeout"
	// StatusCancelled means the instance was cancelled before or during
	// execution.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFail, StatusTimeout, StatusCancelled:
		return true
	case StatusWaiting, StatusRunning:
		return false
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. Re-entering StatusWaiting is never legal here; the rerun path
// bypasses this check deliberately, since it is the one sanctioned backward
// move.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusWaiting:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next.Terminal()
	case StatusSuccess, StatusFail, StatusTimeout, StatusCancelled:
		return false
	}
	return false
}
