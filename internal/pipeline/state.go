package pipeline

// State is the progress of one run.
type State int

const (
	StateInit State = iota
	StatePartitioned
	StateJobsBuilt
	StateRunning
	StateMerged
	StateCleaned
	StateFailed
)

var stateNames = [...]string{
	StateInit:        "INIT",
	StatePartitioned: "PARTITIONED",
	StateJobsBuilt:   "JOBS_BUILT",
	StateRunning:     "RUNNING",
	StateMerged:      "MERGED",
	StateCleaned:     "CLEANED",
	StateFailed:      "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}
