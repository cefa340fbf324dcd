package sync

// State is a step of a synchronization run.
type State int32

const (
	StateIdle State = iota
	StateBackingUp
	StateAcquiringLock
	StateDownloading
	StateImporting
	StateExporting
	StateUploading
	StateReleasingLock
	StateDone
	StateError
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateBackingUp:     "backing up",
	StateAcquiringLock: "acquiring lock",
	StateDownloading:   "downloading",
	StateImporting:     "importing",
	StateExporting:     "exporting",
	StateUploading:     "uploading",
	StateReleasingLock: "releasing lock",
	StateDone:          "done",
	StateError:         "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
