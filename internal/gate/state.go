package gate

// State is the gate lifecycle state
type State int

const (
	// StateIdle: not running, or the microphone failed to start
	StateIdle State = iota
	// StateArmed: running and eligible to trigger
	StateArmed
	// StateCapturing: a capture session is recording
	StateCapturing
	// StateClassifying: the finished clip is with the classifier
	StateClassifying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateCapturing:
		return "capturing"
	case StateClassifying:
		return "classifying"
	default:
		return "unknown"
	}
}

// Trigger names what started a capture
type Trigger string

const (
	TriggerThreshold Trigger = "threshold"
	TriggerManual    Trigger = "manual"
)
