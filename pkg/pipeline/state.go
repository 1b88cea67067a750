package pipeline

// State is a position in the preprocessing sequence.
type State int

const (
	Raw State = iota
	STCDone
	CoregDone
	MCDone
	SmoothedDone
	Failed
)

var stateNames = map[State]string{
	Raw:          "raw",
	STCDone:      "stc_done",
	CoregDone:    "coreg_done",
	MCDone:       "mc_done",
	SmoothedDone: "smoothed_done",
	Failed:       "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// transitions lists, for every non-terminal state, the stage that leaves
// it and the state it leads to. A skipped stage still advances the state.
var transitions = map[State]struct {
	stage string
	next  State
}{
	Raw:       {"slice_timing", STCDone},
	STCDone:   {"coregistration", CoregDone},
	CoregDone: {"motion_correction", MCDone},
	MCDone:    {"smoothing", SmoothedDone},
}

// Next returns the stage that leaves s and the following state.
func (s State) Next() (stage string, next State, ok bool) {
	t, ok := transitions[s]
	return t.stage, t.next, ok
}

// Terminal reports whether no stage leaves s.
func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}
