package session

// State is the client-side lifecycle of one consultation.
type State string

const (
	Idle           State = "idle"
	Invited        State = "invited"
	AcquiringMedia State = "acquiring_media"
	Joining        State = "joining"
	Active         State = "active"
	Ending         State = "ending"
	Ended          State = "ended"
	Failed         State = "failed"
)

// transitions is the full set of legal state changes. Ended and Failed are
// terminal; everything else funnels into them through Ending or a fail path.
var transitions = map[State][]State{
	Idle:           {Invited},
	Invited:        {AcquiringMedia, Ending},
	AcquiringMedia: {Joining, Ending, Failed},
	Joining:        {Active, Ending, Failed},
	Active:         {Ending, Failed},
	Ending:         {Ended},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s State) IsTerminal() bool {
	return s == Ended || s == Failed
}
