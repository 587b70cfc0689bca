package session

// State is the session lifecycle position. States are totally ordered;
// Faulted is only entered by a teardown that could not release the library
// and satisfies no operation guard.
type State int

const (
	Closed State = iota + 1
	Loaded
	Opened
	SourceOpen
	Transferring
	Faulted
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Loaded:
		return "Loaded"
	case Opened:
		return "Opened"
	case SourceOpen:
		return "SourceOpen"
	case Transferring:
		return "Transferring"
	case Faulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Operation declares the state window a device call requires. A zero Max
// means no upper bound.
type Operation struct {
	Name string
	Min  State
	Max  State
}

// Allows reports whether s satisfies the operation's window.
func (op Operation) Allows(s State) bool {
	if s == Faulted || s < op.Min {
		return false
	}
	if op.Max != 0 && s > op.Max {
		return false
	}
	return true
}

// Operations guarded by the Machine.
var (
	OpLoad         = Operation{Name: "load", Min: Closed, Max: Closed}
	OpOpenManager  = Operation{Name: "open manager", Min: Loaded, Max: Loaded}
	OpListSources  = Operation{Name: "list sources", Min: Opened}
	OpOpenSource   = Operation{Name: "open source", Min: Opened, Max: SourceOpen}
	OpCloseSource  = Operation{Name: "close source", Min: SourceOpen, Max: SourceOpen}
	OpNegotiate    = Operation{Name: "negotiate capability", Min: SourceOpen, Max: SourceOpen}
	OpQuery        = Operation{Name: "query capability", Min: SourceOpen}
	OpEnable       = Operation{Name: "enable source", Min: SourceOpen, Max: SourceOpen}
	OpShowSettings = Operation{Name: "show source settings", Min: SourceOpen, Max: SourceOpen}
)
