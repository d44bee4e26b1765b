package routing

// EventKind distinguishes the session lifecycle events the machine reacts to.
type EventKind int

const (
	SessionStart EventKind = iota + 1
	SessionEnd
)

func (k EventKind) String() string {
	switch k {
	case SessionStart:
		return "session_start"
	case SessionEnd:
		return "session_end"
	default:
		return "unknown"
	}
}

// Channel is the subset of a telephony channel the machine needs.
// Exten and Name are empty when the control channel did not report them.
type Channel struct {
	ID    string
	State string
	Exten string
	Name  string
}

// ChannelStateRing is the state of an inbound channel that has not been answered.
const ChannelStateRing = "Ring"

// SessionEvent is one lifecycle event from the control channel.
type SessionEvent struct {
	Kind    EventKind
	Channel Channel
	Args    []string

	// ReplacedChannelID is set when Channel takes over an existing leg
	// (attended transfer / REFER). Empty otherwise.
	ReplacedChannelID string
}

// IsReplacement reports whether the event replaces a previously known channel.
func (e SessionEvent) IsReplacement() bool {
	return e.ReplacedChannelID != ""
}

// FirstArg returns the first application argument or "".
func (e SessionEvent) FirstArg() string {
	if len(e.Args) == 0 {
		return ""
	}
	return e.Args[0]
}
