package autopushws

// State is the relay connection state.
type State int

const (
	StateNoSocket State = iota
	StateConnecting
	StateOpen
	StateAuthenticated // hello accepted
	StateClosing
	StateClosed
	StateDisconnected // reconnect budget exhausted
)

func (s State) String() string {
	switch s {
	case StateNoSocket:
		return "NO_SOCKET"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "CONNECTED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// IsOpen reports whether a socket is established.
func (s State) IsOpen() bool {
	return s == StateOpen || s == StateAuthenticated
}

// Session is the relay identity: the UAID assigned at hello and the
// channels registered under it.
type Session struct {
	UAID       string
	ChannelIDs []string
}

func (s Session) clone() Session {
	return Session{UAID: s.UAID, ChannelIDs: append([]string(nil), s.ChannelIDs...)}
}

// IsZero reports whether the session carries no identity.
func (s Session) IsZero() bool {
	return s.UAID == "" && len(s.ChannelIDs) == 0
}

func (s *Session) addChannel(id string) {
	for _, c := range s.ChannelIDs {
		if c == id {
			return
		}
	}
	s.ChannelIDs = append(s.ChannelIDs, id)
}

func (s *Session) removeChannel(id string) {
	out := s.ChannelIDs[:0]
	for _, c := range s.ChannelIDs {
		if c != id {
			out = append(out, c)
		}
	}
	s.ChannelIDs = out
}
