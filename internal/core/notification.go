package core

// Notification is what user-facing surfaces receive about the session.
type Notification struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// NotificationFor converts a peer event into its user-facing form.
func NotificationFor(ev PeerEvent) Notification {
	n := Notification{Type: ev.Kind.String()}
	switch ev.Kind {
	case EventSignal:
		n.Data = ev.Signal
	case EventRemoteStream:
		if ev.Stream != nil {
			n.Data = ev.Stream.ID()
		}
	case EventState:
		n.State = ev.State
	case EventError:
		if ev.Err != nil {
			n.Error = ev.Err.Error()
		}
	}
	return n
}
