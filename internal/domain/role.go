package domain

// Role is the side a peer plays during negotiation.
type Role int

const (
	Responder Role = iota
	Initiator
)

func RoleFor(initiator bool) Role {
	if initiator {
		return Initiator
	}
	return Responder
}

func (r Role) IsInitiator() bool { return r == Initiator }

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}
