package session

// Role is the per-tab authority decision: whether this tab drives the
// real media engine or mirrors someone else's state.
type Role int

const (
	RoleUnknown Role = iota
	RoleMirror
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleMirror:
		return "mirror"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// roleEvent is an observation that may move the role machine.
type roleEvent int

const (
	// A state message arrived tagged with a different tab's id.
	eventForeignState roleEvent = iota

	// Another tab announced itself as the owner (MAIN_TAB_ACTIVE).
	eventForeignOwner

	// This tab completed the takeover path.
	eventPromoted

	// The initial listen window elapsed with no signal at all.
	eventSilence
)

// transition is the single role transition function. Mirror is the
// conservative default in every ambiguous case: a tab is never promoted
// by the passage of time or by merely having playable context. Only
// eventPromoted (the takeover path) reaches RoleOwner.
func transition(r Role, ev roleEvent) Role {
	switch ev {
	case eventForeignState, eventForeignOwner:
		// Someone else is the authority, whatever we believed before.
		return RoleMirror
	case eventPromoted:
		return RoleOwner
	case eventSilence:
		if r == RoleUnknown {
			return RoleMirror
		}
	}
	return r
}
