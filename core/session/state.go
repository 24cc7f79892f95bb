package session

import "github.com/trezcool/masomo-portal/core/profile"

type Status int

const (
	StatusLoading Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of the session.
// A role only exists once authenticated; while loading, the pending principal may be known.
type State struct {
	status    Status
	principal *profile.Principal
	role      profile.Role
}

func Loading(pending *profile.Principal) State {
	return State{status: StatusLoading, principal: pending}
}

func Authenticated(pr profile.Principal, role profile.Role) State {
	return State{status: StatusAuthenticated, principal: &pr, role: role}
}

func Anonymous() State {
	return State{status: StatusAnonymous}
}

func (s State) Status() Status { return s.status }

func (s State) IsLoading() bool { return s.status == StatusLoading }

// Principal returns the signed-in (or signing-in) principal.
func (s State) Principal() (profile.Principal, bool) {
	if s.principal == nil {
		return profile.Principal{}, false
	}
	return *s.principal, true
}

// Role returns the resolved role; only authenticated sessions have one.
func (s State) Role() (profile.Role, bool) {
	if s.status != StatusAuthenticated {
		return "", false
	}
	return s.role, true
}

func (s State) Equal(other State) bool {
	if s.status != other.status || s.role != other.role {
		return false
	}
	if (s.principal == nil) != (other.principal == nil) {
		return false
	}
	return s.principal == nil || *s.principal == *other.principal
}
