package auth

// RouteDecision is the outcome of gating a route on the session.
type RouteDecision int

const (
	// DecisionPending means the session is still loading: render a placeholder.
	DecisionPending RouteDecision = iota
	// DecisionSignIn means nobody is signed in: redirect to the sign in flow.
	DecisionSignIn
	// DecisionAllow means the route may render.
	DecisionAllow
)

func (d RouteDecision) String() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionSignIn:
		return "sign_in"
	case DecisionAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// Gate decides how a protected route renders for a session snapshot.
// A loading session never yields DecisionSignIn, so a signed out view is
// not shown before the first notification settles.
func Gate(s Session) RouteDecision {
	if s.Identity != nil {
		return DecisionAllow
	}
	if s.IsLoading {
		return DecisionPending
	}
	return DecisionSignIn
}

// GatePublic decides how a public route renders. It only holds rendering
// back while the session is loading.
func GatePublic(s Session) RouteDecision {
	if s.IsLoading && s.Identity == nil {
		return DecisionPending
	}
	return DecisionAllow
}
