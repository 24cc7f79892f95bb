package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-portal/core/profile"
	"github.com/trezcool/masomo-portal/core/session"
)

const (
	contextStateKey  = "session"
	contextCallerKey = "caller"
	bearerPrefix     = "Bearer "
)

// bearerToken returns the token of the Authorization header, if any.
func bearerToken(ctx echo.Context) string {
	auth := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(auth, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(bearerPrefix):])
}

func setContextState(ctx echo.Context, state session.State) {
	ctx.Set(contextStateKey, state)
}

func contextState(ctx echo.Context) (session.State, bool) {
	state, ok := ctx.Get(contextStateKey).(session.State)
	return state, ok
}

func contextPrincipal(ctx echo.Context) (profile.Principal, bool) {
	state, ok := contextState(ctx)
	if !ok {
		return profile.Principal{}, false
	}
	return state.Principal()
}

func setContextCaller(ctx echo.Context, pr profile.Principal) {
	ctx.Set(contextCallerKey, pr)
}

// contextCaller returns the principal whose token authenticated the request.
func contextCaller(ctx echo.Context) (profile.Principal, bool) {
	pr, ok := ctx.Get(contextCallerKey).(profile.Principal)
	return pr, ok
}

// authorize fails unless the request's caller is the principal of state.
// A state without principal belongs to any authenticated caller.
func authorize(ctx echo.Context, state session.State) error {
	caller, ok := contextCaller(ctx)
	if !ok {
		return errUnauthorized
	}
	if pr, ok := state.Principal(); ok && pr.ID != caller.ID {
		return errUnauthorized
	}
	return nil
}
