package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/profile"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/services/auth/jwtauth"
)

type sessionApi struct {
	sess       *session.Session
	provider   *jwtauth.Provider
	validate   *validator.Validate
	translator ut.Translator
}

func registerSessionAPI(g *echo.Group, deps ServerDeps, limiter *signInLimiter) {
	api := sessionApi{
		sess:       deps.Session,
		provider:   deps.Provider,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	authenticated := callerMiddleware(deps.Provider)

	sg := g.Group("/session")
	sg.GET("", api.retrieve, authenticated)
	sg.POST("/signin", api.signIn, limiter.middleware(deps.Throttle))
	sg.POST("/signout", api.signOut, authenticated)

	g.GET("/roles", api.queryRoles, authenticated, roleMiddleware(deps.Session, profile.RoleAdmin))
}

type sessionResponse struct {
	Status  string             `json:"status"`
	Loading bool               `json:"loading"`
	User    *profile.Principal `json:"user"`
	Role    *profile.Role      `json:"role"`
}

func newSessionResponse(state session.State) sessionResponse {
	resp := sessionResponse{Status: state.Status().String(), Loading: state.IsLoading()}
	if pr, ok := state.Principal(); ok {
		resp.User = &pr
	}
	if role, ok := state.Role(); ok {
		resp.Role = &role
	}
	return resp
}

// state returns the session state, waiting for it to settle when asked to.
// A cancelled request gets the state as it was; a closed session cannot serve anymore.
func (api *sessionApi) state(ctx echo.Context, wait bool) (session.State, error) {
	if !wait {
		return api.sess.State(), nil
	}
	state, err := api.sess.Wait(ctx.Request().Context())
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			return state, core.NewShutdownError("session closed")
		}
		return api.sess.State(), nil
	}
	return state, nil
}

// respond answers with state, if it belongs to the request's caller.
func respond(ctx echo.Context, state session.State) error {
	if err := authorize(ctx, state); err != nil {
		return err
	}
	setContextState(ctx, state)
	return ctx.JSON(http.StatusOK, newSessionResponse(state))
}

// Handlers

func (api *sessionApi) retrieve(ctx echo.Context) error {
	var opt WaitOption
	opt.Bind(ctx)
	state, err := api.state(ctx, opt.Wait)
	if err != nil {
		return err
	}
	return respond(ctx, state)
}

func (api *sessionApi) signIn(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if data.Token == "" {
		data.Token = bearerToken(ctx)
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	pr, err := api.provider.SignIn(ctx.Request().Context(), data.Token)
	if err != nil {
		if errors.Cause(err) == jwtauth.ErrInvalidToken {
			return core.NewValidationError(err, core.FieldError{Field: "token", Error: errInvalidToken})
		}
		return errors.Wrap(err, "signing in")
	}
	setContextCaller(ctx, pr)

	var opt WaitOption
	opt.Wait = true
	opt.Bind(ctx)
	state, err := api.state(ctx, opt.Wait)
	if err != nil {
		return err
	}
	return respond(ctx, state)
}

func (api *sessionApi) signOut(ctx echo.Context) error {
	if err := authorize(ctx, api.sess.State()); err != nil {
		return err
	}
	api.sess.SignOut(ctx.Request().Context())
	return respond(ctx, api.sess.State())
}

func (api *sessionApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, profile.Roles)
}
