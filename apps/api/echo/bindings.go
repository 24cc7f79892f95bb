package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

var waitParam = "wait"

// WaitOption asks a session endpoint to block until the session is no longer loading.
type WaitOption struct {
	Wait bool
}

func (opt *WaitOption) Bind(ctx echo.Context) {
	val := ctx.QueryParam(waitParam)
	if val == "" {
		return
	}
	opt.Wait, _ = strconv.ParseBool(val)
}

type LoginRequest struct {
	Token string `json:"token" validate:"notblank"`
}
