package session

import (
	"net/mail"
	"time"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/profile"
)

type signInNotice struct {
	Email string
	Role  profile.Role
	Time  string
}

// NewSignInNotifier returns a listener that emails the principal each time a session becomes authenticated.
func NewSignInNotifier(mailSvc core.EmailService) func(State) {
	var last State
	return func(state State) {
		defer func() { last = state }()
		if state.Status() != StatusAuthenticated || last.Equal(state) {
			return
		}
		pr, _ := state.Principal()
		if pr.Email == "" {
			return
		}
		role, _ := state.Role()
		mailSvc.SendMessages(&core.EmailMessage{
			To:           []mail.Address{{Address: pr.Email}},
			Subject:      "New sign-in",
			TemplateName: "signin_notice",
			TemplateData: signInNotice{
				Email: pr.Email,
				Role:  role,
				Time:  time.Now().UTC().Format(time.RFC1123),
			},
		})
	}
}
