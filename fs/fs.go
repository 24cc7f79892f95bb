// Package appfs embeds the files shipped with the binaries: database migrations and e-mail templates.
package appfs

import "embed"

//go:embed migrations/*.sql assets/templates/email/*
var FS embed.FS
