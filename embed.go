package apod

import (
	"embed"
)

// Web contains the home page template and its static assets
//
//go:embed web/templates web/static
var Web embed.FS
