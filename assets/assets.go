// Package assets embeds the static files served by the map server.
package assets

import _ "embed"

// Index is the single-page map application.
//
//go:embed index.html
var Index []byte
