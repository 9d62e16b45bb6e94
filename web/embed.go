// Package web holds the readings page served by meterlink serve.
package web

import "embed"

// FS contains the embedded page (HTML, CSS, JS).
//
//go:embed *.html *.css *.js
var FS embed.FS
