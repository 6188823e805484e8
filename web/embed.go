// Package web holds the browser renderer served by the linedash server.
package web

import "embed"

// Assets is the sensor/plot renderer: index.html, style.css and app.js.
//
//go:embed index.html style.css app.js
var Assets embed.FS
