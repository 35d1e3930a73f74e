// Package web embeds static web assets for the bucket hold board UI.

package web

import "embed"

// Assets contains embedded static files (HTML, CSS, JS) for the web UI.

//go:embed index.html css/* js/*
var Assets embed.FS
