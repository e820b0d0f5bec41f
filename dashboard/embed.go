// Package dashboard embeds the live results page served by the fanout
// run command when --listen is set.
package dashboard

import "embed"

// Assets holds assets/index.html, a single page that renders the latest
// result per job and follows /api/sse.
//
//go:embed assets/*
var Assets embed.FS
