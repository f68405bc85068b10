package web

import "embed"

// Static embeds the SPA shell assets.
//
//go:embed static/**/*
var Static embed.FS
