// Package p2pbridge holds assets shared by the bridge binaries.
package p2pbridge

import "embed"

// StaticFiles is the embedded dashboard served at /static/.
//
//go:embed static/*
var StaticFiles embed.FS
