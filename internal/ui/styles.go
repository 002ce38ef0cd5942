// Package ui renders colored terminal output for the arb CLI.
package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorPass   = 114 // green
	colorWarn   = 179 // amber
	colorFail   = 203 // red
)

var noColor bool

func paint(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

func RenderPass(s string) string { return paint(colorPass, s) }
func RenderWarn(s string) string { return paint(colorWarn, s) }
func RenderFail(s string) string { return paint(colorFail, s) }

// RenderHealth renders healthy as "healthy" or "unhealthy".
func RenderHealth(healthy bool) string {
	if healthy {
		return RenderPass("healthy")
	}
	return RenderFail("unhealthy")
}

// RenderStatus colors a session or queue status.
func RenderStatus(status string) string {
	switch status {
	case "completed", "active", "SERVING":
		return RenderPass(status)
	case "voting", "pending", "processing":
		return RenderAccent(status)
	case "cancelled", "failed", "NOT_SERVING":
		return RenderFail(status)
	default:
		return RenderMuted(status)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
