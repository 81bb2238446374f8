// Package plugin holds the process-wide descriptor shown for the extraction task.
package plugin

import "sync/atomic"

// Version is set at build time via -ldflags
var Version = "dev"

// Descriptor names the plugin and its task
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

var current atomic.Pointer[Descriptor]

func init() {
	current.Store(&Descriptor{
		Name:        "Subtitle Extract",
		Description: "Extracts embedded subtitles.",
		Version:     Version,
	})
}

// Current returns the active descriptor
func Current() *Descriptor {
	return current.Load()
}

// SetCurrent replaces the active descriptor, e.g. with localized strings
func SetCurrent(d Descriptor) {
	if d.Version == "" {
		d.Version = Version
	}
	current.Store(&d)
}
