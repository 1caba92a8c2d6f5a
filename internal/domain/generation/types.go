// Package generation defines the artifact produced by pure template
// rendering (spec §3, §4.10). The template context is never persisted
// alongside the artifact.
package generation

import "time"

// Artifact is one completed template render.
type Artifact struct {
	ID        string
	Language  string
	Output    string
	CreatedAt time.Time
}
