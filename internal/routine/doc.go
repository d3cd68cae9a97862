// Package routine holds the routine definition model: ordered steps, their
// kinds, timer configuration and transition cues. Definitions are authored
// as YAML (or JSON) files and validated before the engine ever sees them.
package routine
