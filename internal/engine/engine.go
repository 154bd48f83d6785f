// Package engine defines the media engine contract. The engine is an
// external collaborator: the coordination layer only ever drives it
// through this interface, and only the owner tab drives it at all.
package engine

// Source is a playable reference produced by the track resolver.
type Source struct {
	StreamURL string
}

// Engine is the opaque audio engine of one tab.
type Engine interface {
	// Load primes the engine with a new source; position resets to 0.
	Load(src Source) error

	Play() error
	Pause() error

	// Seek moves the play head, in milliseconds.
	Seek(ms int64) error

	SetVolume(v float64) error
	SetMuted(muted bool) error

	PositionMillis() int64
	DurationMillis() int64
}
