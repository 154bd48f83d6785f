package engine

import "sync"

// Memory is an engine that tracks playback state without producing audio.
// Headless tabs use it as their engine; tests use it to observe exactly
// what the coordination layer did (loads, seeks, volume) and to advance
// the play head manually.
type Memory struct {
	mu      sync.Mutex
	src     Source
	loads   int
	playing bool
	posMs   int64
	durMs   int64
	volume  float64
	muted   bool
}

func NewMemory() *Memory {
	return &Memory{volume: 1}
}

func (e *Memory) Load(src Source) error {
	e.mu.Lock()
	e.src = src
	e.loads++
	e.posMs = 0
	e.playing = false
	e.mu.Unlock()
	return nil
}

func (e *Memory) Play() error {
	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
	return nil
}

func (e *Memory) Pause() error {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
	return nil
}

func (e *Memory) Seek(ms int64) error {
	e.mu.Lock()
	if ms < 0 {
		ms = 0
	}
	e.posMs = ms
	e.mu.Unlock()
	return nil
}

func (e *Memory) SetVolume(v float64) error {
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
	return nil
}

func (e *Memory) SetMuted(muted bool) error {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
	return nil
}

func (e *Memory) PositionMillis() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.posMs
}

func (e *Memory) DurationMillis() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durMs
}

// SetDurationMillis sets the duration the engine reports for the loaded
// source, the way a real engine learns it from the stream.
func (e *Memory) SetDurationMillis(ms int64) {
	e.mu.Lock()
	e.durMs = ms
	e.mu.Unlock()
}

// Advance moves the play head forward while playing, clamped to duration.
func (e *Memory) Advance(ms int64) {
	e.mu.Lock()
	if e.playing {
		e.posMs += ms
		if e.durMs > 0 && e.posMs > e.durMs {
			e.posMs = e.durMs
		}
	}
	e.mu.Unlock()
}

func (e *Memory) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *Memory) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

func (e *Memory) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Current returns the loaded source.
func (e *Memory) Current() Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

// Loads returns how many times Load was called.
func (e *Memory) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}
