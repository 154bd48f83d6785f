// Package proto defines the wire vocabulary for the cross-tab player
// coordination channel. Wire format: JSON envelopes on the player topic.
// Absent fields mean "no information", never "set to zero". Receivers
// must check presence per field, which is why the mutable scalar fields
// are pointers.
package proto

import "time"

// PlayerTopic is the broadcast topic all tabs of one user share.
const PlayerTopic = "rhythmverse.player.v1"

// MdnsTag is the LAN discovery tag for the pubsub carrier.
const MdnsTag = "rhythmverse-player"

// Message types. The names match the original browser wire format.
const (
	// High-frequency owner→mirrors playback tick.
	TypeStateUpdate = "PLAYER_STATE_UPDATE"

	// Queue-only delta, used when only ordering changes.
	TypeQueueUpdate = "QUEUE_UPDATE"

	// Rare-field sync: repeatMode, isShuffled, volume, isMuted.
	// The only message type allowed to overwrite those fields.
	TypeFullUpdate = "PLAYER_STATE_UPDATE_FULL"

	// Mirror→owner remote control command.
	TypeControl = "PLAYER_CONTROL"

	// Explicit "I am closing" notice from the owner.
	TypeMainClosed = "MAIN_TAB_CLOSED"

	// Convergence signal after a takeover: the sender now owns playback.
	TypeMainActive = "MAIN_TAB_ACTIVE"

	// Mirror asks the owner for a fresh full snapshot.
	TypeRequestState = "REQUEST_STATE"

	// Liveness probe ("is anyone playing?") and its reply.
	TypeMainCheck    = "MAIN_TAB_CHECK"
	TypeMainResponse = "MAIN_TAB_RESPONSE"
)

// Control actions carried by TypeControl messages.
const (
	ActionTogglePlay      = "togglePlay"
	ActionNext            = "next"
	ActionPrevious        = "previous"
	ActionToggleShuffle   = "toggleShuffle"
	ActionCycleRepeatMode = "cycleRepeatMode"
	ActionSeek            = "seek"      // Position in milliseconds
	ActionSetVolume       = "setVolume" // Volume 0.0–1.0
	ActionToggleMute      = "toggleMute"
	ActionPlaySong        = "playSong"        // SongID
	ActionRemoveFromQueue = "removeFromQueue" // SongID
	ActionPause           = "pause"

	// One-shot carrier of a track plus queue, sent by a mirror that wants
	// the owner to start something new. A tab that finds no live owner
	// executes this locally instead (takeover).
	ActionPlayNewSong = "playNewSong"
)

// Track is the wire representation of one queue entry.
type Track struct {
	ID       string  `json:"id"`
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Cover    string  `json:"cover,omitempty"`
	Duration float64 `json:"duration,omitempty"` // seconds
}

// Msg is the single envelope for every player channel message.
type Msg struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`    // uuid, per envelope
	TabID string `json:"tabId,omitempty"` // origin tab; empty tolerated for degraded senders
	TS    int64  `json:"ts,omitempty"`    // sender clock, informational only

	// Progress fields (TypeStateUpdate).
	SongID      string   `json:"songId,omitempty"`
	SongTitle   string   `json:"songTitle,omitempty"`
	SongArtist  string   `json:"songArtist,omitempty"`
	SongCover   string   `json:"songCover,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"` // seconds
	Duration    *float64 `json:"duration,omitempty"`    // seconds
	IsPlaying   *bool    `json:"isPlaying,omitempty"`
	Queue       []Track  `json:"queue,omitempty"`

	// Rare fields (TypeFullUpdate).
	RepeatMode string   `json:"repeatMode,omitempty"` // off|one|all
	IsShuffled *bool    `json:"isShuffled,omitempty"`
	Volume     *float64 `json:"volume,omitempty"`
	IsMuted    *bool    `json:"isMuted,omitempty"`

	// Command fields (TypeControl).
	Action   string   `json:"action,omitempty"`
	Position *float64 `json:"position,omitempty"` // milliseconds
	Song     *Track   `json:"song,omitempty"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }

// Pointer helpers for building envelopes with explicit field presence.
func Bool(b bool) *bool        { return &b }
func Float(f float64) *float64 { return &f }
