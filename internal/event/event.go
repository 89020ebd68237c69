package event

import "strings"

// Canonical event types. Upstream names outside the closed taxonomy are
// passed through with the raw prefix so no data is silently discarded.
const (
	TypeGameTick      = "game.tick"
	TypePlayerState   = "player.state"
	TypePlayerTrade   = "player.trade"
	TypeSidebetPlaced = "sidebet.placed"
	TypeSidebetResult = "sidebet.result"
	TypeAuthenticated = "connection.authenticated"

	RawPrefix = "raw."
)

// Event is one normalized protocol event. Immutable after creation: it is
// shared by value between bus subscribers and the store writer.
type Event struct {
	Type   string         `json:"type"`
	Ts     int64          `json:"ts"` // unix millis
	GameID string         `json:"game_id,omitempty"`
	Seq    uint64         `json:"seq"`
	Epoch  uint64         `json:"epoch"` // connection epoch; seq restarts per epoch
	Data   map[string]any `json:"data,omitempty"`
}

// Category returns the partition key for persistence: the segment before the
// first dot ("game", "player", "sidebet", "connection", "raw").
func (e Event) Category() string {
	if i := strings.IndexByte(e.Type, '.'); i > 0 {
		return e.Type[:i]
	}
	return e.Type
}

// Float reads a numeric payload field. JSON numbers decode as float64.
func (e Event) Float(key string) (float64, bool) {
	v, ok := e.Data[key].(float64)
	return v, ok
}

// Int reads a numeric payload field truncated to int64.
func (e Event) Int(key string) (int64, bool) {
	v, ok := e.Data[key].(float64)
	return int64(v), ok
}

// Bool reads a boolean payload field. Absent fields read as false.
func (e Event) Bool(key string) bool {
	v, _ := e.Data[key].(bool)
	return v
}

// Str reads a string payload field.
func (e Event) Str(key string) string {
	v, _ := e.Data[key].(string)
	return v
}
