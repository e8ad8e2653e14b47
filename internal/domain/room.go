package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type RoomID string

// Room is an entry of the room listing served next to the signaling relay.
// On the wire createdAt is epoch milliseconds; RFC 3339 strings are accepted too.
type Room struct {
	ID        RoomID    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

type roomWire struct {
	ID        RoomID          `json:"id"`
	CreatedAt json.RawMessage `json:"createdAt"`
}

func (r Room) MarshalJSON() ([]byte, error) {
	var ms int64
	if !r.CreatedAt.IsZero() {
		ms = r.CreatedAt.UnixMilli()
	}
	return json.Marshal(struct {
		ID        RoomID `json:"id"`
		CreatedAt int64  `json:"createdAt"`
	}{r.ID, ms})
}

func (r *Room) UnmarshalJSON(data []byte) error {
	var w roomWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.CreatedAt = time.Time{}
	if len(w.CreatedAt) == 0 || string(w.CreatedAt) == "null" {
		return nil
	}
	var ms float64
	if err := json.Unmarshal(w.CreatedAt, &ms); err == nil {
		if ms != 0 {
			r.CreatedAt = time.UnixMilli(int64(ms)).UTC()
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(w.CreatedAt, &s); err != nil {
		return fmt.Errorf("room %s: createdAt: %w", w.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("room %s: createdAt: %w", w.ID, err)
	}
	r.CreatedAt = t
	return nil
}
