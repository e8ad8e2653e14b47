package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSdpMessage(t *testing.T) {
	m, err := NewSdpMessage(SdpOffer, "v=0")
	require.NoError(t, err)
	assert.Equal(t, SdpOffer, m.Kind())
	assert.Equal(t, "v=0", m.Body())
	assert.False(t, m.IsZero())

	_, err = NewSdpMessage("pranswer", "v=0")
	assert.ErrorIs(t, err, ErrUnknownSdpKind)
	_, err = NewSdpMessage(SdpAnswer, "")
	assert.ErrorIs(t, err, ErrEmptySdp)
	assert.True(t, SdpMessage{}.IsZero())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("push")
	require.NoError(t, err)
	assert.Equal(t, ModePush, m)
	m, err = ParseMode("pull")
	require.NoError(t, err)
	assert.Equal(t, ModePull, m)
	_, err = ParseMode("stream")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestStateStartable(t *testing.T) {
	startable := map[State]bool{
		StateUninit:       true,
		StateNegotiating:  false,
		StateConnected:    false,
		StateDisconnected: true,
		StateClosed:       false,
	}
	for s, want := range startable {
		assert.Equal(t, want, s.Startable(), s.String())
	}
}

func TestParseCandidateType(t *testing.T) {
	for _, s := range []string{"host", "srflx", "relay", "prflx"} {
		ct, ok := ParseCandidateType(s)
		assert.True(t, ok, s)
		assert.Equal(t, CandidateType(s), ct)
	}
	_, ok := ParseCandidateType("candidate")
	assert.False(t, ok)
}

func TestParseTrackKind(t *testing.T) {
	k, err := ParseTrackKind("video")
	require.NoError(t, err)
	assert.Equal(t, TrackVideo, k)
	_, err = ParseTrackKind("data")
	assert.ErrorIs(t, err, ErrUnknownTrackKind)
}

func TestNewPeer(t *testing.T) {
	p, err := NewPeer("python")
	require.NoError(t, err)
	assert.Equal(t, RolePublisher, p.Role)
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.JoinedAt.IsZero())

	_, err = NewPeer("")
	assert.ErrorIs(t, err, ErrRoleEmpty)
	_, err = NewPeer(strings.Repeat("r", MaxRoleLen+1))
	assert.ErrorIs(t, err, ErrRoleTooLong)
}

func TestRoleCounterpart(t *testing.T) {
	assert.Equal(t, RoleBrowser, RolePublisher.Counterpart())
	assert.Equal(t, RolePublisher, RoleBrowser.Counterpart())
	assert.Equal(t, RolePublisher, Role("viewer").Counterpart())
}

func TestRoomJSON(t *testing.T) {
	var rooms []Room
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id":"ar","createdAt":1718000000000},
		{"id":"b","createdAt":"2026-10-17T09:30:00Z"},
		{"id":"c"}
	]`), &rooms))
	require.Len(t, rooms, 3)
	assert.Equal(t, time.UnixMilli(1718000000000).UTC(), rooms[0].CreatedAt)
	assert.Equal(t, time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC), rooms[1].CreatedAt)
	assert.True(t, rooms[2].CreatedAt.IsZero())

	out, err := json.Marshal(rooms[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ar","createdAt":1718000000000}`, string(out))

	var bad Room
	assert.Error(t, json.Unmarshal([]byte(`{"id":"x","createdAt":"yesterday"}`), &bad))
}
