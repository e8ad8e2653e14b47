package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxRoleLen = 36

var (
	ErrRoleTooLong = errors.New("role too long")
	ErrRoleEmpty   = errors.New("role empty")
)

type (
	PeerID string
	Role   string
)

const (
	// RoleBrowser is the readiness frame a receiving client announces itself with.
	RoleBrowser Role = "browser"
	// RolePublisher is the role media publishers announce on the relay.
	RolePublisher Role = "python"
)

// Peer is one connection registered on the signaling relay.
type Peer struct {
	ID       PeerID    `json:"id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// NewPeer validates the announced role and assigns a fresh id.
func NewPeer(role string) (*Peer, error) {
	if len(role) == 0 {
		return nil, ErrRoleEmpty
	}
	if len(role) > MaxRoleLen {
		return nil, ErrRoleTooLong
	}
	return &Peer{
		ID:       PeerID(uuid.NewString()),
		Role:     Role(role),
		JoinedAt: time.Now(),
	}, nil
}

// Counterpart is the role frames from r are forwarded to.
func (r Role) Counterpart() Role {
	if r == RolePublisher {
		return RoleBrowser
	}
	return RolePublisher
}
