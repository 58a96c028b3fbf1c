package domain

// Role is the kind of caller attached to a session.
type Role string

const (
	RoleHost     Role = "host"
	RolePlayer   Role = "player"
	RoleObserver Role = "observer"
)

// Identity is the caller credential. Exactly one field must be set.
type Identity struct {
	HostToken  string
	PlayerID   string
	ObserverID string
}

func HostIdentity(token string) Identity { return Identity{HostToken: token} }
func PlayerIdentity(id string) Identity { return Identity{PlayerID: id} }
func ObserverIdentity(id string) Identity { return Identity{ObserverID: id} }

// Role validates the identity and reports which role it carries.
func (i Identity) Role() (Role, error) {
	var role Role
	set := 0
	if i.HostToken != "" {
		role = RoleHost
		set++
	}
	if i.PlayerID != "" {
		role = RolePlayer
		set++
	}
	if i.ObserverID != "" {
		role = RoleObserver
		set++
	}
	if set != 1 {
		return "", ErrInvalidIdentity
	}
	return role, nil
}

// IdentifyMessage is the handshake frame sent right after the push channel opens.
func (i Identity) IdentifyMessage() (map[string]string, error) {
	role, err := i.Role()
	if err != nil {
		return nil, err
	}
	switch role {
	case RoleHost:
		return map[string]string{"type": "identify_host", "hostToken": i.HostToken}, nil
	case RolePlayer:
		return map[string]string{"type": "identify_player", "playerId": i.PlayerID}, nil
	default:
		return map[string]string{"type": "identify_observer", "observerId": i.ObserverID}, nil
	}
}
