package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the queue wire format. Data stays raw until the type is known.
type envelope struct {
	EventType     Type            `json:"eventType"`
	Timestamp     time.Time       `json:"timestamp"`
	ServerID      string          `json:"serverId"`
	EventID       string          `json:"eventId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Meta          *PlayerMeta     `json:"meta,omitempty"`
	Data          json.RawMessage `json:"data"`
}

var dataFactories = map[Type]func() Data{
	TypePlayerConnect:       func() Data { return &ConnectData{} },
	TypePlayerDisconnect:    func() Data { return &DisconnectData{} },
	TypePlayerEntry:         func() Data { return &EntryData{} },
	TypePlayerKill:          func() Data { return &KillData{} },
	TypePlayerSuicide:       func() Data { return &SuicideData{} },
	TypePlayerTeamkill:      func() Data { return &TeamkillData{} },
	TypePlayerDamage:        func() Data { return &DamageData{} },
	TypeWeaponFire:          func() Data { return &WeaponFireData{} },
	TypeWeaponHit:           func() Data { return &WeaponHitData{} },
	TypePlayerChangeName:    func() Data { return &ChangeNameData{} },
	TypePlayerChangeTeam:    func() Data { return &ChangeTeamData{} },
	TypePlayerChangeRole:    func() Data { return &ChangeRoleData{} },
	TypeChatMessage:         func() Data { return &ChatData{} },
	TypeActionPlayer:        func() Data { return &ActionPlayerData{} },
	TypeActionTeam:          func() Data { return &ActionTeamData{} },
	TypeActionPlayerPlayer:  func() Data { return &ActionPlayerPlayerData{} },
	TypeRoundStart:          func() Data { return &RoundStartData{} },
	TypeRoundEnd:            func() Data { return &RoundEndData{} },
	TypeServerAuthenticated: func() Data { return &ServerAuthenticatedData{} },
}

// Marshal encodes an event into its JSON envelope.
func Marshal(e *Event) ([]byte, error) {
	if err := Validate(e); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	env := envelope{
		EventType:     e.Type,
		Timestamp:     e.Timestamp,
		ServerID:      e.ServerID,
		EventID:       e.EventID,
		CorrelationID: e.CorrelationID,
		Meta:          e.Meta,
		Data:          raw,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a JSON envelope into a typed event. Unknown event types
// and malformed payloads are validation errors so the consumer can
// dead-letter instead of redelivering them forever.
func Unmarshal(b []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed event envelope: %v", ErrValidation, err)
	}
	factory, ok := dataFactories[env.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, env.EventType)
	}
	data := factory()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return nil, fmt.Errorf("%w: malformed %s data: %v", ErrValidation, env.EventType, err)
		}
	}
	e := &Event{
		Type:          env.EventType,
		Timestamp:     env.Timestamp,
		ServerID:      env.ServerID,
		EventID:       env.EventID,
		CorrelationID: env.CorrelationID,
		Meta:          env.Meta,
		Data:          data,
	}
	if err := Validate(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks the header contract: known type, server id, timestamp, and
// well-formed optional ids.
func Validate(e *Event) error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrValidation)
	}
	if !KnownType(e.Type) {
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, e.Type)
	}
	if e.ServerID == "" {
		return fmt.Errorf("%w: event %s missing serverId", ErrValidation, e.Type)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: event %s missing timestamp", ErrValidation, e.Type)
	}
	if e.EventID != "" && !ValidEventID(e.EventID) {
		return fmt.Errorf("%w: malformed eventId %q", ErrValidation, e.EventID)
	}
	if e.CorrelationID != "" && !ValidCorrelationID(e.CorrelationID) {
		return fmt.Errorf("%w: malformed correlationId %q", ErrValidation, e.CorrelationID)
	}
	if e.Data == nil {
		return fmt.Errorf("%w: event %s missing data", ErrValidation, e.Type)
	}
	return nil
}
