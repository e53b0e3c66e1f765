package events

import (
	"time"
)

// Type discriminates event variants. Values are the wire-level tags used in
// queue payloads and bus routing.
type Type string

const (
	// Player lifecycle events
	TypePlayerConnect    Type = "PLAYER_CONNECT"
	TypePlayerDisconnect Type = "PLAYER_DISCONNECT"
	TypePlayerEntry      Type = "PLAYER_ENTRY"

	// Combat events
	TypePlayerKill     Type = "PLAYER_KILL"
	TypePlayerSuicide  Type = "PLAYER_SUICIDE"
	TypePlayerTeamkill Type = "PLAYER_TEAMKILL"
	TypePlayerDamage   Type = "PLAYER_DAMAGE"
	TypeWeaponFire     Type = "WEAPON_FIRE"
	TypeWeaponHit      Type = "WEAPON_HIT"

	// Identity and chat events
	TypePlayerChangeName Type = "PLAYER_CHANGE_NAME"
	TypePlayerChangeTeam Type = "PLAYER_CHANGE_TEAM"
	TypePlayerChangeRole Type = "PLAYER_CHANGE_ROLE"
	TypeChatMessage      Type = "CHAT_MESSAGE"

	// Trigger events
	TypeActionPlayer       Type = "ACTION_PLAYER"
	TypeActionTeam         Type = "ACTION_TEAM"
	TypeActionPlayerPlayer Type = "ACTION_PLAYER_PLAYER"

	// World and server events
	TypeRoundStart          Type = "ROUND_START"
	TypeRoundEnd            Type = "ROUND_END"
	TypeServerAuthenticated Type = "SERVER_AUTHENTICATED"
)

// AllTypes lists every known event type, in taxonomy order.
var AllTypes = []Type{
	TypePlayerConnect, TypePlayerDisconnect, TypePlayerKill, TypePlayerSuicide,
	TypePlayerTeamkill, TypePlayerDamage, TypePlayerEntry, TypePlayerChangeName,
	TypePlayerChangeTeam, TypePlayerChangeRole, TypeChatMessage, TypeWeaponFire,
	TypeWeaponHit, TypeActionPlayer, TypeActionTeam, TypeActionPlayerPlayer,
	TypeRoundStart, TypeRoundEnd, TypeServerAuthenticated,
}

// KnownType reports whether t is part of the closed taxonomy.
func KnownType(t Type) bool {
	_, ok := dataFactories[t]
	return ok
}

// PlayerMeta is the player identity as parsed from the raw log line, before
// any resolution against persistent records. SteamID may be the literal "BOT"
// for bot slots.
type PlayerMeta struct {
	PlayerName string `json:"playerName"`
	GameUserID int    `json:"gameUserId"`
	SteamID    string `json:"steamId"`
	Team       string `json:"team,omitempty"`
	IsBot      bool   `json:"isBot,omitempty"`
}

// Event is the common header shared by all variants. Meta carries the acting
// player's parsed identity where one exists; Data carries the variant payload.
type Event struct {
	Type          Type
	Timestamp     time.Time
	ServerID      string
	EventID       string
	CorrelationID string
	Meta          *PlayerMeta
	Data          Data
}

// Data is the variant payload. The set of implementations is closed; decoding
// unknown types fails validation.
type Data interface {
	eventData()
}

// ConnectData accompanies PLAYER_CONNECT. Identity is in Meta.
type ConnectData struct {
	Address string `json:"address,omitempty"`
}

// DisconnectData accompanies PLAYER_DISCONNECT.
type DisconnectData struct {
	Reason string `json:"reason,omitempty"`
}

// EntryData accompanies PLAYER_ENTRY.
type EntryData struct{}

// KillData accompanies PLAYER_KILL. The killer identity is duplicated in Meta
// for uniformity with single-actor events.
type KillData struct {
	Killer   PlayerMeta `json:"killer"`
	Victim   PlayerMeta `json:"victim"`
	Weapon   string     `json:"weapon"`
	Headshot bool       `json:"headshot,omitempty"`
}

// SuicideData accompanies PLAYER_SUICIDE.
type SuicideData struct {
	Weapon string `json:"weapon,omitempty"`
}

// TeamkillData accompanies PLAYER_TEAMKILL.
type TeamkillData struct {
	Killer PlayerMeta `json:"killer"`
	Victim PlayerMeta `json:"victim"`
	Weapon string     `json:"weapon"`
}

// DamageData accompanies PLAYER_DAMAGE. The attacker is in Meta.
type DamageData struct {
	Victim   PlayerMeta `json:"victim"`
	Weapon   string     `json:"weapon"`
	Damage   int        `json:"damage"`
	Hitgroup string     `json:"hitgroup,omitempty"`
}

// WeaponFireData accompanies WEAPON_FIRE.
type WeaponFireData struct {
	Weapon string `json:"weapon"`
}

// WeaponHitData accompanies WEAPON_HIT.
type WeaponHitData struct {
	Weapon   string `json:"weapon"`
	Hitgroup string `json:"hitgroup,omitempty"`
	Damage   int    `json:"damage,omitempty"`
}

// ChangeNameData accompanies PLAYER_CHANGE_NAME. Meta holds the old identity.
type ChangeNameData struct {
	NewName string `json:"newName"`
}

// ChangeTeamData accompanies PLAYER_CHANGE_TEAM.
type ChangeTeamData struct {
	Team string `json:"team"`
}

// ChangeRoleData accompanies PLAYER_CHANGE_ROLE.
type ChangeRoleData struct {
	Role string `json:"role"`
}

// ChatData accompanies CHAT_MESSAGE. Mode 0 is all-chat, 1 is team chat.
type ChatData struct {
	Message string `json:"message"`
	Mode    int    `json:"mode"`
}

// ActionPlayerData accompanies ACTION_PLAYER.
type ActionPlayerData struct {
	Action     string            `json:"action"`
	Properties map[string]string `json:"properties,omitempty"`
}

// ActionTeamData accompanies ACTION_TEAM. No Meta; the actor is a team.
type ActionTeamData struct {
	Team   string `json:"team"`
	Action string `json:"action"`
}

// ActionPlayerPlayerData accompanies ACTION_PLAYER_PLAYER.
type ActionPlayerPlayerData struct {
	Action string     `json:"action"`
	Victim PlayerMeta `json:"victim"`
}

// RoundStartData accompanies ROUND_START.
type RoundStartData struct{}

// RoundEndData accompanies ROUND_END.
type RoundEndData struct{}

// ServerAuthenticatedData accompanies SERVER_AUTHENTICATED, emitted when a
// server's log stream is first recognized in this process epoch.
type ServerAuthenticatedData struct {
	Address string `json:"address,omitempty"`
}

func (ConnectData) eventData()             {}
func (DisconnectData) eventData()          {}
func (EntryData) eventData()               {}
func (KillData) eventData()                {}
func (SuicideData) eventData()             {}
func (TeamkillData) eventData()            {}
func (DamageData) eventData()              {}
func (WeaponFireData) eventData()          {}
func (WeaponHitData) eventData()           {}
func (ChangeNameData) eventData()          {}
func (ChangeTeamData) eventData()          {}
func (ChangeRoleData) eventData()          {}
func (ChatData) eventData()                {}
func (ActionPlayerData) eventData()        {}
func (ActionTeamData) eventData()          {}
func (ActionPlayerPlayerData) eventData()  {}
func (RoundStartData) eventData()          {}
func (RoundEndData) eventData()            {}
func (ServerAuthenticatedData) eventData() {}
