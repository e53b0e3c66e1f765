// Package parser turns Half-Life engine log lines into typed events. It is
// pure: no storage, no transport, one line in, one event out. Lines the
// grammar does not cover fail with ErrUnparsed, which ingress treats as
// normal noise.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"halflife-tracker/internal/events"
)

// ErrUnparsed marks lines outside the recognized grammar.
var ErrUnparsed = errors.New("line not recognized")

// Log standard: `L MM/DD/YYYY - HH:MM:SS: <message>`.
const timestampLayout = "01/02/2006 - 15:04:05"

var linePrefix = regexp.MustCompile(`^L (\d{2}/\d{2}/\d{4} - \d{2}:\d{2}:\d{2}): (.*)$`)

// playerToken matches `"Name<uid><steamid><team>"`. The name is greedy so
// names containing angle brackets still parse; the trailing three groups
// are anchored.
const playerToken = `"(.+?)<(\d+)><([^<>]*)><([^<>]*)>"`

var (
	reConnect    = regexp.MustCompile(`^` + playerToken + ` connected, address "([^"]*)"$`)
	reDisconnect = regexp.MustCompile(`^` + playerToken + ` disconnected(?: \(reason "(.*)"\))?$`)
	reEntered    = regexp.MustCompile(`^` + playerToken + ` entered the game$`)
	reKill       = regexp.MustCompile(`^` + playerToken + ` killed ` + playerToken + ` with "([^"]+)"( \(headshot\))?$`)
	reSuicide    = regexp.MustCompile(`^` + playerToken + ` committed suicide with "([^"]+)"`)
	reAttack     = regexp.MustCompile(`^` + playerToken + ` attacked ` + playerToken + ` with "([^"]+)"(.*)$`)
	reSay        = regexp.MustCompile(`^` + playerToken + ` say(_team)? "(.*)"`)
	reChangeName = regexp.MustCompile(`^` + playerToken + ` changed name to "(.*)"$`)
	reJoinTeam   = regexp.MustCompile(`^` + playerToken + ` joined team "([^"]*)"$`)
	reChangeRole = regexp.MustCompile(`^` + playerToken + ` changed role to "([^"]*)"$`)
	reTrigPP     = regexp.MustCompile(`^` + playerToken + ` triggered "([^"]+)" against ` + playerToken + `(.*)$`)
	reTrigPlayer = regexp.MustCompile(`^` + playerToken + ` triggered "([^"]+)"(.*)$`)
	reTrigTeam   = regexp.MustCompile(`^Team "([^"]*)" triggered "([^"]+)"(.*)$`)
	reTrigWorld  = regexp.MustCompile(`^World triggered "([^"]+)"(.*)$`)

	reProperty = regexp.MustCompile(`\(([A-Za-z_]+) "([^"]*)"\)`)
)

// Parse converts one raw log line into an event stamped with serverID.
// The returned event has no EventID; the queue publisher assigns one.
func Parse(serverID, line string) (*events.Event, error) {
	line = strings.TrimRight(strings.TrimSpace(line), "\x00\n")
	m := linePrefix.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("%w: missing log prefix", ErrUnparsed)
	}

	ts, err := time.Parse(timestampLayout, m[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrUnparsed, m[1])
	}
	return parseMessage(serverID, ts, m[2])
}

func parseMessage(serverID string, ts time.Time, msg string) (*events.Event, error) {
	mk := func(t events.Type, meta *events.PlayerMeta, data events.Data) *events.Event {
		return &events.Event{Type: t, Timestamp: ts, ServerID: serverID, Meta: meta, Data: data}
	}

	if m := reConnect.FindStringSubmatch(msg); m != nil {
		return mk(events.TypePlayerConnect, meta(m[1:5]), &events.ConnectData{Address: m[5]}), nil
	}
	if m := reDisconnect.FindStringSubmatch(msg); m != nil {
		return mk(events.TypePlayerDisconnect, meta(m[1:5]), &events.DisconnectData{Reason: m[5]}), nil
	}
	if m := reEntered.FindStringSubmatch(msg); m != nil {
		return mk(events.TypePlayerEntry, meta(m[1:5]), &events.EntryData{}), nil
	}
	if m := reKill.FindStringSubmatch(msg); m != nil {
		killer := meta(m[1:5])
		victim := meta(m[5:9])
		return mk(events.TypePlayerKill, killer, &events.KillData{
			Killer:   *killer,
			Victim:   *victim,
			Weapon:   m[9],
			Headshot: m[10] != "",
		}), nil
	}
	if m := reSuicide.FindStringSubmatch(msg); m != nil {
		return mk(events.TypePlayerSuicide, meta(m[1:5]), &events.SuicideData{Weapon: m[5]}), nil
	}
	if m := reAttack.FindStringSubmatch(msg); m != nil {
		attacker := meta(m[1:5])
		victim := meta(m[5:9])
		props := properties(m[10])
		return mk(events.TypePlayerDamage, attacker, &events.DamageData{
			Victim:   *victim,
			Weapon:   m[9],
			Damage:   atoi(props["damage"]),
			Hitgroup: props["hitgroup"],
		}), nil
	}
	if m := reSay.FindStringSubmatch(msg); m != nil {
		mode := 0
		if m[5] == "_team" {
			mode = 1
		}
		return mk(events.TypeChatMessage, meta(m[1:5]), &events.ChatData{Message: m[6], Mode: mode}), nil
	}
	if m := reChangeName.FindStringSubmatch(msg); m != nil {
		return mk(events.TypePlayerChangeName, meta(m[1:5]), &events.ChangeNameData{NewName: m[5]}), nil
	}
	if m := reJoinTeam.FindStringSubmatch(msg); m != nil {
		return mk(events.TypePlayerChangeTeam, meta(m[1:5]), &events.ChangeTeamData{Team: m[5]}), nil
	}
	if m := reChangeRole.FindStringSubmatch(msg); m != nil {
		return mk(events.TypePlayerChangeRole, meta(m[1:5]), &events.ChangeRoleData{Role: m[5]}), nil
	}
	if m := reTrigPP.FindStringSubmatch(msg); m != nil {
		actor := meta(m[1:5])
		victim := meta(m[6:10])
		return mk(events.TypeActionPlayerPlayer, actor, &events.ActionPlayerPlayerData{
			Action: m[5],
			Victim: *victim,
		}), nil
	}
	if m := reTrigPlayer.FindStringSubmatch(msg); m != nil {
		return playerTrigger(mk, meta(m[1:5]), m[5], properties(m[6]))
	}
	if m := reTrigTeam.FindStringSubmatch(msg); m != nil {
		return mk(events.TypeActionTeam, nil, &events.ActionTeamData{Team: m[1], Action: m[2]}), nil
	}
	if m := reTrigWorld.FindStringSubmatch(msg); m != nil {
		switch m[1] {
		case "Round_Start":
			return mk(events.TypeRoundStart, nil, &events.RoundStartData{}), nil
		case "Round_End":
			return mk(events.TypeRoundEnd, nil, &events.RoundEndData{}), nil
		}
		return nil, fmt.Errorf("%w: world trigger %q", ErrUnparsed, m[1])
	}

	return nil, fmt.Errorf("%w: %q", ErrUnparsed, msg)
}

// playerTrigger splits the trigger namespace: the engine logs weapon
// telemetry through the same production as scored game actions.
func playerTrigger(mk func(events.Type, *events.PlayerMeta, events.Data) *events.Event, actor *events.PlayerMeta, action string, props map[string]string) (*events.Event, error) {
	switch action {
	case "weapon_fire":
		return mk(events.TypeWeaponFire, actor, &events.WeaponFireData{Weapon: props["weapon"]}), nil
	case "weapon_hit":
		return mk(events.TypeWeaponHit, actor, &events.WeaponHitData{
			Weapon:   props["weapon"],
			Hitgroup: props["hitgroup"],
			Damage:   atoi(props["damage"]),
		}), nil
	}
	return mk(events.TypeActionPlayer, actor, &events.ActionPlayerData{
		Action:     action,
		Properties: nonEmpty(props),
	}), nil
}

// meta builds a PlayerMeta from the four player token captures.
func meta(m []string) *events.PlayerMeta {
	steamID := m[2]
	return &events.PlayerMeta{
		PlayerName: m[0],
		GameUserID: atoi(m[1]),
		SteamID:    steamID,
		Team:       m[3],
		IsBot:      strings.EqualFold(steamID, "BOT"),
	}
}

// properties parses the `(key "value")` suffixes shared by several
// productions. Repeated keys keep the last value.
func properties(s string) map[string]string {
	out := make(map[string]string)
	for _, m := range reProperty.FindAllStringSubmatch(s, -1) {
		out[m[1]] = m[2]
	}
	return out
}

func nonEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
