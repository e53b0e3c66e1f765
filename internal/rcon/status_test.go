package rcon

import (
	"testing"
)

const goldsrcStatus = `hostname:  My CS Server
version :  48/1.1.2.7/Stdio 10211 secure  (10)
tcp/ip  :  192.0.2.1:27015
map     :  de_dust2 at: 0 x, 0 y, 0 z
players :  3 active (32 max)

#      name userid uniqueid frag time ping loss adr
# 1   "Player1" 2 STEAM_0:1:123456 12 13:37 42 0 192.0.2.10:27005
# 2   "Agent Smith" 3 BOT 5 13:37 0 0
# 3   "Player | Two" 4 STEAM_0:0:654321 0 01:02 100 2 192.0.2.11:27005
3 users
`

const sourceStatus = `hostname: My Source Server
version : 1.38.2.2/24 6630498 secure
udp/ip  : 192.0.2.1:27016
map     : cp_badlands
players : 2 humans, 1 bots (24 max)

# userid name                uniqueid            connected ping loss state  adr
#      2 "Player1"           [U:1:246913]        13:37     42   0    active 192.0.2.10:27005
#      3 "SourceBot"         BOT                                     active
#      4 "Player2"           [U:1:1308642]       01:02     100  2    active 192.0.2.11:27005
`

func TestParseStatusGoldsrc(t *testing.T) {
	info := ParseStatus(goldsrcStatus)

	if info.Hostname != "My CS Server" {
		t.Errorf("Hostname = %q", info.Hostname)
	}
	if info.Map != "de_dust2" {
		t.Errorf("Map = %q, want de_dust2", info.Map)
	}
	if info.ActivePlayers != 3 || info.MaxPlayers != 32 {
		t.Errorf("players = %d/%d, want 3/32", info.ActivePlayers, info.MaxPlayers)
	}
	if info.Address != "192.0.2.1:27015" {
		t.Errorf("Address = %q", info.Address)
	}
	if len(info.Players) != 3 {
		t.Fatalf("player rows = %d, want 3", len(info.Players))
	}

	p := info.Players[0]
	if p.Name != "Player1" || p.UserID != 2 || p.UniqueID != "STEAM_0:1:123456" {
		t.Errorf("row 0 = %+v", p)
	}
	if p.Frags != 12 || p.Time != "13:37" || p.Ping != 42 || p.Loss != 0 {
		t.Errorf("row 0 stats = %+v", p)
	}
	if p.Address != "192.0.2.10:27005" {
		t.Errorf("row 0 address = %q", p.Address)
	}
	if p.IsBot {
		t.Error("row 0 should not be a bot")
	}

	bot := info.Players[1]
	if !bot.IsBot || bot.UserID != 3 || bot.Name != "Agent Smith" {
		t.Errorf("bot row = %+v", bot)
	}
	if bot.Address != "" {
		t.Errorf("bot address = %q, want empty", bot.Address)
	}

	spaced := info.Players[2]
	if spaced.Name != "Player | Two" {
		t.Errorf("name with separators = %q", spaced.Name)
	}
}

func TestParseStatusSource(t *testing.T) {
	info := ParseStatus(sourceStatus)

	if info.Hostname != "My Source Server" {
		t.Errorf("Hostname = %q", info.Hostname)
	}
	if info.Map != "cp_badlands" {
		t.Errorf("Map = %q", info.Map)
	}
	if info.ActivePlayers != 2 || info.BotCount != 1 || info.MaxPlayers != 24 {
		t.Errorf("players = %d+%d/%d, want 2+1/24", info.ActivePlayers, info.BotCount, info.MaxPlayers)
	}
	if len(info.Players) != 3 {
		t.Fatalf("player rows = %d, want 3", len(info.Players))
	}

	p := info.Players[0]
	if p.UserID != 2 || p.UniqueID != "[U:1:246913]" || p.Name != "Player1" {
		t.Errorf("row 0 = %+v", p)
	}
	if p.Ping != 42 || p.Address != "192.0.2.10:27005" {
		t.Errorf("row 0 stats = %+v", p)
	}

	if !info.Players[1].IsBot {
		t.Error("row 1 should be a bot")
	}
}

func TestParseStatusSkipsHeaderAndGarbage(t *testing.T) {
	raw := `#      name userid uniqueid frag time ping loss adr
# not a player row at all
some unrelated line
`
	info := ParseStatus(raw)
	if len(info.Players) != 0 {
		t.Errorf("player rows = %d, want 0", len(info.Players))
	}
}

func TestParseStatusEmpty(t *testing.T) {
	info := ParseStatus("")
	if info == nil {
		t.Fatal("ParseStatus() = nil")
	}
	if len(info.Players) != 0 || info.MaxPlayers != 0 {
		t.Errorf("empty parse = %+v", info)
	}
}
