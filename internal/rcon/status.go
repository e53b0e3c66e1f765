package rcon

import (
	"regexp"
	"strconv"
	"strings"
)

// StatusInfo is the parsed output of the status command.
type StatusInfo struct {
	Hostname      string
	Version       string
	Address       string
	Map           string
	ActivePlayers int
	BotCount      int
	MaxPlayers    int
	Players       []StatusPlayer
}

// StatusPlayer is one row of the status player table.
type StatusPlayer struct {
	Name     string
	UserID   int
	UniqueID string
	IsBot    bool
	Frags    int
	Time     string
	Ping     int
	Loss     int
	Address  string
}

var (
	quotedNameRe = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	playersLineRe = regexp.MustCompile(`(\d+)\s+(?:active|humans?)(?:,\s*(\d+)\s+bots?)?\s*\((\d+)\s+max`)
)

// ParseStatus parses the status command output of both engine families.
// The header is key-value lines; the player table differs between them:
// the old engine puts the slot number before the quoted name and the user
// id after it, the newer one leads with the user id.
func ParseStatus(raw string) *StatusInfo {
	info := &StatusInfo{}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			if p, ok := parseStatusPlayerLine(trimmed); ok {
				info.Players = append(info.Players, p)
			}
			continue
		}

		key, value, found := strings.Cut(trimmed, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "hostname":
			info.Hostname = value
		case "version":
			info.Version = value
		case "tcp/ip", "udp/ip", "udp / ip":
			info.Address = value
		case "map":
			// "de_dust2 at: 0 x, 0 y, 0 z" keeps only the map name.
			if fields := strings.Fields(value); len(fields) > 0 {
				info.Map = fields[0]
			}
		case "players":
			if m := playersLineRe.FindStringSubmatch(value); m != nil {
				info.ActivePlayers, _ = strconv.Atoi(m[1])
				if m[2] != "" {
					info.BotCount, _ = strconv.Atoi(m[2])
				}
				info.MaxPlayers, _ = strconv.Atoi(m[3])
			}
		}
	}

	return info
}

func parseStatusPlayerLine(line string) (StatusPlayer, bool) {
	var p StatusPlayer

	nameLoc := quotedNameRe.FindStringSubmatchIndex(line)
	if nameLoc == nil {
		// Header row or malformed line.
		return p, false
	}
	p.Name = strings.ReplaceAll(line[nameLoc[2]:nameLoc[3]], `\"`, `"`)

	before := strings.Fields(strings.TrimPrefix(line[:nameLoc[0]], "#"))
	after := strings.Fields(line[nameLoc[1]:])
	if len(after) == 0 {
		return p, false
	}

	if looksLikeUniqueID(after[0]) {
		// Newer layout: # userid "name" uniqueid connected ping loss state adr
		if len(before) == 0 {
			return p, false
		}
		uid, err := strconv.Atoi(before[len(before)-1])
		if err != nil {
			return p, false
		}
		p.UserID = uid
		p.UniqueID = after[0]
		rest := after[1:]
		if len(rest) > 0 {
			p.Time = rest[0]
		}
		if len(rest) > 1 {
			p.Ping, _ = strconv.Atoi(rest[1])
		}
		if len(rest) > 2 {
			p.Loss, _ = strconv.Atoi(rest[2])
		}
		if len(rest) > 0 {
			if last := rest[len(rest)-1]; strings.Contains(last, ":") {
				p.Address = last
			}
		}
	} else {
		// Old layout: # slot "name" userid uniqueid frag time ping loss adr
		if len(after) < 2 || !looksLikeUniqueID(after[1]) {
			return p, false
		}
		uid, err := strconv.Atoi(after[0])
		if err != nil {
			return p, false
		}
		p.UserID = uid
		p.UniqueID = after[1]
		rest := after[2:]
		if len(rest) > 0 {
			p.Frags, _ = strconv.Atoi(rest[0])
		}
		if len(rest) > 1 {
			p.Time = rest[1]
		}
		if len(rest) > 2 {
			p.Ping, _ = strconv.Atoi(rest[2])
		}
		if len(rest) > 3 {
			p.Loss, _ = strconv.Atoi(rest[3])
		}
		if len(rest) > 4 && strings.Contains(rest[len(rest)-1], ":") {
			p.Address = rest[len(rest)-1]
		}
	}

	p.IsBot = p.UniqueID == "BOT"
	return p, true
}

func looksLikeUniqueID(token string) bool {
	upper := strings.ToUpper(token)
	switch {
	case strings.HasPrefix(upper, "STEAM_"):
		return true
	case upper == "BOT" || upper == "HLTV":
		return true
	case strings.HasPrefix(token, "[U:") && strings.HasSuffix(token, "]"):
		return true
	case len(token) == 17 && strings.HasPrefix(token, "7656"):
		return true
	}
	return false
}
