// Package a2s implements the Steam server query protocol. It covers
// A2S_INFO and A2S_PLAYER, including the challenge handshake newer
// server builds demand before answering either query.
package a2s

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

const (
	requestInfo   = 0x54 // 'T'
	requestPlayer = 0x55 // 'U'

	responseInfo      = 0x49 // 'I'
	responsePlayer    = 0x44 // 'D'
	responseChallenge = 0x41 // 'A'

	defaultTimeout = 5 * time.Second
	maxResponse    = 1400
)

var (
	connectionlessHeader = []byte{0xff, 0xff, 0xff, 0xff}
	infoPayload          = []byte("Source Engine Query\x00")
	noChallenge          = []byte{0xff, 0xff, 0xff, 0xff}
)

// Info is the parsed A2S_INFO reply.
type Info struct {
	Protocol   int
	Name       string
	Map        string
	Folder     string
	Game       string
	AppID      int
	Players    int
	MaxPlayers int
	Bots       int
	ServerType byte
	Passworded bool
	VAC        bool
	Version    string

	// Extra data, zero-valued when the server omits the flag.
	Port     int
	Keywords string
}

// Player is one entry in the A2S_PLAYER reply.
type Player struct {
	Name     string
	Score    int
	Duration time.Duration
}

// Client queries game servers over UDP. The zero timeout means
// defaultTimeout; a context deadline shortens it further.
type Client struct {
	timeout time.Duration
}

// NewClient returns a client with the given per-query timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{timeout: timeout}
}

// QueryInfo asks a server for its current name, map and player counts.
func (c *Client) QueryInfo(ctx context.Context, address string) (*Info, error) {
	payload, err := c.exchange(ctx, address, responseInfo, func(challenge []byte) []byte {
		req := append([]byte{}, connectionlessHeader...)
		req = append(req, requestInfo)
		req = append(req, infoPayload...)
		// The first attempt carries no challenge; servers that require one
		// reject it with an 'A' reply we answer on the retry.
		req = append(req, challenge...)
		return req
	})
	if err != nil {
		return nil, err
	}
	return parseInfo(payload)
}

// QueryPlayers asks a server for its connected player list.
func (c *Client) QueryPlayers(ctx context.Context, address string) ([]Player, error) {
	payload, err := c.exchange(ctx, address, responsePlayer, func(challenge []byte) []byte {
		if challenge == nil {
			challenge = noChallenge
		}
		req := append([]byte{}, connectionlessHeader...)
		req = append(req, requestPlayer)
		req = append(req, challenge...)
		return req
	})
	if err != nil {
		return nil, err
	}
	return parsePlayers(payload)
}

// exchange sends a request, answers at most one challenge, and returns
// the payload of the reply matching want.
func (c *Client) exchange(ctx context.Context, address string, want byte, build func(challenge []byte) []byte) ([]byte, error) {
	conn, err := net.Dial("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	typ, payload, err := c.roundTrip(conn, build(nil))
	if err != nil {
		return nil, err
	}
	if typ == responseChallenge {
		if len(payload) < 4 {
			return nil, fmt.Errorf("challenge reply too short: %d bytes", len(payload))
		}
		typ, payload, err = c.roundTrip(conn, build(payload[:4]))
		if err != nil {
			return nil, err
		}
	}
	if typ != want {
		return nil, fmt.Errorf("unexpected reply type 0x%02x, want 0x%02x", typ, want)
	}
	return payload, nil
}

func (c *Client) roundTrip(conn net.Conn, req []byte) (byte, []byte, error) {
	if _, err := conn.Write(req); err != nil {
		return 0, nil, fmt.Errorf("failed to send query: %w", err)
	}
	buf := make([]byte, maxResponse)
	n, err := conn.Read(buf)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read reply: %w", err)
	}
	if n < 5 || !bytes.Equal(buf[:4], connectionlessHeader) {
		return 0, nil, fmt.Errorf("malformed reply: %d bytes", n)
	}
	return buf[4], buf[5:n], nil
}

func parseInfo(payload []byte) (*Info, error) {
	r := bytes.NewReader(payload)
	info := &Info{}

	protocol, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("truncated info reply: %w", err)
	}
	info.Protocol = int(protocol)

	for _, dst := range []*string{&info.Name, &info.Map, &info.Folder, &info.Game} {
		if *dst, err = readCString(r); err != nil {
			return nil, fmt.Errorf("truncated info reply: %w", err)
		}
	}

	var appID uint16
	if err := binary.Read(r, binary.LittleEndian, &appID); err != nil {
		return nil, fmt.Errorf("truncated info reply: %w", err)
	}
	info.AppID = int(appID)

	counts := make([]byte, 3)
	if _, err := r.Read(counts); err != nil {
		return nil, fmt.Errorf("truncated info reply: %w", err)
	}
	info.Players = int(counts[0])
	info.MaxPlayers = int(counts[1])
	info.Bots = int(counts[2])

	flags := make([]byte, 4)
	if _, err := r.Read(flags); err != nil {
		return nil, fmt.Errorf("truncated info reply: %w", err)
	}
	info.ServerType = flags[0]
	// flags[1] is the host OS, unused.
	info.Passworded = flags[2] == 1
	info.VAC = flags[3] == 1

	if info.Version, err = readCString(r); err != nil {
		return nil, fmt.Errorf("truncated info reply: %w", err)
	}

	// Extra data flag. Everything past here is optional and best effort.
	edf, err := r.ReadByte()
	if err != nil {
		return info, nil
	}
	if edf&0x80 != 0 {
		var port uint16
		if err := binary.Read(r, binary.LittleEndian, &port); err == nil {
			info.Port = int(port)
		}
	}
	if edf&0x10 != 0 {
		var steamID uint64
		_ = binary.Read(r, binary.LittleEndian, &steamID)
	}
	if edf&0x40 != 0 {
		var tvPort uint16
		_ = binary.Read(r, binary.LittleEndian, &tvPort)
		_, _ = readCString(r)
	}
	if edf&0x20 != 0 {
		if kw, err := readCString(r); err == nil {
			info.Keywords = kw
		}
	}
	return info, nil
}

func parsePlayers(payload []byte) ([]Player, error) {
	r := bytes.NewReader(payload)

	count, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("truncated player reply: %w", err)
	}

	// Some engines report a zero count and still send entries, so the
	// count only sizes the allocation and the loop runs to exhaustion.
	players := make([]Player, 0, count)
	for r.Len() > 0 {
		if _, err := r.ReadByte(); err != nil { // per-entry index, unused
			break
		}
		var p Player
		if p.Name, err = readCString(r); err != nil {
			break
		}
		var score int32
		if err := binary.Read(r, binary.LittleEndian, &score); err != nil {
			break
		}
		var duration float32
		if err := binary.Read(r, binary.LittleEndian, &duration); err != nil {
			break
		}
		p.Score = int(score)
		p.Duration = time.Duration(float64(duration) * float64(time.Second))
		players = append(players, p)
	}
	return players, nil
}

func readCString(r *bytes.Reader) (string, error) {
	var out []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
	}
}
