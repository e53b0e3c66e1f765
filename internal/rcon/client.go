// Package rcon implements the Source remote-console protocol: length
// prefixed little-endian frames over TCP, an auth handshake, and
// multi-packet response assembly.
package rcon

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	packetTypeAuth          int32 = 3
	packetTypeAuthResponse  int32 = 2
	packetTypeExecCommand   int32 = 2
	packetTypeResponseValue int32 = 0

	// Frames larger than this are not legitimate RCON traffic.
	maxPacketSize = 16384

	defaultTimeout = 5 * time.Second
)

// ErrAuthFailed is returned when the server rejects the password.
var ErrAuthFailed = errors.New("rcon: authentication failed")

// Packet is one RCON frame.
type Packet struct {
	Size    int32
	ID      int32
	Type    int32
	Payload string
}

// Client is a single authenticated RCON connection. One exchange runs at a
// time; concurrent Exec calls serialize on the connection.
type Client struct {
	conn    net.Conn
	timeout time.Duration

	mu        sync.Mutex
	idCounter int32
}

// NewClient wraps an established connection. The caller still has to Auth.
func NewClient(conn net.Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{conn: conn, timeout: timeout}
}

// Dial connects and authenticates in one step.
func Dial(ctx context.Context, address, password string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("rcon: failed to connect to %s: %w", address, err)
	}
	c := NewClient(conn, timeout)
	if err := c.Auth(ctx, password); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Client) nextID() int32 {
	c.idCounter++
	return c.idCounter
}

// Auth performs the password handshake. Servers answer with an auth
// response carrying the request id on success and -1 on rejection.
func (c *Client) Auth(ctx context.Context, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	authID := c.nextID()
	if _, err := c.conn.Write(BuildPacket(authID, packetTypeAuth, password)); err != nil {
		return fmt.Errorf("rcon: failed to send auth packet: %w", err)
	}

	for {
		pkt, err := c.readPacket(ctx)
		if err != nil {
			return fmt.Errorf("rcon: failed to read auth response: %w", err)
		}
		// Some servers send an empty response value ahead of the auth
		// response; skip it.
		if pkt.Type == packetTypeResponseValue {
			continue
		}
		if pkt.Type != packetTypeAuthResponse {
			return fmt.Errorf("rcon: unexpected packet type %d during auth", pkt.Type)
		}
		if pkt.ID != authID {
			return ErrAuthFailed
		}
		return nil
	}
}

// Exec sends a command and assembles the full response. Long responses
// span several frames; an empty probe packet is sent after the first frame
// and its empty echo marks the end of the response.
func (c *Client) Exec(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	commandID := c.nextID()
	if _, err := c.conn.Write(BuildPacket(commandID, packetTypeExecCommand, command)); err != nil {
		return "", fmt.Errorf("rcon: failed to send command: %w", err)
	}

	var (
		full      bytes.Buffer
		sentProbe bool
	)
	for {
		pkt, err := c.readPacket(ctx)
		if err != nil {
			return "", fmt.Errorf("rcon: failed to read response: %w", err)
		}
		if pkt.ID != commandID {
			// Unsolicited frame, e.g. broadcast chatter. Skip it.
			continue
		}
		if pkt.Type != packetTypeResponseValue {
			return full.String(), fmt.Errorf("rcon: unexpected packet type %d", pkt.Type)
		}

		if sentProbe && pkt.Payload == "" {
			break
		}
		full.WriteString(pkt.Payload)

		if !sentProbe {
			if _, err := c.conn.Write(BuildPacket(commandID, packetTypeResponseValue, "")); err != nil {
				return full.String(), fmt.Errorf("rcon: failed to send probe packet: %w", err)
			}
			sentProbe = true
		}
	}
	return full.String(), nil
}

// BuildPacket encodes one frame: 4-byte size, 4-byte id, 4-byte type,
// payload, two null terminators.
func BuildPacket(id, packetType int32, payload string) []byte {
	body := append([]byte(payload), 0x00, 0x00)
	size := int32(4 + 4 + len(body))
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, size)
	binary.Write(buf, binary.LittleEndian, id)
	binary.Write(buf, binary.LittleEndian, packetType)
	buf.Write(body)
	return buf.Bytes()
}

func (c *Client) readPacket(ctx context.Context) (*Packet, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	sizeBytes := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, sizeBytes); err != nil {
		return nil, err
	}
	size := int32(binary.LittleEndian.Uint32(sizeBytes))
	if size < 10 || size > maxPacketSize {
		return nil, fmt.Errorf("invalid packet size %d", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, err
	}

	return &Packet{
		Size:    size,
		ID:      int32(binary.LittleEndian.Uint32(body[0:4])),
		Type:    int32(binary.LittleEndian.Uint32(body[4:8])),
		Payload: string(body[8 : len(body)-2]),
	}, nil
}
