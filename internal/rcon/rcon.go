// Package rcon implements the subset of the Source RCON wire protocol
// Factorio's dedicated server speaks (its "quirks" mode, in the
// terminology of the Rust rcon crate original_source/src/instance.rs
// builds with .enable_factorio_quirks(true)): authenticate, send exactly
// one command, read exactly one response packet, and disconnect.
//
// No RCON client library of any kind appears anywhere in the example
// corpus, so this is hand-rolled directly against the documented Source
// RCON packet format — see DESIGN.md for the justification.
package rcon

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"factorio-instanced/internal/ferrors"
)

const (
	packetTypeResponseValue = 0
	packetTypeExecCommand   = 2
	packetTypeAuthResponse  = 2
	packetTypeAuth          = 3

	maxBodySize = 4096

	dialTimeout  = 5 * time.Second
	replyTimeout = 10 * time.Second
)

// packet is one Source RCON protocol frame: a little-endian int32 size
// prefix (covering everything after itself), a request ID, a type, a
// NUL-terminated body, and a trailing empty-string NUL terminator.
type packet struct {
	id   int32
	typ  int32
	body string
}

func (p packet) encode() []byte {
	var body bytes.Buffer
	body.Grow(4 + 4 + len(p.body) + 2)
	_ = binary.Write(&body, binary.LittleEndian, p.id)
	_ = binary.Write(&body, binary.LittleEndian, p.typ)
	body.WriteString(p.body)
	body.WriteByte(0)
	body.WriteByte(0)

	var out bytes.Buffer
	out.Grow(4 + body.Len())
	_ = binary.Write(&out, binary.LittleEndian, int32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func readPacket(r io.Reader) (packet, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return packet{}, fmt.Errorf("reading rcon packet size: %w", err)
	}
	size := int32(binary.LittleEndian.Uint32(sizeBuf[:]))
	if size < 10 || size > maxBodySize+14 {
		return packet{}, fmt.Errorf("rcon packet size %d out of range: %w", size, ferrors.ErrParse)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return packet{}, fmt.Errorf("reading rcon packet body: %w", err)
	}

	id := int32(binary.LittleEndian.Uint32(payload[0:4]))
	typ := int32(binary.LittleEndian.Uint32(payload[4:8]))
	body := payload[8 : len(payload)-2]

	return packet{id: id, typ: typ, body: string(body)}, nil
}

// Conn is a single-use RCON session: one authenticated connection, used
// for exactly one command, per spec.md §4.7 ("no connection pooling —
// commands are assumed rare").
type Conn struct {
	conn net.Conn
}

// Dial connects to addr (host:port), authenticates with password using
// Factorio's quirks mode, and returns a ready-to-use Conn.
func Dial(ctx context.Context, addr, password string) (*Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing rcon %s: %w: %w", addr, ferrors.ErrNetwork, err)
	}

	c := &Conn{conn: netConn}
	if err := c.authenticate(password); err != nil {
		_ = netConn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) authenticate(password string) error {
	_ = c.conn.SetDeadline(time.Now().Add(replyTimeout))

	req := packet{id: 1, typ: packetTypeAuth, body: password}
	if _, err := c.conn.Write(req.encode()); err != nil {
		return fmt.Errorf("writing rcon auth packet: %w: %w", ferrors.ErrNetwork, err)
	}

	// Factorio's quirk: it replies with exactly one
	// SERVERDATA_AUTH_RESPONSE packet, never the extra blank
	// SERVERDATA_RESPONSE_VALUE some stock Source servers send first.
	resp, err := readPacket(c.conn)
	if err != nil {
		return fmt.Errorf("reading rcon auth response: %w", err)
	}
	if resp.typ != packetTypeAuthResponse || resp.id == -1 {
		return fmt.Errorf("rcon authentication rejected: %w", ferrors.ErrCredentialsFailure)
	}
	return nil
}

// Cmd sends a single console command and returns its text response.
func (c *Conn) Cmd(command string) (string, error) {
	_ = c.conn.SetDeadline(time.Now().Add(replyTimeout))

	req := packet{id: 2, typ: packetTypeExecCommand, body: command}
	if _, err := c.conn.Write(req.encode()); err != nil {
		return "", fmt.Errorf("writing rcon command: %w: %w", ferrors.ErrNetwork, err)
	}

	resp, err := readPacket(c.conn)
	if err != nil {
		return "", fmt.Errorf("reading rcon command response: %w", err)
	}
	return resp.body, nil
}

// Close closes the underlying TCP connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// SendCommand is a convenience wrapper matching spec.md §4.7's
// send_command_internal: dial, authenticate, send one command, close.
func SendCommand(ctx context.Context, addr, password, command string) (string, error) {
	conn, err := Dial(ctx, addr, password)
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	return conn.Cmd(command)
}
