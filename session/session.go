// Package session implements the XCP connection state machine: the
// HELLO→CAPS handshake, per-connection message-id allocation, and
// DATA/PING dispatch with NACK-on-failure, per spec.md §4.4.
//
// A Session is created at connect/accept time, mutated only by the
// goroutine that owns the connection, and discarded at close — there is
// no state shared across connections.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maida-ai/xcp/codec"
	"github.com/maida-ai/xcp/ether"
	"github.com/maida-ai/xcp/frame"
	"github.com/maida-ai/xcp/middleware"
)

// Phase is a connection's position in the handshake/data/teardown
// lifecycle (spec.md §3 "Session State").
type Phase int

const (
	Opening Phase = iota
	Established
	Closing
	Closed
)

func (p Phase) String() string {
	switch p {
	case Opening:
		return "Opening"
	case Established:
		return "Established"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// HelloPayload is the JSON body of a HELLO or CAPS frame (spec.md §6);
// CAPS mirrors HELLO's schema with the acceptor's computed values.
type HelloPayload struct {
	Codecs        []codec.ID `json:"codecs"`
	MaxFrameBytes uint64     `json:"max_frame_bytes"`
	SharedMem     bool       `json:"shared_mem"`
	Accepts       []string   `json:"accepts"`
	Emits         []string   `json:"emits"`
}

// PingPayload is the JSON body of a PING frame; PONG echoes it verbatim.
type PingPayload struct {
	Nonce uint64 `json:"nonce"`
}

// NackPayload is the JSON body of a NACK frame (spec.md §6/§7).
type NackPayload struct {
	MsgID        uint64 `json:"msg_id"`
	ErrorCode    uint16 `json:"error_code"`
	RetryAfterMs uint32 `json:"retry_after_ms"`
}

// Code is the session-layer error taxonomy (spec.md §7), distinct from
// frame.Code (wire-framing errors) and codec.ErrUnsupportedCodec.
type Code int

const (
	HandshakeFailed Code = iota
	SchemaUnknown
	KindMismatch
)

func (c Code) String() string {
	switch c {
	case HandshakeFailed:
		return "HandshakeFailed"
	case SchemaUnknown:
		return "SchemaUnknown"
	case KindMismatch:
		return "KindMismatch"
	default:
		return "Unknown"
	}
}

// Error is a typed session-layer error.
type Error struct {
	Code  Code
	Msg   string
	cause error
}

func (e *Error) Error() string { return e.Code.String() + ": " + e.Msg }
func (e *Error) Unwrap() error { return e.cause }

// Config carries the local side's handshake offer: the codecs this
// peer supports (in preference order), the frame-size cap it is
// willing to negotiate down to, and the Ether kinds it accepts/emits.
type Config struct {
	Codecs        []codec.ID
	MaxFrameBytes uint64
	SharedMem     bool
	Accepts       []string
	Emits         []string
}

// EtherHandlerFunc decodes a DATA frame's body as an Ether and returns
// the Ether to encode (with the same codec) as the response.
type EtherHandlerFunc func(*ether.Ether) (*ether.Ether, error)

// FrameHandlerFunc handles a raw DATA frame whose body is not an Ether
// (e.g. a benchmark "raw payload" path per spec.md §4.4).
type FrameHandlerFunc func(*frame.Frame) (*frame.Frame, error)

// Session holds per-connection negotiated state. It is owned by exactly
// one connection's goroutine; the only cross-goroutine access is the
// write-side mutex guarding WriteFrame.
type Session struct {
	conn     net.Conn
	registry *codec.Registry

	mu    sync.Mutex
	phase Phase

	SupportedCodecs []codec.ID
	PeerAccepts     []string
	PeerEmits       []string
	MaxFrameBytes   uint64

	nextMsgID uint64 // atomic, allocated via AllocMsgID

	writeMu sync.Mutex
}

// Conn returns the underlying connection.
func (s *Session) Conn() net.Conn { return s.conn }

// Phase returns the session's current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// AllocMsgID returns the next strictly-increasing msg_id for frames this
// peer originates, starting at 1 (spec.md §3/§8).
func (s *Session) AllocMsgID() uint64 {
	return atomic.AddUint64(&s.nextMsgID, 1)
}

// WriteFrame packs and writes f, serializing concurrent writers on this
// connection (spec.md §5 — at most one outstanding request, but the
// write side is still guarded so PING/NACK/response writes never
// interleave with each other).
func (s *Session) WriteFrame(f *frame.Frame) error {
	data, err := frame.Pack(f, 0)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.conn.Write(data)
	return err
}

// ReadFrame reads exactly one frame, enforcing the session's negotiated
// MaxFrameBytes (or, before a handshake completes, the caller-supplied
// ceiling).
func (s *Session) ReadFrame(maxFrameBytes uint64) (*frame.Frame, error) {
	return frame.Parse(s.conn, maxFrameBytes)
}

// Close marks the session Closed and closes the underlying connection.
func (s *Session) Close() error {
	s.setPhase(Closing)
	err := s.conn.Close()
	s.setPhase(Closed)
	return err
}

// newSession builds a Session in Opening phase with the local registry
// attached; the handshake functions below fill in negotiated fields.
func newSession(conn net.Conn, registry *codec.Registry) *Session {
	return &Session{conn: conn, registry: registry, phase: Opening}
}

func localCodecs(cfg Config, registry *codec.Registry) []codec.ID {
	if cfg.Codecs != nil {
		return cfg.Codecs
	}
	return registry.IDs()
}

func writeControl(s *Session, msgType frame.MsgType, msgID, inReplyTo uint64, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.WriteFrame(&frame.Frame{
		Header: frame.FrameHeader{
			MsgType:   msgType,
			BodyCodec: uint16(codec.JSON),
			MsgID:     msgID,
			InReplyTo: inReplyTo,
			Tags:      []frame.Tag{},
		},
		Payload: body,
	})
}

func (s *Session) sendNackBestEffort(inReplyTo uint64, errorCode uint16) {
	// A peer that is not reading must not stall the failing handshake.
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	defer s.conn.SetWriteDeadline(time.Time{})
	_ = writeControl(s, frame.MsgNack, s.AllocMsgID(), inReplyTo, NackPayload{
		MsgID:     inReplyTo,
		ErrorCode: errorCode,
	})
}

// Connect performs the client (connector) side of the HELLO→CAPS
// handshake over an already-dialed conn and returns an Established
// Session, or an error if the capability intersection is empty or the
// acceptor misbehaves.
func Connect(conn net.Conn, registry *codec.Registry, cfg Config) (*Session, error) {
	s := newSession(conn, registry)

	helloMsgID := s.AllocMsgID()
	hello := HelloPayload{
		Codecs:        localCodecs(cfg, registry),
		MaxFrameBytes: cfg.MaxFrameBytes,
		SharedMem:     cfg.SharedMem,
		Accepts:       cfg.Accepts,
		Emits:         cfg.Emits,
	}
	if err := writeControl(s, frame.MsgHello, helloMsgID, 0, hello); err != nil {
		return nil, &Error{Code: HandshakeFailed, Msg: "write HELLO: " + err.Error(), cause: err}
	}

	resp, err := s.ReadFrame(cfg.MaxFrameBytes)
	if err != nil {
		return nil, &Error{Code: HandshakeFailed, Msg: "read CAPS: " + err.Error(), cause: err}
	}
	if resp.Header.MsgType != frame.MsgCaps {
		return nil, &Error{Code: HandshakeFailed, Msg: fmt.Sprintf("expected CAPS, got msg_type %#x", resp.Header.MsgType)}
	}
	if resp.Header.InReplyTo != helloMsgID {
		return nil, &Error{Code: HandshakeFailed, Msg: "CAPS in_reply_to does not match HELLO msg_id"}
	}

	var caps HelloPayload
	if err := json.Unmarshal(resp.Payload, &caps); err != nil {
		return nil, &Error{Code: HandshakeFailed, Msg: "malformed CAPS body: " + err.Error(), cause: err}
	}

	if len(caps.Codecs) == 0 {
		s.sendNackBestEffort(resp.Header.MsgID, frame.ErrCodeCodecUnsupported)
		return nil, &Error{Code: HandshakeFailed, Msg: "empty codec intersection"}
	}

	maxFrameBytes := caps.MaxFrameBytes
	if cfg.MaxFrameBytes != 0 && (maxFrameBytes == 0 || cfg.MaxFrameBytes < maxFrameBytes) {
		maxFrameBytes = cfg.MaxFrameBytes
	}

	s.SupportedCodecs = caps.Codecs
	s.MaxFrameBytes = maxFrameBytes
	s.PeerAccepts = caps.Accepts
	s.PeerEmits = caps.Emits
	s.setPhase(Established)
	return s, nil
}

// Accept performs the server (acceptor) side of the handshake: it reads
// HELLO, computes the codec intersection (in local preference order)
// and max_frame_bytes = min(local, remote), and replies with CAPS.
func Accept(conn net.Conn, registry *codec.Registry, cfg Config) (*Session, error) {
	s := newSession(conn, registry)

	req, err := s.ReadFrame(cfg.MaxFrameBytes)
	if err != nil {
		return nil, &Error{Code: HandshakeFailed, Msg: "read HELLO: " + err.Error(), cause: err}
	}
	if req.Header.MsgType != frame.MsgHello {
		return nil, &Error{Code: HandshakeFailed, Msg: fmt.Sprintf("expected HELLO, got msg_type %#x", req.Header.MsgType)}
	}

	var hello HelloPayload
	if err := json.Unmarshal(req.Payload, &hello); err != nil {
		return nil, &Error{Code: HandshakeFailed, Msg: "malformed HELLO body: " + err.Error(), cause: err}
	}

	peerSet := make(map[codec.ID]bool, len(hello.Codecs))
	for _, id := range hello.Codecs {
		peerSet[id] = true
	}
	var accepted []codec.ID
	for _, id := range localCodecs(cfg, registry) {
		if peerSet[id] {
			accepted = append(accepted, id)
		}
	}

	maxFrameBytes := cfg.MaxFrameBytes
	if hello.MaxFrameBytes != 0 && (maxFrameBytes == 0 || hello.MaxFrameBytes < maxFrameBytes) {
		maxFrameBytes = hello.MaxFrameBytes
	}

	caps := HelloPayload{
		Codecs:        accepted,
		MaxFrameBytes: maxFrameBytes,
		SharedMem:     cfg.SharedMem && hello.SharedMem,
		Accepts:       cfg.Accepts,
		Emits:         cfg.Emits,
	}
	capsMsgID := s.AllocMsgID()
	if err := writeControl(s, frame.MsgCaps, capsMsgID, req.Header.MsgID, caps); err != nil {
		return nil, &Error{Code: HandshakeFailed, Msg: "write CAPS: " + err.Error(), cause: err}
	}

	if len(accepted) == 0 {
		s.sendNackBestEffort(req.Header.MsgID, frame.ErrCodeCodecUnsupported)
		return nil, &Error{Code: HandshakeFailed, Msg: "empty codec intersection"}
	}

	s.SupportedCodecs = accepted
	s.MaxFrameBytes = maxFrameBytes
	s.PeerAccepts = hello.Accepts
	s.PeerEmits = hello.Emits
	s.setPhase(Established)
	return s, nil
}

// HandleFrame dispatches one Established-phase frame: DATA is decoded
// per its body_codec and handed to etherHandler (or frameHandler, for
// non-Ether bodies), PING is echoed back as PONG. It returns the
// response frame to write, or nil if none is warranted (frame-layer
// errors are not handled here — Parse already rejects those fatally).
// Decode/codec/kind-mismatch failures yield a NACK response rather than
// an error, per spec.md §4.4/§7's "continue serving" policy.
func (s *Session) HandleFrame(f *frame.Frame, etherHandler EtherHandlerFunc, frameHandler FrameHandlerFunc) *frame.Frame {
	switch f.Header.MsgType {
	case frame.MsgPing:
		return &frame.Frame{
			Header: frame.FrameHeader{
				ChannelID: f.Header.ChannelID,
				MsgType:   frame.MsgPong,
				BodyCodec: f.Header.BodyCodec,
				MsgID:     s.AllocMsgID(),
				InReplyTo: f.Header.MsgID,
				Tags:      []frame.Tag{},
			},
			Payload: f.Payload,
		}

	case frame.MsgData:
		return s.handleData(f, etherHandler, frameHandler)

	default:
		return s.nack(f, frame.ErrCodeSchemaUnknown)
	}
}

func (s *Session) handleData(f *frame.Frame, etherHandler EtherHandlerFunc, frameHandler FrameHandlerFunc) *frame.Frame {
	if frameHandler != nil {
		resp, err := frameHandler(f)
		if err != nil {
			return s.nack(f, nackCodeForHandlerError(err))
		}
		return resp
	}

	if etherHandler == nil {
		return s.nack(f, frame.ErrCodeKindMismatch)
	}

	c, err := s.registry.Get(codec.ID(f.Header.BodyCodec))
	if err != nil {
		return s.nack(f, frame.ErrCodeCodecUnsupported)
	}

	decoded, err := c.Decode(f.Payload)
	if err != nil {
		return s.nack(f, frame.ErrCodeSchemaUnknown)
	}
	e, ok := decoded.(*ether.Ether)
	if !ok {
		return s.nack(f, frame.ErrCodeKindMismatch)
	}

	respEther, err := etherHandler(e)
	if err != nil {
		return s.nack(f, nackCodeForHandlerError(err))
	}

	encoded, err := c.Encode(respEther)
	if err != nil {
		return s.nack(f, frame.ErrCodeSchemaUnknown)
	}

	return &frame.Frame{
		Header: frame.FrameHeader{
			ChannelID: f.Header.ChannelID,
			MsgType:   frame.MsgData,
			BodyCodec: f.Header.BodyCodec,
			MsgID:     s.AllocMsgID(),
			InReplyTo: f.Header.MsgID,
			Tags:      []frame.Tag{},
		},
		Payload: encoded,
	}
}

// nackCodeForHandlerError maps an application-layer handler error to a
// wire NACK code. middleware.ErrRateLimited is the one distinguished
// cause today: a rejected request was never malformed or unhandleable,
// it was throttled, so it gets ErrCodeMessageTooLarge rather than
// ErrCodeKindMismatch (spec.md §3's rate-limit rejection has no
// dedicated wire code of its own; ErrCodeMessageTooLarge is the closest
// "try again with less" signal a caller can act on). Anything else
// falls back to ErrCodeKindMismatch, since a handler returning an error
// for a well-formed request most often means it didn't recognize what
// it was asked to do.
func nackCodeForHandlerError(err error) uint16 {
	if errors.Is(err, middleware.ErrRateLimited) {
		return frame.ErrCodeMessageTooLarge
	}
	return frame.ErrCodeKindMismatch
}

func (s *Session) nack(req *frame.Frame, code uint16) *frame.Frame {
	body, err := json.Marshal(NackPayload{MsgID: req.Header.MsgID, ErrorCode: code})
	if err != nil {
		body = []byte(`{}`)
	}
	return &frame.Frame{
		Header: frame.FrameHeader{
			ChannelID: req.Header.ChannelID,
			MsgType:   frame.MsgNack,
			BodyCodec: uint16(codec.JSON),
			MsgID:     s.AllocMsgID(),
			InReplyTo: req.Header.MsgID,
			Tags:      []frame.Tag{},
		},
		Payload: body,
	}
}

// IsEOF reports whether err represents a clean connection close,
// distinguishing it from a protocol-level failure for callers deciding
// how to log a closed connection.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
