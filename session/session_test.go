package session

import (
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/maida-ai/xcp/codec"
	"github.com/maida-ai/xcp/ether"
	"github.com/maida-ai/xcp/frame"
	"github.com/maida-ai/xcp/middleware"
)

func handshakePair(t *testing.T, clientCfg, serverCfg Config) (*Session, *Session) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	type result struct {
		s   *Session
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		s, err := Connect(clientConn, codec.NewRegistry(), clientCfg)
		clientCh <- result{s, err}
	}()
	go func() {
		s, err := Accept(serverConn, codec.NewRegistry(), serverCfg)
		serverCh <- result{s, err}
	}()

	cr := <-clientCh
	sr := <-serverCh
	if cr.err != nil {
		t.Fatalf("Connect: %v", cr.err)
	}
	if sr.err != nil {
		t.Fatalf("Accept: %v", sr.err)
	}
	return cr.s, sr.s
}

func defaultConfig() Config {
	return Config{MaxFrameBytes: frame.DefaultMaxFrameBytes, Accepts: []string{"text"}, Emits: []string{"text"}}
}

func TestHandshakeEstablishesSession(t *testing.T) {
	client, server := handshakePair(t, defaultConfig(), defaultConfig())

	if client.Phase() != Established {
		t.Errorf("client phase = %v, want Established", client.Phase())
	}
	if server.Phase() != Established {
		t.Errorf("server phase = %v, want Established", server.Phase())
	}
	if len(client.SupportedCodecs) == 0 {
		t.Error("client supported codecs empty")
	}
	if client.MaxFrameBytes != frame.DefaultMaxFrameBytes {
		t.Errorf("client MaxFrameBytes = %d, want %d", client.MaxFrameBytes, frame.DefaultMaxFrameBytes)
	}
}

func TestHandshakeMaxFrameBytesIsMin(t *testing.T) {
	clientCfg := defaultConfig()
	clientCfg.MaxFrameBytes = 65536
	serverCfg := defaultConfig()
	serverCfg.MaxFrameBytes = 1 << 20

	client, server := handshakePair(t, clientCfg, serverCfg)
	if client.MaxFrameBytes != 65536 {
		t.Errorf("client MaxFrameBytes = %d, want 65536", client.MaxFrameBytes)
	}
	if server.MaxFrameBytes != 65536 {
		t.Errorf("server MaxFrameBytes = %d, want 65536", server.MaxFrameBytes)
	}
}

func TestHandshakeEmptyIntersectionFails(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	clientCfg := Config{Codecs: []codec.ID{0x00FE}, MaxFrameBytes: frame.DefaultMaxFrameBytes}
	serverCfg := defaultConfig()

	type result struct {
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		_, err := Connect(clientConn, codec.NewRegistry(), clientCfg)
		clientCh <- result{err}
	}()
	go func() {
		_, err := Accept(serverConn, codec.NewRegistry(), serverCfg)
		serverCh <- result{err}
	}()

	cr := <-clientCh
	sr := <-serverCh

	if cr.err == nil {
		t.Fatal("Connect: expected empty-intersection error")
	}
	if sr.err == nil {
		t.Fatal("Accept: expected empty-intersection error")
	}
	if code, ok := errCode(sr.err); !ok || code != HandshakeFailed {
		t.Errorf("Accept err code = %v, want HandshakeFailed", code)
	}
}

func errCode(err error) (Code, bool) {
	se, ok := err.(*Error)
	if !ok {
		return 0, false
	}
	return se.Code, true
}

func TestPingPong(t *testing.T) {
	a, b := net.Pipe()
	sb := &Session{conn: b, registry: codec.NewRegistry(), phase: Established}

	pingBody, _ := json.Marshal(PingPayload{Nonce: 424242})
	reqFrame := &frame.Frame{
		Header: frame.FrameHeader{MsgType: frame.MsgPing, BodyCodec: uint16(codec.JSON), MsgID: 5, Tags: []frame.Tag{}},
		Payload: pingBody,
	}

	go func() {
		data, _ := frame.Pack(reqFrame, 0)
		a.Write(data)
	}()

	got, err := sb.ReadFrame(0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	resp := sb.HandleFrame(got, nil, nil)
	if resp.Header.MsgType != frame.MsgPong {
		t.Fatalf("MsgType = %v, want MsgPong", resp.Header.MsgType)
	}
	if resp.Header.InReplyTo != 5 {
		t.Errorf("InReplyTo = %d, want 5", resp.Header.InReplyTo)
	}
	var pong PingPayload
	if err := json.Unmarshal(resp.Payload, &pong); err != nil {
		t.Fatalf("unmarshal PONG: %v", err)
	}
	if pong.Nonce != 424242 {
		t.Errorf("Nonce = %d, want 424242", pong.Nonce)
	}

	a.Close()
	b.Close()
}

func TestHandleFrameEchoesEther(t *testing.T) {
	registry := codec.NewRegistry()
	s := &Session{conn: nil, registry: registry, phase: Established}

	e := ether.NewText("hello")
	c, _ := registry.Get(codec.JSON)
	body, err := c.Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	req := &frame.Frame{
		Header: frame.FrameHeader{MsgType: frame.MsgData, BodyCodec: uint16(codec.JSON), MsgID: 1, Tags: []frame.Tag{}},
		Payload: body,
	}

	echo := func(in *ether.Ether) (*ether.Ether, error) { return in, nil }
	resp := s.HandleFrame(req, echo, nil)
	if resp.Header.MsgType != frame.MsgData {
		t.Fatalf("MsgType = %v, want MsgData", resp.Header.MsgType)
	}
	if resp.Header.InReplyTo != 1 {
		t.Errorf("InReplyTo = %d, want 1", resp.Header.InReplyTo)
	}

	decoded, err := c.Decode(resp.Payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*ether.Ether)
	if !ok {
		t.Fatalf("decoded type = %T, want *ether.Ether", decoded)
	}
	if got.Kind != "text" {
		t.Errorf("Kind = %q, want text", got.Kind)
	}
}

func TestHandleFrameUnsupportedCodecYieldsNack(t *testing.T) {
	registry := codec.NewRegistry()
	s := &Session{conn: nil, registry: registry, phase: Established}

	req := &frame.Frame{
		Header: frame.FrameHeader{MsgType: frame.MsgData, BodyCodec: 0x00FE, MsgID: 9, Tags: []frame.Tag{}},
		Payload: []byte("garbage"),
	}

	resp := s.HandleFrame(req, func(e *ether.Ether) (*ether.Ether, error) { return e, nil }, nil)
	if resp.Header.MsgType != frame.MsgNack {
		t.Fatalf("MsgType = %v, want MsgNack", resp.Header.MsgType)
	}
	var nack NackPayload
	if err := json.Unmarshal(resp.Payload, &nack); err != nil {
		t.Fatalf("unmarshal NACK: %v", err)
	}
	if nack.ErrorCode != frame.ErrCodeCodecUnsupported {
		t.Errorf("ErrorCode = %#x, want %#x", nack.ErrorCode, frame.ErrCodeCodecUnsupported)
	}
	if nack.MsgID != 9 {
		t.Errorf("NACK msg_id = %d, want 9", nack.MsgID)
	}
}

func TestHandleFrameHandlerErrorYieldsKindMismatchByDefault(t *testing.T) {
	registry := codec.NewRegistry()
	s := &Session{conn: nil, registry: registry, phase: Established}

	e := ether.NewText("hello")
	c, _ := registry.Get(codec.JSON)
	body, _ := c.Encode(e)

	req := &frame.Frame{
		Header: frame.FrameHeader{MsgType: frame.MsgData, BodyCodec: uint16(codec.JSON), MsgID: 3, Tags: []frame.Tag{}},
		Payload: body,
	}

	failing := func(*ether.Ether) (*ether.Ether, error) { return nil, errors.New("handler exploded") }
	resp := s.HandleFrame(req, failing, nil)

	var nack NackPayload
	if err := json.Unmarshal(resp.Payload, &nack); err != nil {
		t.Fatalf("unmarshal NACK: %v", err)
	}
	if nack.ErrorCode != frame.ErrCodeKindMismatch {
		t.Errorf("ErrorCode = %#x, want %#x (ErrCodeKindMismatch)", nack.ErrorCode, frame.ErrCodeKindMismatch)
	}
}

func TestHandleFrameRateLimitedYieldsMessageTooLarge(t *testing.T) {
	registry := codec.NewRegistry()
	s := &Session{conn: nil, registry: registry, phase: Established}

	e := ether.NewText("hello")
	c, _ := registry.Get(codec.JSON)
	body, _ := c.Encode(e)

	req := &frame.Frame{
		Header: frame.FrameHeader{MsgType: frame.MsgData, BodyCodec: uint16(codec.JSON), MsgID: 4, Tags: []frame.Tag{}},
		Payload: body,
	}

	throttled := func(*ether.Ether) (*ether.Ether, error) { return nil, middleware.ErrRateLimited }
	resp := s.HandleFrame(req, throttled, nil)

	var nack NackPayload
	if err := json.Unmarshal(resp.Payload, &nack); err != nil {
		t.Fatalf("unmarshal NACK: %v", err)
	}
	if nack.ErrorCode != frame.ErrCodeMessageTooLarge {
		t.Errorf("ErrorCode = %#x, want %#x (ErrCodeMessageTooLarge)", nack.ErrorCode, frame.ErrCodeMessageTooLarge)
	}
}

func TestMsgIDMonotonic(t *testing.T) {
	s := &Session{}
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		id := s.AllocMsgID()
		if id <= prev {
			t.Fatalf("msg_id not increasing: got %d after %d", id, prev)
		}
		prev = id
	}
}
