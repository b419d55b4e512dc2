package client

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/maida-ai/xcp/codec"
	"github.com/maida-ai/xcp/ether"
	"github.com/maida-ai/xcp/frame"
	"github.com/maida-ai/xcp/server"
)

func startEchoServer(t *testing.T, opts ...server.Option) (addr string, stop func()) {
	t.Helper()
	a, stopFn, err := server.RunEcho("127.0.0.1", 0, opts...)
	if err != nil {
		t.Fatalf("RunEcho: %v", err)
	}
	return a.String(), stopFn
}

func dialClient(t *testing.T, addr string, opts ...Option) *Client {
	t.Helper()
	host, port := splitHostPort(t, addr)
	c, err := Connect(host, port, opts...)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("parse addr %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %q: %v", portStr, err)
	}
	return host, port
}

func TestClientSendEtherRoundTrip(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	c := dialClient(t, addr)
	defer c.Close()

	resp, err := c.SendEther(ether.NewText("hello xcp"), 0)
	if err != nil {
		t.Fatalf("SendEther: %v", err)
	}
	if resp.Header.MsgType != frame.MsgData {
		t.Fatalf("MsgType = %v, want MsgData", resp.Header.MsgType)
	}

	cdc, err := c.registry.Get(codec.ID(resp.Header.BodyCodec))
	if err != nil {
		t.Fatalf("Get codec: %v", err)
	}
	decoded, err := cdc.Decode(resp.Payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	e, ok := decoded.(*ether.Ether)
	if !ok {
		t.Fatalf("decoded = %T, want *ether.Ether", decoded)
	}
	text, _ := e.Payload["text"].AsString()
	if text != "hello xcp" {
		t.Errorf("text = %q, want %q", text, "hello xcp")
	}
}

func TestClientSmartCodecSwitchesToBinaryAboveThreshold(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	c := dialClient(t, addr)
	defer c.Close()

	big := make([]int64, 1024)
	resp, err := c.SendEther(ether.NewTokens(big, nil), 0)
	if err != nil {
		t.Fatalf("SendEther: %v", err)
	}
	if codec.ID(resp.Header.BodyCodec) != codec.Binary {
		t.Errorf("BodyCodec = %#x, want Binary (%#x)", resp.Header.BodyCodec, codec.Binary)
	}

	metrics := c.CodecMetrics()
	if metrics.CodecPercentage[codec.Binary] == 0 {
		t.Errorf("expected nonzero Binary share in CodecMetrics, got %v", metrics.CodecPercentage)
	}
	if metrics.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", metrics.TotalRequests)
	}
	if metrics.TotalBytes == 0 {
		t.Errorf("TotalBytes = 0, want nonzero")
	}
}

func TestClientCodecMetricsTracksRequestsAndBytes(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	c := dialClient(t, addr)
	defer c.Close()

	for i := 0; i < 3; i++ {
		if _, err := c.SendEther(ether.NewText("tally me"), 0); err != nil {
			t.Fatalf("SendEther: %v", err)
		}
	}

	metrics := c.CodecMetrics()
	if metrics.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", metrics.TotalRequests)
	}
	if metrics.TotalBytes == 0 {
		t.Errorf("TotalBytes = 0, want nonzero")
	}
	if got := metrics.CodecPercentage[codec.JSON]; got != 1 {
		t.Errorf("CodecPercentage[JSON] = %v, want 1 (every send used JSON)", got)
	}
}

func TestClientPing(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	c := dialClient(t, addr)
	defer c.Close()

	resp, err := c.Ping()
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if resp.Header.MsgType != frame.MsgPong {
		t.Fatalf("MsgType = %v, want MsgPong", resp.Header.MsgType)
	}
}

func TestClientCheckJSONOveruse(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	c := dialClient(t, addr)
	defer c.Close()

	if _, err := c.SendEther(ether.NewText("small"), 0); err != nil {
		t.Fatalf("SendEther: %v", err)
	}
	if !c.CheckJSONOveruse(0.5) {
		t.Errorf("expected JSON overuse to be flagged when every send used JSON")
	}
}

func TestClientHeartbeatKeepsConnectionAlive(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	c := dialClient(t, addr, WithHeartbeat(20*time.Millisecond))
	defer c.Close()

	time.Sleep(80 * time.Millisecond)

	if _, err := c.SendEther(ether.NewText("still alive"), 0); err != nil {
		t.Fatalf("SendEther after heartbeats: %v", err)
	}
}
