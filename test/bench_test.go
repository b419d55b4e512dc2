package test

import (
	"net"
	"strconv"
	"testing"

	"github.com/maida-ai/xcp/client"
	"github.com/maida-ai/xcp/codec"
	"github.com/maida-ai/xcp/ether"
	"github.com/maida-ai/xcp/server"
)

func setupEchoServerAndClient(b *testing.B) (stop func(), cli *client.Client) {
	addr, stopFn, err := server.RunEcho("127.0.0.1", 0)
	if err != nil {
		b.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		b.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		b.Fatal(err)
	}
	c, err := client.Connect(host, port)
	if err != nil {
		b.Fatal(err)
	}
	return stopFn, c
}

// 场景1: 单 goroutine 串行调用
func BenchmarkSerialCall(b *testing.B) {
	stop, cli := setupEchoServerAndClient(b)
	b.Cleanup(func() {
		cli.Close()
		stop()
	})

	e := ether.NewText("benchmark")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cli.SendEther(e, codec.JSON); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景2: Binary 编码载荷走网络的性能
func BenchmarkSerialCallBinary(b *testing.B) {
	stop, cli := setupEchoServerAndClient(b)
	b.Cleanup(func() {
		cli.Close()
		stop()
	})

	ids := make([]int64, 128)
	e := ether.NewTokens(ids, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cli.SendEther(e, codec.Binary); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景3: JSON 编解码性能（不走网络，纯 codec）
func BenchmarkCodecJSON(b *testing.B) {
	cdc := &codec.JSONCodec{}
	e := ether.NewText("benchmark payload")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := cdc.Encode(e)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := cdc.Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景4: Binary 编解码性能（不走网络，纯 codec）
func BenchmarkCodecBinary(b *testing.B) {
	cdc := &codec.BinaryCodec{}
	e := ether.NewText("benchmark payload")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := cdc.Encode(e)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := cdc.Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}
