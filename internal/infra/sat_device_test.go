package infra

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"pdv/internal/fiscal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice answers each connection with reply(cmd).
func fakeDevice(t *testing.T, reply func(cmd satCommand) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				line, err := bufio.NewReader(c).ReadBytes('\n')
				if err != nil {
					return
				}
				var cmd satCommand
				if json.Unmarshal(line, &cmd) != nil {
					return
				}
				if out := reply(cmd); out != "" {
					_, _ = c.Write([]byte(out + "\n"))
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

const satKey = "35260311222333000181590010000000011000000019"

func TestSATDeviceSubmit(t *testing.T) {
	addr := fakeDevice(t, func(cmd satCommand) string {
		if cmd.Cmd == "enviar" && cmd.Reference == "doc-1" && cmd.XML == "<CFe/>" {
			return "OK|CFe" + satKey + "|1|000123"
		}
		return "ERR|999|unexpected"
	})

	ack, err := NewSATDevice(addr, time.Second).Submit(context.Background(), fiscal.Submission{
		Kind: fiscal.KindSAT, Reference: "doc-1", Payload: []byte("<CFe/>"),
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, satKey, ack.AccessKey)
	assert.Equal(t, "000123", ack.Protocol)
}

func TestSATDeviceRejection(t *testing.T) {
	addr := fakeDevice(t, func(satCommand) string { return "ERR|1085|assinatura invalida" })

	ack, err := NewSATDevice(addr, time.Second).Submit(context.Background(), fiscal.Submission{Kind: fiscal.KindSAT, Reference: "doc-2"})
	require.NoError(t, err)
	assert.False(t, ack.Accepted)
	assert.Equal(t, "1085", ack.Code)
	assert.Equal(t, "assinatura invalida", ack.Message)
}

func TestSATDeviceQuery(t *testing.T) {
	addr := fakeDevice(t, func(cmd satCommand) string {
		if cmd.Reference == "doc-3" {
			return "OK|CFe" + satKey + "|1|000123|cancelled"
		}
		return "ERR|404|not found"
	})
	dev := NewSATDevice(addr, time.Second)

	rep, err := dev.Query(context.Background(), fiscal.QueryRequest{Reference: "doc-3"})
	require.NoError(t, err)
	assert.Equal(t, fiscal.RemoteCancelled, rep.State)
	assert.Equal(t, satKey, rep.AccessKey)

	rep, err = dev.Query(context.Background(), fiscal.QueryRequest{Reference: "other"})
	require.NoError(t, err)
	assert.Equal(t, fiscal.RemoteNotFound, rep.State)
}

func TestSATDeviceSilentTimeout(t *testing.T) {
	addr := fakeDevice(t, func(satCommand) string { time.Sleep(300 * time.Millisecond); return "" })

	_, err := NewSATDevice(addr, 100*time.Millisecond).Submit(context.Background(), fiscal.Submission{Kind: fiscal.KindSAT, Reference: "doc-4"})
	te, ok := fiscal.AsTransportError(err)
	require.True(t, ok)
	assert.True(t, te.Timeout)
	assert.True(t, te.MaybeDelivered)
}

func TestSATDeviceUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewSATDevice(addr, time.Second).Submit(context.Background(), fiscal.Submission{Kind: fiscal.KindSAT, Reference: "doc-5"})
	te, ok := fiscal.AsTransportError(err)
	require.True(t, ok)
	assert.False(t, te.MaybeDelivered)
}
