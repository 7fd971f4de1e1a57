package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"

	"github.com/jgaehring/field-kit/filter"
	"github.com/jgaehring/field-kit/protocol"
	"github.com/jgaehring/field-kit/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveSync runs a minimal farm server: for every request envelope it
// calls handle and writes the evaluation back under the same session.
func serveSync(t *testing.T, handle func(kind string, req Request) Evaluation) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, aerr := ln.Accept()
			if aerr != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var buf bytes.Buffer
				chunk := make([]byte, 4096)
				for {
					n, rerr := conn.Read(chunk)
					if n > 0 {
						buf.Write(chunk[:n])
						recs, serr := protocol.Split(&buf)
						if serr != nil && serr != protocol.ErrIncomplete {
							return
						}
						for _, rec := range recs {
							body, _ := protocol.Take('S', rec)
							session, rest := protocol.Take('Q', body)
							kind, rest := protocol.Take('K', rest)
							payload, _ := protocol.Take('J', rest)

							var req Request
							if uerr := json.Unmarshal(payload, &req); uerr != nil {
								return
							}
							eval := handle(string(kind), req)
							raw, _ := json.Marshal(eval)
							_, werr := conn.Write(protocol.Record('S',
								protocol.Record('Q', session),
								protocol.Record('K', kind),
								protocol.Record('J', raw),
							))
							if werr != nil {
								return
							}
						}
					}
					if rerr != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestTCPClientSyncRoundTrip(t *testing.T) {
	addr := serveSync(t, func(kind string, req Request) Evaluation {
		return Evaluation{
			Connectivity: StatusOnline,
			Data: []map[string]any{
				{"id": req.Filter.ID, "type": "land", "name": "North Field"},
			},
		}
	})

	client := NewTCPClient(addr, utils.NewDefaultLogger(slog.LevelError))
	defer client.Close()

	eval, err := client.Sync(context.Background(), "asset", Request{Filter: filter.ByID("a1")})
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, eval.Connectivity)
	require.Len(t, eval.Data, 1)
	assert.Equal(t, "a1", eval.Data[0]["id"])
	assert.Equal(t, "North Field", eval.Data[0]["name"])
}

func TestTCPClientReusesConnection(t *testing.T) {
	var accepted atomic.Int32
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, aerr := ln.Accept()
			if aerr != nil {
				return
			}
			accepted.Add(1)
			go func(conn net.Conn) {
				defer conn.Close()
				var buf bytes.Buffer
				chunk := make([]byte, 4096)
				for {
					n, rerr := conn.Read(chunk)
					if n > 0 {
						buf.Write(chunk[:n])
						recs, _ := protocol.Split(&buf)
						for _, rec := range recs {
							body, _ := protocol.Take('S', rec)
							session, rest := protocol.Take('Q', body)
							kind, _ := protocol.Take('K', rest)
							raw, _ := json.Marshal(Evaluation{Connectivity: StatusOnline})
							_, _ = conn.Write(protocol.Record('S',
								protocol.Record('Q', session),
								protocol.Record('K', kind),
								protocol.Record('J', raw),
							))
						}
					}
					if rerr != nil {
						return
					}
				}
			}(conn)
		}
	}()

	client := NewTCPClient(ln.Addr().String(), utils.NewDefaultLogger(slog.LevelError))
	defer client.Close()

	for i := 0; i < 3; i++ {
		eval, serr := client.Sync(context.Background(), "asset", Request{Filter: filter.ByID("a1")})
		require.NoError(t, serr)
		assert.Equal(t, StatusOnline, eval.Connectivity)
	}
	assert.Equal(t, int32(1), accepted.Load(), "sequential syncs share one connection")
}

// A dead server is not an error: the caller gets an offline evaluation
// and keeps working locally.
func TestTCPClientOfflineEvaluation(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := NewTCPClient(addr, utils.NewDefaultLogger(slog.LevelError))
	defer client.Close()

	eval, err := client.Sync(context.Background(), "asset", Request{Filter: filter.ByID("a1")})
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, eval.Connectivity)
}

func TestTCPClientClosed(t *testing.T) {
	client := NewTCPClient("127.0.0.1:1", utils.NewDefaultLogger(slog.LevelError))
	require.NoError(t, client.Close())
	_, err := client.Sync(context.Background(), "asset", Request{})
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.ErrorIs(t, client.Close(), ErrTransportClosed)
}
