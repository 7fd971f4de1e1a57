package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jgaehring/field-kit/protocol"
	"github.com/jgaehring/field-kit/utils"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	readChunk   = 4096
	dialTimeout = 10 * time.Second
)

var ErrTransportClosed = errors.New("transport closed")
var ErrBadEnvelope = errors.New("bad sync envelope")

// TCPClient speaks the TLV sync protocol with one farm server. Requests
// are correlated to responses by a session id, so many entities can be
// in flight over a single connection.
//
// Envelope format, request and response alike:
//
//	S( Q<session id> K<entity kind> J<JSON payload> )
type TCPClient struct {
	addr   string
	log    utils.Logger
	closed atomic.Bool

	lock sync.Mutex // guards conn and writes
	conn net.Conn

	inflight *xsync.MapOf[string, chan Evaluation]
	wg       sync.WaitGroup
}

var _ Transport = (*TCPClient)(nil)

func NewTCPClient(addr string, log utils.Logger) *TCPClient {
	return &TCPClient{
		addr:     addr,
		log:      log,
		inflight: xsync.NewMapOf[string, chan Evaluation](),
	}
}

func (t *TCPClient) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return ErrTransportClosed
	}
	t.lock.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.lock.Unlock()
	t.wg.Wait()
	return nil
}

// Sync pushes the request and waits for the matching evaluation. A
// dead connection is not an error: the caller gets an offline
// evaluation and keeps its local edits.
func (t *TCPClient) Sync(ctx context.Context, kind string, req Request) (Evaluation, error) {
	if t.closed.Load() {
		return Evaluation{}, ErrTransportClosed
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Evaluation{}, errors.Wrap(err, "encoding sync request")
	}

	session := uuid.NewString()
	resp := make(chan Evaluation, 1)
	t.inflight.Store(session, resp)
	defer t.inflight.Delete(session)

	envelope := protocol.Record('S',
		protocol.Record('Q', []byte(session)),
		protocol.Record('K', []byte(kind)),
		protocol.Record('J', payload),
	)
	if err = t.send(ctx, envelope); err != nil {
		t.log.Warn("sync send failed", "kind", kind, "addr", t.addr, "err", err)
		return Evaluation{Connectivity: StatusOffline}, nil
	}

	select {
	case eval := <-resp:
		return eval, nil
	case <-ctx.Done():
		return Evaluation{}, ctx.Err()
	}
}

func (t *TCPClient) send(ctx context.Context, envelope []byte) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.conn == nil {
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", t.addr)
		if err != nil {
			return err
		}
		t.conn = conn
		t.wg.Add(1)
		go func() {
			t.keepReading(conn)
			t.wg.Done()
		}()
	}
	_, err := t.conn.Write(envelope)
	if err != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	return err
}

func (t *TCPClient) keepReading(conn net.Conn) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunk)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			recs, serr := protocol.Split(&buf)
			if serr != nil && serr != protocol.ErrIncomplete {
				t.log.Error("garbage on sync connection", "addr", t.addr, "err", serr)
				err = serr
			}
			for _, rec := range recs {
				if derr := t.deliver(rec); derr != nil {
					t.log.Warn("dropping sync envelope", "addr", t.addr, "err", derr)
				}
			}
		}
		if err != nil {
			break
		}
	}
	t.lock.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.lock.Unlock()
	// whoever is still waiting learns we went offline
	t.inflight.Range(func(session string, resp chan Evaluation) bool {
		if _, loaded := t.inflight.LoadAndDelete(session); loaded {
			resp <- Evaluation{Connectivity: StatusOffline}
		}
		return true
	})
}

func (t *TCPClient) deliver(rec []byte) error {
	body, _ := protocol.Take('S', rec)
	if body == nil {
		return ErrBadEnvelope
	}
	session, rest := protocol.Take('Q', body)
	if session == nil {
		return ErrBadEnvelope
	}
	_, rest = protocol.Take('K', rest)
	payload, _ := protocol.Take('J', rest)
	if payload == nil {
		return ErrBadEnvelope
	}
	var eval Evaluation
	if err := json.Unmarshal(payload, &eval); err != nil {
		return errors.Wrap(ErrBadEnvelope, err.Error())
	}
	if resp, ok := t.inflight.LoadAndDelete(string(session)); ok {
		resp <- eval
	}
	return nil
}
