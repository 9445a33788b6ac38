// Package transport is C7: a reliable, stream-oriented point-to-point
// transport. One logical message per connection — the sender dials,
// writes the full encoded envelope, half-closes, and the listener
// reads one complete envelope per accepted connection — generalizing
// the teacher's network/pseudo_p2p.go send/handleConn pair away from
// its fixed 12-byte-command framing to whole-envelope JSON reads.
package transport

import (
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

// dialTimeout bounds how long an outbound Send can block on a slow or
// unreachable peer, so create_transaction/mine_block callers are never
// stuck behind a dead connection (§5).
const dialTimeout = 3 * time.Second

// Handler processes one received envelope. senderHost is the remote
// address transport observed the connection arrive from (without
// port — the message's own from_port field supplies the listening
// port to reconstruct the sender's dial-back address).
type Handler func(data []byte, senderHost string)

// Transport listens for inbound connections and sends outbound ones.
type Transport struct {
	listener net.Listener
	log      *zap.SugaredLogger
	done     chan struct{}
}

// Listen starts accepting connections on port and dispatches each
// fully-read message to handler on its own goroutine, so one slow
// handler never blocks other peers' deliveries.
func Listen(port int, handler Handler, log *zap.SugaredLogger) (*Transport, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	t := &Transport{listener: ln, log: log, done: make(chan struct{})}

	go t.acceptLoop(handler)
	return t, nil
}

func (t *Transport) acceptLoop(handler Handler) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				t.log.Debugw("accept failed", "error", err)
				return
			}
		}
		go t.handleConn(conn, handler)
	}
}

func (t *Transport) handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()

	data, err := io.ReadAll(conn)
	if err != nil {
		t.log.Debugw("read failed", "error", err)
		return
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	handler(data, host)
}

// Close stops accepting new connections. In-flight outbound sends may
// still complete after Close returns (§5).
func (t *Transport) Close() error {
	close(t.done)
	return t.listener.Close()
}

// Send dials addr, writes data as one message, and closes. It bounds
// its own blocking with dialTimeout so a slow peer cannot stall the
// caller indefinitely.
func Send(addr string, data []byte) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("transport: write %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
	}
	return nil
}

// SendAsync runs Send on its own goroutine and logs failure instead of
// propagating it, the fire-and-forget gossip send every broadcast path
// uses so a single unreachable peer cannot block the caller (§5, §7).
func SendAsync(addr string, data []byte, log *zap.SugaredLogger) {
	go func() {
		if err := Send(addr, data); err != nil {
			log.Debugw("send failed", "addr", addr, "error", err)
		}
	}()
}
