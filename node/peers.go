package node

import (
	"sync"
	"time"
)

// peerInfo tracks the liveness bookkeeping the central node keeps for
// one peer (§4.8d), plus the handshake's connected flag (§4.8c): when
// it was last pinged, when it last answered, and whether the last
// VERSION exchange left the two sides height-synced.
type peerInfo struct {
	lastPingAt time.Time
	lastPongAt time.Time
	connected  bool
}

// peerSet tracks per-address state. The central node additionally uses
// it as its known-peer registry (ping targets, fan-out list); a peer
// node only ever populates the single entry for the central address,
// to record the handshake's connected flag.
type peerSet struct {
	mu    sync.Mutex
	peers map[string]*peerInfo
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[string]*peerInfo)}
}

// register adds addr if unseen. It is idempotent.
func (p *peerSet) register(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(addr)
}

func (p *peerSet) markPinged(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if info, ok := p.peers[addr]; ok {
		info.lastPingAt = time.Now()
	}
}

func (p *peerSet) markPong(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if info, ok := p.peers[addr]; ok {
		info.lastPongAt = time.Now()
	}
}

// isKnown reports whether addr has been seen before (via register,
// markConnected or markNotConnected; markPinged and markPong never add
// an entry), the "already a peer" check §4.8c makes before
// replying to an equal-height VERSION.
func (p *peerSet) isKnown(addr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.peers[addr]
	return ok
}

// markConnected and markNotConnected record the handshake outcome of
// §4.8c for any role, creating an entry for addr if this is the first
// time it's been seen.
func (p *peerSet) markConnected(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(addr).connected = true
}

func (p *peerSet) markNotConnected(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(addr).connected = false
}

// entry returns addr's peerInfo, creating it if absent. Callers must
// hold p.mu.
func (p *peerSet) entry(addr string) *peerInfo {
	info, ok := p.peers[addr]
	if !ok {
		info = &peerInfo{lastPongAt: time.Now()}
		p.peers[addr] = info
	}
	return info
}

// list returns a snapshot of every known peer address.
func (p *peerSet) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.peers))
	for addr := range p.peers {
		out = append(out, addr)
	}
	return out
}

// listExcept is list filtered to exclude one address, the rebroadcast
// fan-out the central hub uses so it never echoes a message back to
// its sender (§4.8c).
func (p *peerSet) listExcept(except string) []string {
	all := p.list()
	out := make([]string, 0, len(all))
	for _, addr := range all {
		if addr != except {
			out = append(out, addr)
		}
	}
	return out
}

// prune implements §4.8d: a pinged peer is alive if its most recent
// PONG arrived within pingInterval/2 of the PING it answers; it is
// removed once more than pingInterval/2 has elapsed since that PING
// without such a PONG. A peer never pinged is left alone. Callers must
// re-ping surviving peers only after calling prune, so the elapsed
// check below sees the previous cycle's PING, not one just sent.
func (p *peerSet) prune(pingInterval time.Duration) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	half := pingInterval / 2
	now := time.Now()
	var pruned []string
	for addr, info := range p.peers {
		if info.lastPingAt.IsZero() {
			continue
		}
		if info.lastPongAt.After(info.lastPingAt) && info.lastPongAt.Sub(info.lastPingAt) <= half {
			continue
		}
		if now.Sub(info.lastPingAt) > half {
			pruned = append(pruned, addr)
			delete(p.peers, addr)
		}
	}
	return pruned
}
