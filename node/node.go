// Package node is C8: the orchestrator wiring chain, wire and
// transport together into the running protocol — create_transaction,
// mine_block, the seven message handlers and the central hub's peer
// liveness loop (§4.8). It generalizes the teacher's now-superseded
// network/pseudo_p2p.go (StartNode/handleConn/handle*) from gob framing
// and an inv/getdata announce protocol to the JSON envelope of package
// wire and the whole-message transport of package transport.
package node

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"utxochain/chain"
	"utxochain/config"
	"utxochain/cryptoprovider"
	"utxochain/hashutil"
	"utxochain/model"
	"utxochain/pow"
	"utxochain/transport"
	"utxochain/wire"
)

// Node is one running peer or central hub.
type Node struct {
	cfg    config.Config
	chain  *chain.Chain
	crypto *cryptoprovider.Provider
	log    *zap.SugaredLogger

	priv *cryptoprovider.PrivateKey
	pub  cryptoprovider.PublicKey
	addr hashutil.Hash

	minerAddr hashutil.Hash
	mining    bool

	transport *transport.Transport
	peers     *peerSet // known-peer registry (ping targets) and per-address connected state

	stopLiveness chan struct{}
	livenessOnce sync.Once
}

// New builds a Node around an already-open chain and an already-loaded
// (or generated) key pair. The caller owns opening/closing the chain's
// store.
func New(cfg config.Config, c *chain.Chain, cp *cryptoprovider.Provider, priv *cryptoprovider.PrivateKey, pub cryptoprovider.PublicKey, log *zap.SugaredLogger) (*Node, error) {
	n := &Node{
		cfg:    cfg,
		chain:  c,
		crypto: cp,
		log:    log,
		priv:   priv,
		pub:    pub,
		addr:   cryptoprovider.AddressOf(pub),
	}

	if cfg.MinerAddress != "" {
		minerAddr, err := hashutil.HashFromHex(cfg.MinerAddress)
		if err != nil {
			return nil, fmt.Errorf("node: parse miner address: %w", err)
		}
		n.minerAddr = minerAddr
		n.mining = true
	}

	// peers tracks per-address liveness (central only pings it) and the
	// §4.8c connected flag (every role, since a peer also exchanges
	// VERSION with the central address).
	n.peers = newPeerSet()
	return n, nil
}

// Address returns this node's own address (double_sha256 of its
// public key).
func (n *Node) Address() hashutil.Hash { return n.addr }

// Start opens the listening socket and, for the central role, begins
// the peer liveness loop (§4.8d). It returns once listening has begun;
// the accept loop and liveness loop both run in the background.
func (n *Node) Start() error {
	t, err := transport.Listen(n.cfg.ListenPort, n.handleMessage, n.log)
	if err != nil {
		return err
	}
	n.transport = t

	if n.cfg.Role == config.RoleCentral {
		n.stopLiveness = make(chan struct{})
		go n.livenessLoop()
	} else {
		n.announce()
	}
	return nil
}

// Stop closes the listening socket and, for the central role, the
// liveness loop.
func (n *Node) Stop() error {
	n.livenessOnce.Do(func() {
		if n.stopLiveness != nil {
			close(n.stopLiveness)
		}
	})
	if n.transport != nil {
		return n.transport.Close()
	}
	return nil
}

// announce sends a VERSION message to the central address, the
// handshake a peer performs once at startup (§4.8c).
func (n *Node) announce() {
	height, err := n.chain.Height()
	if err != nil {
		n.log.Debugw("announce: height", "error", err)
		return
	}
	n.sendVersion(config.CentralAddr, height)
}

func (n *Node) sendVersion(addr string, height int) {
	data, err := wire.Encode(wire.CommandVersion, wire.VersionPayload{
		Version:     config.ProtocolVersion,
		BlockHeight: height,
	}, uint32(n.cfg.ListenPort))
	if err != nil {
		n.log.Debugw("encode version", "error", err)
		return
	}
	transport.SendAsync(addr, data, n.log)
}

// peerAddr reconstructs a replyable dial-back address from the host a
// connection arrived from and the from_port field the sender stamped
// its envelope with.
func peerAddr(senderHost string, fromPort uint32) string {
	return net.JoinHostPort(senderHost, strconv.FormatUint(uint64(fromPort), 10))
}

// --- create_transaction (§4.8a) ---

// CreateTransaction spends this node's own UTXOs to pay value to
// recipient, broadcasts the resulting transaction and returns it.
func (n *Node) CreateTransaction(value uint64, recipient hashutil.Hash) (model.Transaction, error) {
	if value == 0 {
		return model.Transaction{}, ErrInvalidValue
	}
	if recipient == n.addr {
		return model.Transaction{}, ErrSourceEqualsDestination
	}

	unspent, err := n.chain.Unspent(n.addr)
	if err != nil {
		return model.Transaction{}, err
	}

	var selected []model.UTXOEntry
	var total uint64
	for _, u := range unspent {
		selected = append(selected, u)
		total += u.Value
		if total >= value {
			break
		}
	}
	if total < value {
		return model.Transaction{}, &InsufficientBalanceError{Requested: value, Available: total}
	}

	inputs := make([]model.TransactionInput, 0, len(selected))
	for _, u := range selected {
		ref := model.OutputReference{TxHash: u.OutpointHash, Index: u.OutpointIdx}
		message := ref.Hash()
		sig, err := cryptoprovider.Sign(n.priv, message[:])
		if err != nil {
			return model.Transaction{}, fmt.Errorf("node: sign input: %w", err)
		}
		if !cryptoprovider.Verify(n.pub, message[:], sig) {
			return model.Transaction{}, ErrUnverifiedTransaction
		}
		inputs = append(inputs, model.TransactionInput{
			PreviousOutput: ref,
			PublicKey:      n.pub,
			Signature:      sig,
		})
	}

	outputs := []model.TransactionOutput{{Value: value, Address: recipient}}
	if change := total - value; change > 0 {
		outputs = append(outputs, model.TransactionOutput{Value: change, Address: n.addr})
	}

	tx := model.Transaction{
		Inputs:   inputs,
		Outputs:  outputs,
		LockTime: uint32(time.Now().Unix()),
	}

	if err := n.chain.AddTransaction(tx); err != nil {
		return model.Transaction{}, err
	}

	n.broadcastTransactions([]model.Transaction{tx}, "")
	return tx, nil
}

// --- mine_block (§4.8b) ---

// MineBlock assembles the current mempool plus a coinbase reward into
// a candidate block, searches for a satisfying nonce, and persists the
// result — unless the chain tip advanced while the search ran, in
// which case the candidate is discarded and ErrBlockAlreadyMined is
// returned (§4.8b step 5).
func (n *Node) MineBlock() (model.Block, error) {
	if !n.mining {
		return model.Block{}, fmt.Errorf("node: no miner address configured")
	}

	mempoolTxs, err := n.chain.Mempool()
	if err != nil {
		return model.Block{}, err
	}
	prevHash, _, err := n.chain.LatestBlockHash()
	if err != nil {
		return model.Block{}, err
	}
	reward, err := n.chain.CurrentReward()
	if err != nil {
		return model.Block{}, err
	}

	coinbase := model.NewCoinbase(n.minerAddr, reward)
	txs := append(append([]model.Transaction(nil), mempoolTxs...), coinbase)
	timestamp := uint32(time.Now().Unix())

	hash, nonce, err := pow.Work(prevHash, timestamp, txs, n.cfg.Difficulty)
	if err != nil {
		return model.Block{}, err
	}

	currentTip, _, err := n.chain.LatestBlockHash()
	if err != nil {
		return model.Block{}, err
	}
	if currentTip != prevHash {
		return model.Block{}, ErrBlockAlreadyMined
	}

	block, err := n.chain.CreateBlock(nonce, hash, prevHash, timestamp, txs)
	if err != nil {
		return model.Block{}, err
	}

	n.broadcastBlocks([]model.Block{block}, "")
	return block, nil
}

// --- broadcast helpers ---

// broadcastTransactions gossips txs. A central node fans out to every
// known peer except except (the sender, when rebroadcasting); a peer
// node always sends to the central address.
func (n *Node) broadcastTransactions(txs []model.Transaction, except string) {
	data, err := wire.Encode(wire.CommandTransactions, wire.TransactionsPayload{Transactions: txs}, uint32(n.cfg.ListenPort))
	if err != nil {
		n.log.Debugw("encode transactions", "error", err)
		return
	}
	n.fanOut(data, except)
}

func (n *Node) broadcastBlocks(blocks []model.Block, except string) {
	data, err := wire.Encode(wire.CommandBlocks, wire.BlocksPayload{Blocks: blocks}, uint32(n.cfg.ListenPort))
	if err != nil {
		n.log.Debugw("encode blocks", "error", err)
		return
	}
	n.fanOut(data, except)
}

func (n *Node) fanOut(data []byte, except string) {
	if n.cfg.Role == config.RoleCentral {
		for _, addr := range n.peers.listExcept(except) {
			transport.SendAsync(addr, data, n.log)
		}
		return
	}
	transport.SendAsync(config.CentralAddr, data, n.log)
}

// --- incoming message dispatch (§4.6, §4.8c) ---

func (n *Node) handleMessage(data []byte, senderHost string) {
	msg, err := wire.Decode(data)
	if err != nil {
		n.log.Debugw("decode message", "error", err)
		return
	}
	from := peerAddr(senderHost, msg.FromPort)

	switch msg.Command {
	case wire.CommandVersion:
		n.handleVersion(msg, from)
	case wire.CommandGetTransactions:
		n.handleGetTransactions(from)
	case wire.CommandTransactions:
		n.handleTransactions(msg, from)
	case wire.CommandGetBlocks:
		n.handleGetBlocks(msg, from)
	case wire.CommandBlocks:
		n.handleBlocks(msg, from)
	case wire.CommandPing:
		n.handlePing(from)
	case wire.CommandPong:
		n.handlePong(from)
	default:
		n.log.Debugw("unknown command", "command", msg.Command)
	}
}

// handleVersion runs the full §4.8c handshake: compare heights, request
// catch-up or reply in kind, register the sender if central, and record
// whether the two sides ended up height-synced.
func (n *Node) handleVersion(msg wire.Message, from string) {
	payload, err := msg.DecodeVersion()
	if err != nil {
		n.log.Debugw("decode version", "error", err)
		return
	}
	if payload.Version != config.ProtocolVersion {
		n.log.Debugw("version mismatch", "peer", from, "version", payload.Version)
		return
	}

	localHeight, err := n.chain.Height()
	if err != nil {
		n.log.Debugw("handleVersion: height", "error", err)
		return
	}

	switch {
	case localHeight < payload.BlockHeight:
		n.requestCatchUp(from)
		n.peers.markNotConnected(from)
	case localHeight > payload.BlockHeight:
		n.sendVersion(from, localHeight)
	default:
		if !n.peers.isKnown(from) {
			n.sendVersion(from, localHeight)
		}
	}

	if n.cfg.Role == config.RoleCentral {
		n.peers.register(from)
	}
	if localHeight >= payload.BlockHeight {
		n.peers.markConnected(from)
	}
}

// requestCatchUp asks a taller peer for everything this node is
// missing: the blocks after our own tip and the peer's mempool.
func (n *Node) requestCatchUp(to string) {
	latestHash, ok, err := n.chain.LatestBlockHash()
	if err != nil {
		n.log.Debugw("requestCatchUp: latest hash", "error", err)
		return
	}
	var fromHash hashutil.Hash
	if ok {
		fromHash = latestHash
	}
	getBlocks, err := wire.Encode(wire.CommandGetBlocks, wire.GetBlocksPayload{FromBlockHash: fromHash}, uint32(n.cfg.ListenPort))
	if err != nil {
		n.log.Debugw("encode get_blocks", "error", err)
	} else {
		transport.SendAsync(to, getBlocks, n.log)
	}

	getTxs, err := wire.Encode(wire.CommandGetTransactions, wire.GetTransactionsPayload{}, uint32(n.cfg.ListenPort))
	if err != nil {
		n.log.Debugw("encode get_transactions", "error", err)
		return
	}
	transport.SendAsync(to, getTxs, n.log)
}

func (n *Node) handleGetTransactions(from string) {
	txs, err := n.chain.Mempool()
	if err != nil {
		n.log.Debugw("handleGetTransactions: mempool", "error", err)
		return
	}
	data, err := wire.Encode(wire.CommandTransactions, wire.TransactionsPayload{Transactions: txs}, uint32(n.cfg.ListenPort))
	if err != nil {
		n.log.Debugw("encode transactions", "error", err)
		return
	}
	transport.SendAsync(from, data, n.log)
}

func (n *Node) handleTransactions(msg wire.Message, from string) {
	payload, err := msg.DecodeTransactions()
	if err != nil {
		n.log.Debugw("decode transactions", "error", err)
		return
	}

	var accepted []model.Transaction
	for _, tx := range payload.Transactions {
		if n.verifyTransaction(tx) {
			if err := n.chain.AddTransaction(tx); err == nil {
				accepted = append(accepted, tx)
			}
		}
	}

	if len(accepted) > 0 && n.cfg.Role == config.RoleCentral {
		n.broadcastTransactions(accepted, from)
	}
}

// verifyTransaction checks a non-coinbase transaction's inputs each
// reference a still-unspent output, carry a signature that verifies
// over that output's outpoint hash, and carry a public key whose
// address matches the referenced output's owner — the §9 open
// question #1 hardening against a forged public_key.
func (n *Node) verifyTransaction(tx model.Transaction) bool {
	if tx.IsCoinbase() {
		return false
	}
	for _, in := range tx.Inputs {
		utxo, ok, err := n.chain.FindUTXO(in.PreviousOutput.TxHash, in.PreviousOutput.Index)
		if err != nil || !ok {
			return false
		}
		if cryptoprovider.AddressOf(in.PublicKey) != utxo.Address {
			return false
		}
		message := in.PreviousOutput.Hash()
		if !cryptoprovider.Verify(in.PublicKey, message[:], in.Signature) {
			return false
		}
	}
	return true
}

func (n *Node) handleGetBlocks(msg wire.Message, from string) {
	payload, err := msg.DecodeGetBlocks()
	if err != nil {
		n.log.Debugw("decode get_blocks", "error", err)
		return
	}

	var fromHash *hashutil.Hash
	if !payload.FromBlockHash.IsZero() {
		fromHash = &payload.FromBlockHash
	}
	blocks, err := n.chain.Blocks(fromHash)
	if err != nil {
		n.log.Debugw("handleGetBlocks: blocks", "error", err)
		return
	}
	data, err := wire.Encode(wire.CommandBlocks, wire.BlocksPayload{Blocks: blocks}, uint32(n.cfg.ListenPort))
	if err != nil {
		n.log.Debugw("encode blocks", "error", err)
		return
	}
	transport.SendAsync(from, data, n.log)
}

func (n *Node) handleBlocks(msg wire.Message, from string) {
	payload, err := msg.DecodeBlocks()
	if err != nil {
		n.log.Debugw("decode blocks", "error", err)
		return
	}

	var accepted []model.Block
	for _, block := range payload.Blocks {
		latestHash, hasLatest, err := n.chain.LatestBlockHash()
		if err != nil {
			n.log.Debugw("handleBlocks: latest hash", "error", err)
			continue
		}
		if hasLatest {
			if block.PreviousHash != latestHash {
				n.log.Debugw("rejected block: previous_hash does not match tip", "hash", block.Hash.String())
				continue
			}
		} else if !block.PreviousHash.IsZero() {
			n.log.Debugw("rejected block: expected genesis previous_hash", "hash", block.Hash.String())
			continue
		}
		if !pow.Validate(block, block.PreviousHash, n.cfg.Difficulty) {
			n.log.Debugw("rejected block: pow invalid", "hash", block.Hash.String())
			continue
		}
		if _, ok := block.Coinbase(); !ok {
			n.log.Debugw("rejected block: missing/misplaced coinbase", "hash", block.Hash.String())
			continue
		}
		if err := n.chain.AddBlock(block); err != nil {
			n.log.Debugw("rejected block: store", "hash", block.Hash.String(), "error", err)
			continue
		}
		accepted = append(accepted, block)
	}

	n.peers.markConnected(from)
	if len(accepted) > 0 && n.cfg.Role == config.RoleCentral {
		n.broadcastBlocks(accepted, from)
	}
}

func (n *Node) handlePing(from string) {
	data, err := wire.Encode(wire.CommandPong, wire.PongPayload{}, uint32(n.cfg.ListenPort))
	if err != nil {
		n.log.Debugw("encode pong", "error", err)
		return
	}
	transport.SendAsync(from, data, n.log)
}

func (n *Node) handlePong(from string) {
	n.peers.markPong(from)
}

// --- central-only peer liveness (§4.8d) ---

// livenessLoop implements §4.8d. Each tick first prunes peers that
// missed the PING sent on the previous tick (§4.8d's "more than
// ping_interval/2 elapsed without a matching PONG"), then pings every
// surviving peer — in that order, so a fresh PING's near-zero elapsed
// time is never mistaken for a miss.
func (n *Node) livenessLoop() {
	ticker := time.NewTicker(n.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopLiveness:
			return
		case <-ticker.C:
			for _, addr := range n.peers.prune(n.cfg.PingInterval) {
				n.log.Infow("pruned unresponsive peer", "addr", addr)
			}
			for _, addr := range n.peers.list() {
				n.peers.markPinged(addr)
				data, err := wire.Encode(wire.CommandPing, wire.PingPayload{}, uint32(n.cfg.ListenPort))
				if err != nil {
					n.log.Debugw("encode ping", "error", err)
					continue
				}
				transport.SendAsync(addr, data, n.log)
			}
		}
	}
}
