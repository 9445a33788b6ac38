package node

import (
	"io"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utxochain/chain"
	"utxochain/config"
	"utxochain/cryptoprovider"
	"utxochain/hashutil"
	"utxochain/logging"
	"utxochain/model"
	"utxochain/store"
	"utxochain/wire"
)

func wireEncodeVersion(t *testing.T) ([]byte, error) {
	t.Helper()
	return wire.Encode(wire.CommandVersion, wire.VersionPayload{Version: config.ProtocolVersion, BlockHeight: 0}, 9334)
}

func newTestNode(t *testing.T, cfg config.Config) (*Node, *chain.Chain, *cryptoprovider.PrivateKey, cryptoprovider.PublicKey) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "chain.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	c := chain.New(s)

	cp := cryptoprovider.New(t.TempDir())
	priv, pub, err := cp.GenerateKeypair("owner", false)
	require.NoError(t, err)

	n, err := New(cfg, c, cp, priv, pub, logging.Nop())
	require.NoError(t, err)
	return n, c, priv, pub
}

func fundAddress(t *testing.T, c *chain.Chain, addr hashutil.Hash, amount uint64) hashutil.Hash {
	t.Helper()
	cb := model.NewCoinbase(addr, amount)
	block, err := c.CreateBlock(0, hashutil.Sum256([]byte("funding-block")), hashutil.Hash{}, 1, []model.Transaction{cb})
	require.NoError(t, err)
	return block.Hash
}

func TestCreateTransactionRejectsZeroValue(t *testing.T) {
	n, _, _, _ := newTestNode(t, config.Config{Role: config.RolePeer})
	_, err := n.CreateTransaction(0, hashutil.Sum256([]byte("someone")))
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestCreateTransactionRejectsSelfPayment(t *testing.T) {
	n, _, _, _ := newTestNode(t, config.Config{Role: config.RolePeer})
	_, err := n.CreateTransaction(10, n.Address())
	assert.ErrorIs(t, err, ErrSourceEqualsDestination)
}

func TestCreateTransactionRejectsInsufficientBalance(t *testing.T) {
	n, _, _, _ := newTestNode(t, config.Config{Role: config.RolePeer})
	_, err := n.CreateTransaction(500, hashutil.Sum256([]byte("someone")))
	require.Error(t, err)
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, uint64(500), insufficient.Overdraft())
}

func TestCreateTransactionSpendsOwnUTXO(t *testing.T) {
	n, c, _, _ := newTestNode(t, config.Config{Role: config.RolePeer})
	fundAddress(t, c, n.Address(), 1000)

	recipient := hashutil.Sum256([]byte("recipient"))
	tx, err := n.CreateTransaction(400, recipient)
	require.NoError(t, err)
	require.Len(t, tx.Outputs, 2, "expected a payment output and a change output")

	balance, err := c.Balance(recipient)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), balance)

	remaining, err := c.Balance(n.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(600), remaining)
}

func TestCreateTransactionExactBalanceHasNoChange(t *testing.T) {
	n, c, _, _ := newTestNode(t, config.Config{Role: config.RolePeer})
	fundAddress(t, c, n.Address(), 250)

	recipient := hashutil.Sum256([]byte("recipient"))
	tx, err := n.CreateTransaction(250, recipient)
	require.NoError(t, err)
	assert.Len(t, tx.Outputs, 1)
}

func TestMineBlockRequiresMinerAddress(t *testing.T) {
	n, _, _, _ := newTestNode(t, config.Config{Role: config.RolePeer})
	_, err := n.MineBlock()
	assert.Error(t, err)
}

func TestMineBlockMintsRewardAndClearsMempool(t *testing.T) {
	cp := cryptoprovider.New(t.TempDir())
	_, minerPub, err := cp.GenerateKeypair("miner", false)
	require.NoError(t, err)
	minerAddr := cryptoprovider.AddressOf(minerPub)

	s, err := store.Open(filepath.Join(t.TempDir(), "chain.db"))
	require.NoError(t, err)
	defer s.Close()
	c := chain.New(s)

	priv, pub, err := cp.GenerateKeypair("owner", false)
	require.NoError(t, err)

	cfg := config.Config{Role: config.RolePeer, Difficulty: 1, MinerAddress: minerAddr.String()}
	n, err := New(cfg, c, cp, priv, pub, logging.Nop())
	require.NoError(t, err)

	require.NoError(t, c.AddTransaction(model.NewCoinbase(hashutil.Sum256([]byte("unrelated")), 1)))

	block, err := n.MineBlock()
	require.NoError(t, err)
	require.Len(t, block.Transactions, 2)

	coinbase, ok := block.Coinbase()
	require.True(t, ok)
	assert.Equal(t, minerAddr, coinbase.Outputs[0].Address)

	mempool, err := c.Mempool()
	require.NoError(t, err)
	assert.Empty(t, mempool)
}

func TestVerifyTransactionRejectsForgedPublicKey(t *testing.T) {
	n, c, _, _ := newTestNode(t, config.Config{Role: config.RolePeer})
	ownerAddr := n.Address()
	fundAddress(t, c, ownerAddr, 1000)

	unspent, err := c.Unspent(ownerAddr)
	require.NoError(t, err)
	require.Len(t, unspent, 1)

	otherCP := cryptoprovider.New(t.TempDir())
	otherPriv, otherPub, err := otherCP.GenerateKeypair("attacker", false)
	require.NoError(t, err)

	ref := model.OutputReference{TxHash: unspent[0].OutpointHash, Index: unspent[0].OutpointIdx}
	message := ref.Hash()
	sig, err := cryptoprovider.Sign(otherPriv, message[:])
	require.NoError(t, err)

	forged := model.Transaction{
		Inputs: []model.TransactionInput{{
			PreviousOutput: ref,
			PublicKey:      otherPub,
			Signature:      sig,
		}},
		Outputs: []model.TransactionOutput{{Value: 1000, Address: hashutil.Sum256([]byte("thief"))}},
	}

	assert.False(t, n.verifyTransaction(forged), "a signature valid for a key that does not own the UTXO must be rejected")
}

func TestVerifyTransactionAcceptsOwnerSignature(t *testing.T) {
	n, c, priv, pub := newTestNode(t, config.Config{Role: config.RolePeer})
	ownerAddr := n.Address()
	fundAddress(t, c, ownerAddr, 1000)

	unspent, err := c.Unspent(ownerAddr)
	require.NoError(t, err)
	require.Len(t, unspent, 1)

	ref := model.OutputReference{TxHash: unspent[0].OutpointHash, Index: unspent[0].OutpointIdx}
	message := ref.Hash()
	sig, err := cryptoprovider.Sign(priv, message[:])
	require.NoError(t, err)

	tx := model.Transaction{
		Inputs: []model.TransactionInput{{
			PreviousOutput: ref,
			PublicKey:      pub,
			Signature:      sig,
		}},
		Outputs: []model.TransactionOutput{{Value: 1000, Address: hashutil.Sum256([]byte("recipient"))}},
	}

	assert.True(t, n.verifyTransaction(tx))
}

func TestVerifyTransactionRejectsCoinbase(t *testing.T) {
	n, _, _, _ := newTestNode(t, config.Config{Role: config.RolePeer})
	cb := model.NewCoinbase(hashutil.Sum256([]byte("miner")), 100)
	assert.False(t, n.verifyTransaction(cb))
}

func TestPeerSetRegisterAndListExcept(t *testing.T) {
	ps := newPeerSet()
	ps.register("127.0.0.1:1")
	ps.register("127.0.0.1:2")
	assert.ElementsMatch(t, []string{"127.0.0.1:1", "127.0.0.1:2"}, ps.list())

	assert.ElementsMatch(t, []string{"127.0.0.1:2"}, ps.listExcept("127.0.0.1:1"))
}

func TestPeerAddrReconstructsDialBackAddress(t *testing.T) {
	assert.Equal(t, "192.168.1.5:9334", peerAddr("192.168.1.5", 9334))
}

func TestHandleVersionRegistersPeerOnCentral(t *testing.T) {
	n, _, _, _ := newTestNode(t, config.Config{Role: config.RoleCentral, ListenPort: 9333})
	require.NotNil(t, n.peers)

	data, err := wireEncodeVersion(t)
	require.NoError(t, err)
	n.handleMessage(data, "10.0.0.5")

	assert.Contains(t, n.peers.list(), "10.0.0.5:9334")
}

func TestHandlePongMarksKnownPeer(t *testing.T) {
	n, _, _, _ := newTestNode(t, config.Config{Role: config.RoleCentral, ListenPort: 9333})
	n.peers.register("10.0.0.5:9334")

	before := time.Now()
	n.handlePong("10.0.0.5:9334")
	n.peers.mu.Lock()
	lastPong := n.peers.peers["10.0.0.5:9334"].lastPongAt
	n.peers.mu.Unlock()
	assert.False(t, lastPong.Before(before), "a PONG from a known peer must update its lastPongAt")

	// markPong does not panic and silently no-ops for unknown peers
	n.handlePong("10.0.0.99:1")
	assert.False(t, n.peers.isKnown("10.0.0.99:1"))
}

// rawListenAndDecode starts a bare TCP listener (not a transport.Transport,
// to avoid a test import cycle) that decodes n wire envelopes and reports
// each one's command on the returned channel.
func rawListenAndDecode(t *testing.T, n int) (net.Listener, <-chan wire.Command) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	commands := make(chan wire.Command, n)
	go func() {
		for i := 0; i < n; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			data, _ := io.ReadAll(conn)
			conn.Close()
			if msg, err := wire.Decode(data); err == nil {
				commands <- msg.Command
			}
		}
	}()
	return ln, commands
}

func TestHandleVersionRequestsCatchUpWhenBehind(t *testing.T) {
	n, _, _, _ := newTestNode(t, config.Config{Role: config.RolePeer})

	ln, commands := rawListenAndDecode(t, 2)
	defer ln.Close()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	data, err := wire.Encode(wire.CommandVersion, wire.VersionPayload{Version: config.ProtocolVersion, BlockHeight: 5}, uint32(port))
	require.NoError(t, err)
	n.handleMessage(data, host)

	from := peerAddr(host, uint32(port))
	seen := map[wire.Command]bool{}
	for i := 0; i < 2; i++ {
		select {
		case cmd := <-commands:
			seen[cmd] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for catch-up request")
		}
	}
	assert.True(t, seen[wire.CommandGetBlocks], "expected a GET_BLOCKS catch-up request")
	assert.True(t, seen[wire.CommandGetTransactions], "expected a GET_TRANSACTIONS catch-up request")
	assert.True(t, n.peers.isKnown(from), "a behind node still records the sender once it requests catch-up")
}

func TestHandleVersionMarksNotConnectedWhenBehind(t *testing.T) {
	n, _, _, _ := newTestNode(t, config.Config{Role: config.RolePeer})

	ln, _ := rawListenAndDecode(t, 2)
	defer ln.Close()
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	data, err := wire.Encode(wire.CommandVersion, wire.VersionPayload{Version: config.ProtocolVersion, BlockHeight: 5}, uint32(port))
	require.NoError(t, err)
	n.handleMessage(data, host)

	from := peerAddr(host, uint32(port))
	n.peers.mu.Lock()
	info, ok := n.peers.peers[from]
	n.peers.mu.Unlock()
	require.True(t, ok)
	assert.False(t, info.connected, "a peer reporting a taller chain must be marked not-connected")
}

func TestHandleBlocksRejectsNonMatchingPreviousHash(t *testing.T) {
	n, c, _, _ := newTestNode(t, config.Config{Role: config.RolePeer, Difficulty: 0})
	fundAddress(t, c, n.Address(), 100)

	height, err := c.Height()
	require.NoError(t, err)
	require.Equal(t, 1, height)

	stale := model.Block{
		Timestamp:    1,
		Transactions: []model.Transaction{model.NewCoinbase(hashutil.Sum256([]byte("other-miner")), 100)},
		Nonce:        0,
		PreviousHash: hashutil.Sum256([]byte("not-the-real-tip")),
	}
	stale.Hash = stale.ComputeHash()

	data, err := wire.Encode(wire.CommandBlocks, wire.BlocksPayload{Blocks: []model.Block{stale}}, 1)
	require.NoError(t, err)
	n.handleMessage(data, "127.0.0.1")

	height, err = c.Height()
	require.NoError(t, err)
	assert.Equal(t, 1, height, "a block whose previous_hash does not match the tip must not be accepted")
}

func TestPeerSetPruneHonorsHalfPingInterval(t *testing.T) {
	const pingInterval = 300 * time.Millisecond // half = 150ms

	ps := newPeerSet()
	ps.register("peer:1")
	ps.markPinged("peer:1")

	assert.Empty(t, ps.prune(pingInterval), "a peer just pinged must not be pruned immediately")

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, ps.prune(pingInterval), "a peer within half the ping interval must survive")

	time.Sleep(100 * time.Millisecond) // total elapsed ~180ms > 150ms half
	assert.Contains(t, ps.prune(pingInterval), "peer:1", "a peer unresponsive past half the ping interval must be pruned")
}

func TestPeerSetPruneSparesRespondingPeer(t *testing.T) {
	const pingInterval = 300 * time.Millisecond // half = 150ms

	ps := newPeerSet()
	ps.register("peer:1")
	ps.markPinged("peer:1")
	ps.markPong("peer:1")

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, ps.prune(pingInterval), "a peer that answered its ping must not be pruned")
}
