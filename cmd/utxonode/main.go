// Command utxonode is the CLI entrypoint: wallet management plus the
// node operations (send, mine, startnode) layered on packages chain,
// node and store.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"utxochain/chain"
	"utxochain/config"
	"utxochain/cryptoprovider"
	"utxochain/hashutil"
	"utxochain/logging"
	"utxochain/node"
	"utxochain/store"
)

const usage = `Usage:
	createwallet -name NAME                              --- Generate a new key pair and save it under the wallet directory ($UTXOCHAIN_WALLET_DIR, default .)
	listaddr                                               --- List every wallet name saved locally
	balance -name NAME -store PATH                       --- Print the balance owned by wallet NAME
	payments -name NAME -store PATH                      --- Print payment history for wallet NAME
	printchain -store PATH                                --- Print every block in the local chain
	send -name NAME -to ADDR -amount AMT -store PATH     --- Spend AMT from wallet NAME to address ADDR, broadcast the transaction
	mine -name NAME -store PATH                           --- Mine the current mempool into a new block, reward to NAME
	startnode -role central|peer -port N -miner ADDR      --- Run a node that stores and relays blocks and transactions; it does not mine, ADDR is only recorded as its hex reward address`

// CLI is the command line interface for utxonode.
type CLI struct{}

func (cli *CLI) printUsage() {
	fmt.Println(usage)
}

func (cli *CLI) validateArgs() {
	if len(os.Args) < 2 {
		cli.printUsage()
		os.Exit(1)
	}
}

func openChain(path string) (*store.Store, *chain.Chain, error) {
	s, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return s, chain.New(s), nil
}

func (cli *CLI) createWallet(dir, name string) {
	cp := cryptoprovider.New(dir)
	_, pub, err := cp.GenerateKeypair(name, true)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	addr := cryptoprovider.AddressOf(pub)
	fmt.Printf("wallet %q created, address: %s\n", name, addr.String())
}

func (cli *CLI) listAddrs(dir string) {
	entries, err := os.ReadDir(dir + "/keys")
	if err != nil {
		fmt.Println("no wallets found")
		return
	}
	for _, e := range entries {
		fmt.Println(strings.TrimSuffix(e.Name(), ".key"))
	}
}

func (cli *CLI) balance(dir, storePath, name string) {
	cp := cryptoprovider.New(dir)
	_, pub, ok := cp.LoadKeypair(name)
	if !ok {
		fmt.Printf("error: unknown wallet %q\n", name)
		os.Exit(1)
	}
	s, c, err := openChain(storePath)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	bal, err := c.Balance(cryptoprovider.AddressOf(pub))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("balance: %d\n", bal)
}

func (cli *CLI) payments(dir, storePath, name string) {
	cp := cryptoprovider.New(dir)
	_, pub, ok := cp.LoadKeypair(name)
	if !ok {
		fmt.Printf("error: unknown wallet %q\n", name)
		os.Exit(1)
	}
	s, c, err := openChain(storePath)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	records, err := c.Payments(pub)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	for _, r := range records {
		fmt.Printf("tx %s: %s -> %s value %d lock_time %d\n", r.TxHash, r.Sender, r.Recipient, r.Value, r.LockTime)
	}
}

func (cli *CLI) printChain(storePath string) {
	s, c, err := openChain(storePath)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	blocks, err := c.Blocks(nil)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	for _, b := range blocks {
		fmt.Printf("== block %s ==\n", b.Hash)
		fmt.Printf("timestamp: %d\n", b.Timestamp)
		fmt.Printf("previous: %s\n", b.PreviousHash)
		fmt.Printf("nonce: %d\n", b.Nonce)
		fmt.Printf("transactions: %d\n\n", len(b.Transactions))
	}
}

func (cli *CLI) send(dir, storePath, name, to string, amount uint64, cfg config.Config) {
	cp := cryptoprovider.New(dir)
	priv, pub, ok := cp.LoadKeypair(name)
	if !ok {
		fmt.Printf("error: unknown wallet %q\n", name)
		os.Exit(1)
	}
	recipient, err := hashutil.HashFromHex(to)
	if err != nil {
		fmt.Printf("error: bad recipient address: %v\n", err)
		os.Exit(1)
	}

	s, c, err := openChain(storePath)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	sugar := logging.Nop()
	n, err := node.New(cfg, c, cp, priv, pub, sugar)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}

	tx, err := n.CreateTransaction(amount, recipient)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("sent, tx hash: %s\n", tx.Hash())
}

func (cli *CLI) mine(dir, storePath, name string, cfg config.Config) {
	cp := cryptoprovider.New(dir)
	priv, pub, ok := cp.LoadKeypair(name)
	if !ok {
		fmt.Printf("error: unknown wallet %q\n", name)
		os.Exit(1)
	}
	cfg.MinerAddress = cryptoprovider.AddressOf(pub).String()

	s, c, err := openChain(storePath)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	sugar := logging.Nop()
	n, err := node.New(cfg, c, cp, priv, pub, sugar)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}

	block, err := n.MineBlock()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("mined block %s\n", block.Hash)
}

// startNode runs a long-lived node. cfg.MinerAddress (set by -miner, a
// hex address) is the reward address the node's MineBlock would use; it
// need not be a wallet known to this process, and startNode itself never
// calls MineBlock. The node's own signing identity, used for
// create_transaction, is a separate keypair persisted under the wallet
// directory and generated once on first run.
func (cli *CLI) startNode(dir string, cfg config.Config) {
	log, err := logging.New(false)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cp := cryptoprovider.New(dir)
	priv, pub, ok := cp.LoadKeypair("node-identity")
	if !ok {
		priv, pub, err = cp.GenerateKeypair("node-identity", true)
		if err != nil {
			log.Fatalw("generate identity key", "error", err)
		}
	}

	s, c, err := openChain(cfg.StorePath)
	if err != nil {
		log.Fatalw("open store", "error", err)
	}
	defer s.Close()

	n, err := node.New(cfg, c, cp, priv, pub, log)
	if err != nil {
		log.Fatalw("construct node", "error", err)
	}
	if err := n.Start(); err != nil {
		log.Fatalw("start node", "error", err)
	}
	defer n.Stop()

	log.Infow("node running", "role", cfg.Role, "port", cfg.ListenPort, "address", n.Address().String())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func (cli *CLI) Run() {
	cli.validateArgs()

	walletDir := os.Getenv("UTXOCHAIN_WALLET_DIR")
	if walletDir == "" {
		walletDir = "."
	}

	createWalletSubCmd := flag.NewFlagSet("createwallet", flag.ExitOnError)
	createWalletName := createWalletSubCmd.String("name", "", "wallet name")

	listAddrSubCmd := flag.NewFlagSet("listaddr", flag.ExitOnError)

	balanceSubCmd := flag.NewFlagSet("balance", flag.ExitOnError)
	balanceName := balanceSubCmd.String("name", "", "wallet name")
	balanceStore := balanceSubCmd.String("store", "utxochain.db", "store path")

	paymentsSubCmd := flag.NewFlagSet("payments", flag.ExitOnError)
	paymentsName := paymentsSubCmd.String("name", "", "wallet name")
	paymentsStore := paymentsSubCmd.String("store", "utxochain.db", "store path")

	printChainSubCmd := flag.NewFlagSet("printchain", flag.ExitOnError)
	printChainStore := printChainSubCmd.String("store", "utxochain.db", "store path")

	sendSubCmd := flag.NewFlagSet("send", flag.ExitOnError)
	sendName := sendSubCmd.String("name", "", "sender wallet name")
	sendTo := sendSubCmd.String("to", "", "recipient address (hex)")
	sendAmount := sendSubCmd.Uint64("amount", 0, "amount to send")
	sendStore := sendSubCmd.String("store", "utxochain.db", "store path")
	sendCentralHost := sendSubCmd.String("central-host", "127.0.0.1", "central node host")
	sendCentralPort := sendSubCmd.Int("central-port", 9333, "central node port")

	mineSubCmd := flag.NewFlagSet("mine", flag.ExitOnError)
	mineName := mineSubCmd.String("name", "", "miner wallet name")
	mineStore := mineSubCmd.String("store", "utxochain.db", "store path")
	mineDifficulty := mineSubCmd.Uint("difficulty", uint(config.DefaultDifficulty), "proof-of-work hex-prefix length")

	switch os.Args[1] {
	case "createwallet":
		_ = createWalletSubCmd.Parse(os.Args[2:])
		if *createWalletName == "" {
			createWalletSubCmd.Usage()
			os.Exit(1)
		}
		cli.createWallet(walletDir, *createWalletName)
	case "listaddr":
		_ = listAddrSubCmd.Parse(os.Args[2:])
		cli.listAddrs(walletDir)
	case "balance":
		_ = balanceSubCmd.Parse(os.Args[2:])
		if *balanceName == "" {
			balanceSubCmd.Usage()
			os.Exit(1)
		}
		cli.balance(walletDir, *balanceStore, *balanceName)
	case "payments":
		_ = paymentsSubCmd.Parse(os.Args[2:])
		if *paymentsName == "" {
			paymentsSubCmd.Usage()
			os.Exit(1)
		}
		cli.payments(walletDir, *paymentsStore, *paymentsName)
	case "printchain":
		_ = printChainSubCmd.Parse(os.Args[2:])
		cli.printChain(*printChainStore)
	case "send":
		_ = sendSubCmd.Parse(os.Args[2:])
		if *sendName == "" || *sendTo == "" || *sendAmount == 0 {
			sendSubCmd.Usage()
			os.Exit(1)
		}
		config.CentralAddr = fmt.Sprintf("%s:%d", *sendCentralHost, *sendCentralPort)
		cfg := config.Config{Role: config.RolePeer, StorePath: *sendStore}
		cli.send(walletDir, *sendStore, *sendName, *sendTo, *sendAmount, cfg)
	case "mine":
		_ = mineSubCmd.Parse(os.Args[2:])
		if *mineName == "" {
			mineSubCmd.Usage()
			os.Exit(1)
		}
		cfg := config.Config{Role: config.RolePeer, StorePath: *mineStore, Difficulty: uint32(*mineDifficulty)}
		cli.mine(walletDir, *mineStore, *mineName, cfg)
	case "startnode":
		cfg, err := config.Load(os.Args[2:])
		if err != nil {
			fmt.Printf("error: %v\n", err)
			os.Exit(1)
		}
		cli.startNode(walletDir, cfg)
	default:
		cli.printUsage()
		os.Exit(1)
	}
}

func main() {
	cli := &CLI{}
	cli.Run()
}
