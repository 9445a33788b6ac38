// Package config defines the node's configuration surface (§6) and
// loads it from flags with environment-variable overrides, the way
// the teacher's cli.go builds a flag.FlagSet and the pack's wallet
// backend loads a .env file before reading os.Getenv.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Role is the fixed-at-construction node role.
type Role string

const (
	RoleCentral Role = "central"
	RolePeer    Role = "peer"
)

const (
	// DefaultDifficulty is the default proof-of-work hex-prefix length.
	DefaultDifficulty uint32 = 3
	// DefaultPingInterval is the default peer-liveness cadence.
	DefaultPingInterval = 10 * time.Second
	// ProtocolVersion is compared verbatim between peers on VERSION.
	ProtocolVersion = 1
)

// CentralAddr is the central node's discoverable endpoint. It is a
// mutable package-level variable, not a constant, so tests can rebind
// it per process; Load (and the CLI's send subcommand) overwrite it
// from the central host/port flags (§6, §9 "Global mutable state").
var CentralAddr = "127.0.0.1:9333"

// Config holds the enumerated options from §6 except the central
// host/port, which Load folds into CentralAddr instead.
type Config struct {
	Role         Role
	Difficulty   uint32
	PingInterval time.Duration
	ListenPort   int
	StorePath    string
	MinerAddress string // hex address; empty disables mining
}

// Load parses flags from args (os.Args[2:], after the startnode
// subcommand, in production) after first
// applying any .env file in the working directory. Flags take
// precedence over environment variables, which take precedence over
// the documented defaults.
func Load(args []string) (Config, error) {
	_ = godotenv.Load() // optional; silently absent outside dev

	fs := flag.NewFlagSet("utxonode", flag.ContinueOnError)

	role := fs.String("role", getenv("UTXOCHAIN_ROLE", "peer"), "central or peer")
	difficulty := fs.Uint("difficulty", uint(getenvUint("UTXOCHAIN_DIFFICULTY", uint64(DefaultDifficulty))), "proof-of-work hex-prefix length")
	pingSeconds := fs.Float64("ping-interval", getenvFloat("UTXOCHAIN_PING_INTERVAL", DefaultPingInterval.Seconds()), "peer liveness ping interval, seconds")
	port := fs.Int("port", int(getenvUint("UTXOCHAIN_PORT", 9334)), "this node's listen port")
	storePath := fs.String("store", getenv("UTXOCHAIN_STORE_PATH", "utxochain.db"), "path to the sqlite store file")
	miner := fs.String("miner", getenv("UTXOCHAIN_MINER_ADDRESS", ""), "hex miner address; empty disables mining")
	centralHost := fs.String("central-host", getenv("UTXOCHAIN_CENTRAL_HOST", "127.0.0.1"), "central node host")
	centralPort := fs.Int("central-port", int(getenvUint("UTXOCHAIN_CENTRAL_PORT", 9333)), "central node port")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	CentralAddr = *centralHost + ":" + strconv.Itoa(*centralPort)

	return Config{
		Role:         Role(*role),
		Difficulty:   uint32(*difficulty),
		PingInterval: time.Duration(*pingSeconds * float64(time.Second)),
		ListenPort:   *port,
		StorePath:    *storePath,
		MinerAddress: *miner,
	}, nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getenvUint(key string, def uint64) uint64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}
