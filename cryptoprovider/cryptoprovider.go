// Package cryptoprovider is the external C2 collaborator: key pair
// generation, signing and verification over a fixed curve, plus the
// OS-keystore-equivalent persistence. Its contract is fixed by §4.2;
// implemented here over stdlib crypto/ecdsa on P256, the same curve
// and key-pair shape the teacher's core/wallet.go used, since no
// example in the retrieved pack reaches for a third-party ECDSA
// library for this — see DESIGN.md.
package cryptoprovider

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/gob"
	"errors"
	"math/big"
	"os"
	"path/filepath"

	"utxochain/hashutil"
)

func init() {
	gob.Register(elliptic.P256())
}

// PrivateKey wraps an ecdsa.PrivateKey so callers never need the
// crypto/ecdsa import themselves.
type PrivateKey struct {
	key ecdsa.PrivateKey
}

// PublicKey is the raw, deterministic encoding of an ECDSA public key:
// X bytes followed by Y bytes, both on P256.
type PublicKey []byte

// Provider generates, loads and persists key pairs under a directory
// (the OS-keystore stand-in) and performs signing/verification.
type Provider struct {
	dir string
}

// New returns a Provider that persists key pairs under dir/keys.
func New(dir string) *Provider {
	return &Provider{dir: filepath.Join(dir, "keys")}
}

type keystoreRecord struct {
	D []byte // private scalar; the public point is recomputed on load
}

// GenerateKeypair creates a new P256 key pair. If persist is true, the
// private key is written to <dir>/keys/<name>.key via gob encoding —
// the teacher's wallets.dat idiom, applied per key instead of to one
// monolithic file.
func (p *Provider) GenerateKeypair(name string, persist bool) (*PrivateKey, PublicKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	pk := &PrivateKey{key: *priv}
	pub := PublicToBytes(&priv.PublicKey)

	if persist {
		if err := p.save(name, pk); err != nil {
			return nil, nil, err
		}
	}
	return pk, pub, nil
}

// LoadKeypair reads a previously persisted key pair by name. It
// returns (nil, nil, false) rather than an error when the name is
// unknown, matching the `| None` contract of §4.2.
func (p *Provider) LoadKeypair(name string) (*PrivateKey, PublicKey, bool) {
	path := p.path(name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, false
	}

	var rec keystoreRecord
	dec := gob.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&rec); err != nil {
		return nil, nil, false
	}
	curve := elliptic.P256()
	priv := ecdsa.PrivateKey{PublicKey: ecdsa.PublicKey{Curve: curve}, D: new(big.Int).SetBytes(rec.D)}
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(rec.D)
	pk := &PrivateKey{key: priv}
	return pk, PublicToBytes(&priv.PublicKey), true
}

func (p *Provider) save(name string, pk *PrivateKey) error {
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(keystoreRecord{D: pk.key.D.Bytes()}); err != nil {
		return err
	}
	return os.WriteFile(p.path(name), buf.Bytes(), 0o600)
}

func (p *Provider) path(name string) string {
	return filepath.Join(p.dir, name+".key")
}

// PublicToBytes deterministically encodes a public key as X||Y, each
// zero-padded to the curve's byte size.
func PublicToBytes(pub *ecdsa.PublicKey) PublicKey {
	size := (pub.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 2*size)
	pub.X.FillBytes(out[:size])
	pub.Y.FillBytes(out[size:])
	return out
}

// AddressOf returns double_sha256(pubKey), the owner identifier of §3.
func AddressOf(pub PublicKey) hashutil.Hash {
	return hashutil.DoubleSum256(pub)
}

var errMalformedKey = errors.New("cryptoprovider: malformed public key or signature")

func bytesToPublicKey(raw PublicKey) (*ecdsa.PublicKey, error) {
	size := (elliptic.P256().Params().BitSize + 7) / 8
	if len(raw) != 2*size {
		return nil, errMalformedKey
	}
	x := new(big.Int).SetBytes(raw[:size])
	y := new(big.Int).SetBytes(raw[size:])
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// Sign signs message (the 32-byte outpoint hash, by convention — §4.2)
// with priv and returns a deterministic-length r||s signature.
func Sign(priv *PrivateKey, message []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, &priv.key, message)
	if err != nil {
		return nil, err
	}
	size := (priv.key.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}

// Verify checks signature over message under the raw public key
// pubBytes.
func Verify(pubBytes PublicKey, message, signature []byte) bool {
	pub, err := bytesToPublicKey(pubBytes)
	if err != nil {
		return false
	}
	size := (pub.Curve.Params().BitSize + 7) / 8
	if len(signature) != 2*size {
		return false
	}
	r := new(big.Int).SetBytes(signature[:size])
	s := new(big.Int).SetBytes(signature[size:])
	return ecdsa.Verify(pub, message, r, s)
}
