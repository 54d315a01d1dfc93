package solana

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
)

// ---------------------------------------------------------------------------
// Wallet
// ---------------------------------------------------------------------------

// Wallet holds the signing keypair for trade execution.
// In dry-run mode no real key is needed and signatures are synthetic.
type Wallet struct {
	pubkey  Pubkey
	secret  []byte
	dryRun  bool
	sigSeq  atomic.Int64
}

// NewWallet decodes a base58 private key. The key is the 64-byte ed25519
// secret; the public key is the trailing 32 bytes.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	raw, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("wallet: decode private key: %w", err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("wallet: expected 64-byte keypair, got %d bytes", len(raw))
	}
	pub := base58.Encode(raw[32:])
	return &Wallet{
		pubkey: Pubkey(pub),
		secret: raw,
	}, nil
}

// NewDryRunWallet returns a wallet that produces synthetic signatures
// without holding a real key.
func NewDryRunWallet() *Wallet {
	return &Wallet{
		pubkey: Pubkey("DRYRUN1111111111111111111111111111111111111"),
		dryRun: true,
	}
}

// Pubkey returns the wallet's public key.
func (w *Wallet) Pubkey() Pubkey {
	return w.pubkey
}

// DryRun reports whether this wallet signs synthetically.
func (w *Wallet) DryRun() bool {
	return w.dryRun
}

// SignSynthetic produces a deterministic fake signature for dry-run trades.
func (w *Wallet) SignSynthetic(payload string) Signature {
	seq := w.sigSeq.Add(1)
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", payload, seq, time.Now().UnixNano())))
	return Signature("DRY" + hex.EncodeToString(h[:20]))
}
