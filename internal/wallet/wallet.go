// Package wallet wraps the sniper's signing key.
package wallet

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Wallet holds the private key that pays for and signs every transaction.
type Wallet struct {
	key solana.PrivateKey
}

// FromBase58 parses a base58-encoded private key.
func FromBase58(encoded string) (*Wallet, error) {
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Wallet{key: key}, nil
}

// FromKeygenFile loads a solana-keygen JSON key file.
func FromKeygenFile(path string) (*Wallet, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load key file %s: %w", path, err)
	}
	return &Wallet{key: key}, nil
}

func (w *Wallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

// Signer returns the key lookup used by transaction signing.
func (w *Wallet) Signer() func(key solana.PublicKey) *solana.PrivateKey {
	return func(key solana.PublicKey) *solana.PrivateKey {
		if w.key.PublicKey().Equals(key) {
			return &w.key
		}
		return nil
	}
}
