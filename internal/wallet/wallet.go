// Package wallet holds the private key material the consensus engine
// never sees. A Wallet signs and verifies transactions on behalf of a
// single account; the engine only ever receives the resulting
// chain.Transaction, never the key itself.
package wallet

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"

	"github.com/pkg/errors"

	"github.com/cs3235/nakamoto-node/internal/chain"
)

// Wallet is a single account's RSA keypair, plus the operations a
// client process performs with it: reporting the account's public
// identity, and signing outgoing transactions.
type Wallet struct {
	private *rsa.PrivateKey
}

// New creates a Wallet from an existing RSA private key.
func New(private *rsa.PrivateKey) *Wallet {
	return &Wallet{private: private}
}

// Generate creates a Wallet backed by a freshly generated RSA-2048
// keypair.
func Generate() (*Wallet, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.Wrap(err, "generating wallet key")
	}
	return New(key), nil
}

// UserId returns this wallet's account identifier: the base64 DER
// encoding of its RSA public key, exactly as chain.Transaction.Sender
// and VerifySig expect.
func (w *Wallet) UserId() chain.UserId {
	der := x509.MarshalPKCS1PublicKey(&w.private.PublicKey)
	return base64.StdEncoding.EncodeToString(der)
}

// SignRequest builds and signs a transaction sending message from
// this wallet's account to receiver. The returned transaction
// verifies under chain.Transaction.VerifySig.
func (w *Wallet) SignRequest(receiver chain.UserId, message string) (chain.Transaction, error) {
	sender := w.UserId()
	digest := sha256.Sum256(chain.SigningPayload(sender, receiver, message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, w.private, crypto.SHA256, digest[:])
	if err != nil {
		return chain.Transaction{}, errors.Wrap(err, "signing transaction")
	}
	return chain.Transaction{
		Sender:   sender,
		Receiver: receiver,
		Message:  message,
		Sig:      base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// VerifyRequest reports whether tx carries a valid signature. It is a
// thin convenience wrapper so client code need not import the chain
// package directly just to check a signature before submitting it.
func VerifyRequest(tx chain.Transaction) bool {
	return tx.VerifySig()
}
