package chain

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// genesisSender is the sentinel sender/signature value used only by the
// fixed genesis transaction, which moves value into existence rather
// than between two signing accounts.
const genesisSender = "GENESIS"

// GenHash returns the lowercase-hex SHA-256 digest of the transaction's
// canonical JSON encoding, including its signature field. This is used
// both as the transaction's id and as a Merkle tree leaf.
func (t Transaction) GenHash() TxId {
	b, err := json.Marshal(t)
	if err != nil {
		// Transaction only contains strings; marshaling cannot fail.
		panic(err)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Amount parses the "SEND $<amount>" prefix of a transaction's message
// and returns the transferred quantity. The amount is the substring
// between '$' and the following space (or end of string); it must
// parse as a non-negative base-10 integer.
func (t Transaction) Amount() (uint64, error) {
	const prefix = "SEND $"
	if !strings.HasPrefix(t.Message, prefix) {
		return 0, errors.Errorf("transaction message %q does not start with %q", t.Message, prefix)
	}
	rest := t.Message[len(prefix):]
	if end := strings.IndexByte(rest, ' '); end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		return 0, errors.Errorf("transaction message %q carries no amount", t.Message)
	}
	amount, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "transaction message %q carries an invalid amount", t.Message)
	}
	return amount, nil
}

// SigningPayload returns the exact bytes a sender signs and a
// verifier hashes: the JSON array ["<sender>","<receiver>","<message>"].
func SigningPayload(sender, receiver UserId, message string) []byte {
	payload, err := json.Marshal([]string{sender, receiver, message})
	if err != nil {
		// A []string of valid UTF-8 always marshals.
		panic(err)
	}
	return payload
}

// VerifySig reports whether the transaction's signature is a valid
// PKCS#1 v1.5 RSA signature, over the SHA-256 hash of SigningPayload,
// verifiable by the sender's own public key. The genesis transaction,
// whose sender and signature are both the literal "GENESIS", is
// always valid.
func (t Transaction) VerifySig() bool {
	if t.Sender == genesisSender && t.Sig == genesisSender {
		return true
	}

	pub, err := parsePublicKey(t.Sender)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(t.Sig)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(SigningPayload(t.Sender, t.Receiver, t.Message))
	err = rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig)
	return err == nil
}

// parsePublicKey decodes a UserId as a base64-encoded PKCS#1 DER RSA
// public key.
//
// We diverge here from the reference client, which PEM-wraps the key
// before handing it to its crypto library; Go's x509 package parses
// raw PKCS#1 DER directly, so the PEM round-trip is unnecessary.
func parsePublicKey(userID UserId) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(userID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid user id encoding")
	}
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "invalid user id public key")
	}
	return pub, nil
}
