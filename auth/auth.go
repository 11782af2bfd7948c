// Package auth signs and verifies the payload a deployer attaches to its
// init handshake, using a blake2b keyed MAC shared by controller and nodes.
package auth

import (
	"bytes"
	"crypto/subtle"

	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/identity"
	"golang.org/x/crypto/blake2b"
)

// Signer produces a signature over data.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Verifier checks a signature produced by a matching Signer.
type Verifier interface {
	Verify(data, signature []byte) error
}

// KeyedMAC is both a Signer and a Verifier backed by a shared secret.
type KeyedMAC struct {
	key []byte
}

// NewKeyedMAC returns a KeyedMAC for key, which must be between 1 and 64
// bytes long.
func NewKeyedMAC(key []byte) (*KeyedMAC, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, errdefs.ParamInvalid("auth key must be 1 to %d bytes, got %d", blake2b.Size, len(key))
	}
	return &KeyedMAC{key: append([]byte(nil), key...)}, nil
}

// Sign implements Signer.
func (m *KeyedMAC) Sign(data []byte) ([]byte, error) {
	h, err := blake2b.New256(m.key)
	if err != nil {
		return nil, errdefs.Internal("init blake2b: %v", err)
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// Verify implements Verifier.
func (m *KeyedMAC) Verify(data, signature []byte) error {
	expected, err := m.Sign(data)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(expected, signature) != 1 {
		return errdefs.Failed("signature mismatch")
	}
	return nil
}

// NewPayload builds the signed payload for a request of type t. The data is
// the request type name followed by a random nonce.
func NewPayload(s Signer, t api.RequestType) (*api.AuthPayload, error) {
	data := []byte(t.String() + ":" + identity.NewID())
	sig, err := s.Sign(data)
	if err != nil {
		return nil, err
	}
	return &api.AuthPayload{Data: data, Signature: sig}, nil
}

// VerifyPayload checks that p was signed for a request of type t.
func VerifyPayload(v Verifier, t api.RequestType, p *api.AuthPayload) error {
	if p == nil {
		return errdefs.ParamInvalid("missing auth payload")
	}
	if !bytes.HasPrefix(p.Data, []byte(t.String()+":")) {
		return errdefs.Failed("auth payload was not issued for %s", t)
	}
	return v.Verify(p.Data, p.Signature)
}
