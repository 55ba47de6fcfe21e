package tuf

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"

	"github.com/pkg/errors"
)

// Signer produces a signature over a payload's signed bytes, plus the key
// metadata to embed in a root/delegation key map. One concrete type per
// scheme, no shared base type.
type Signer interface {
	Sign(signedBytes []byte) (Signature, error)
	KeyMetadata() (Key, error)
}

// Ed25519Signer signs directly over the message with no pre-hashing.
type Ed25519Signer struct {
	Private ed25519.PrivateKey
}

func (s Ed25519Signer) KeyMetadata() (Key, error) {
	pub, ok := s.Private.Public().(ed25519.PublicKey)
	if !ok {
		return Key{}, errors.New("ed25519 signer: not a public key")
	}
	return Key{
		Type:   KeyTypeEd25519,
		Scheme: SchemeEd25519,
		Value:  KeyVal{Public: hex.EncodeToString(pub)},
	}, nil
}

func (s Ed25519Signer) Sign(signedBytes []byte) (Signature, error) {
	key, err := s.KeyMetadata()
	if err != nil {
		return Signature{}, err
	}
	id, err := key.ID()
	if err != nil {
		return Signature{}, err
	}
	sig := ed25519.Sign(s.Private, signedBytes)
	return Signature{KeyID: id, Sig: hex.EncodeToString(sig)}, nil
}

// RSASigner signs with RSASSA-PSS-SHA256, salt length equal to hash length.
type RSASigner struct {
	Private *rsa.PrivateKey
}

func (s RSASigner) KeyMetadata() (Key, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.Private.PublicKey)
	if err != nil {
		return Key{}, errors.Wrap(err, "marshaling rsa public key")
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return Key{
		Type:   KeyTypeRSA,
		Scheme: SchemeRSASSAPSSSHA256,
		Value:  KeyVal{Public: string(pemBytes)},
	}, nil
}

func (s RSASigner) Sign(signedBytes []byte) (Signature, error) {
	key, err := s.KeyMetadata()
	if err != nil {
		return Signature{}, err
	}
	id, err := key.ID()
	if err != nil {
		return Signature{}, err
	}
	digest := sha256.Sum256(signedBytes)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
	sig, err := rsa.SignPSS(rand.Reader, s.Private, crypto.SHA256, digest[:], opts)
	if err != nil {
		return Signature{}, errors.Wrap(err, "rsa-pss sign")
	}
	return Signature{KeyID: id, Sig: hex.EncodeToString(sig)}, nil
}

// ECDSASigner signs with ECDSA over P-256, hashing with SHA-256 and
// emitting a DER-encoded signature.
type ECDSASigner struct {
	Private *ecdsa.PrivateKey
}

func (s ECDSASigner) KeyMetadata() (Key, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.Private.PublicKey)
	if err != nil {
		return Key{}, errors.Wrap(err, "marshaling ecdsa public key")
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return Key{
		Type:   KeyTypeECDSA,
		Scheme: SchemeECDSASHA2NISTP256,
		Value:  KeyVal{Public: string(pemBytes)},
	}, nil
}

func (s ECDSASigner) Sign(signedBytes []byte) (Signature, error) {
	key, err := s.KeyMetadata()
	if err != nil {
		return Signature{}, err
	}
	id, err := key.ID()
	if err != nil {
		return Signature{}, err
	}
	digest := sha256.Sum256(signedBytes)
	sig, err := ecdsa.SignASN1(rand.Reader, s.Private, digest[:])
	if err != nil {
		return Signature{}, errors.Wrap(err, "ecdsa sign")
	}
	return Signature{KeyID: id, Sig: hex.EncodeToString(sig)}, nil
}
