package tuf

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"

	"github.com/pkg/errors"
)

var errInvalidKeyType = errors.New("invalid key type")

// verifySignature is a total predicate: any unrecognized (type, scheme)
// pair, any malformed key or signature encoding, and any cryptographic
// library panic-worthy condition all collapse to false. It never raises,
// across all three supported TUF signing schemes.
func verifySignature(key Key, sig Signature, signedBytes []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	sigBytes, err := sig.decodeSig()
	if err != nil {
		return false
	}

	switch {
	case key.Type == KeyTypeEd25519 && key.Scheme == SchemeEd25519:
		return verifyEd25519(key, sigBytes, signedBytes)
	case key.Type == KeyTypeRSA && key.Scheme == SchemeRSASSAPSSSHA256:
		return verifyRSAPSS(key, sigBytes, signedBytes)
	case key.Type == KeyTypeECDSA && key.Scheme == SchemeECDSASHA2NISTP256:
		return verifyECDSAP256(key, sigBytes, signedBytes)
	default:
		return false
	}
}

func verifyEd25519(key Key, sig, signed []byte) bool {
	pub, err := hex.DecodeString(key.Value.Public)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), signed, sig)
}

func verifyRSAPSS(key Key, sig, signed []byte) bool {
	pub, err := parseRSAPublicKeyPEM(key.Value.Public)
	if err != nil {
		return false
	}
	if pub.N.BitLen() < 2048 {
		return false
	}
	digest := sha256.Sum256(signed)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, opts) == nil
}

func verifyECDSAP256(key Key, sig, signed []byte) bool {
	pub, err := parseECDSAPublicKeyPEM(key.Value.Public)
	if err != nil {
		return false
	}
	if pub.Curve != elliptic.P256() {
		return false
	}
	digest := sha256.Sum256(signed)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

func parseRSAPublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errInvalidKeyType
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing rsa public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errInvalidKeyType
	}
	return rsaPub, nil
}

func parseECDSAPublicKeyPEM(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errInvalidKeyType
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing ecdsa public key")
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errInvalidKeyType
	}
	return ecdsaPub, nil
}
