// Package repobuilder assembles a signed TUF repository from role
// definitions and signing keys, the write side of the tuf package's
// read-only client.
package repobuilder

import (
	"github.com/kolide/tuf/tuf"
)

// Signer is an alias of tuf.Signer, re-exported so builder callers can name
// the interface from this package; the three stock implementations below
// are likewise aliases of the client package's own signers.
type Signer = tuf.Signer

// Ed25519Signer, RSASigner, and ECDSASigner are re-exported so callers
// building a repository don't need to import the tuf package's signer
// types directly under a different name.
type (
	Ed25519Signer = tuf.Ed25519Signer
	RSASigner     = tuf.RSASigner
	ECDSASigner   = tuf.ECDSASigner
)
