package tuf

import (
	"bytes"

	cjson "github.com/docker/go/canonical/json"
	"github.com/pkg/errors"
)

// CanonicalJSON returns the canonical-JSON encoding of v, exported for
// repobuilder and other callers outside this package that need to produce
// or re-derive the exact bytes a signature is computed over.
func CanonicalJSON(v interface{}) ([]byte, error) {
	return canonicalJSON(v)
}

// canonicalJSON returns the canonical-JSON encoding of v: object members
// sorted by the unsigned byte-wise order of their UTF-8 keys, arrays in
// input order, minimal string escaping, no insignificant whitespace. This
// is the exact byte sequence every signature in this package is computed
// and verified over.
func canonicalJSON(v interface{}) ([]byte, error) {
	buf, err := cjson.MarshalCanonical(v)
	if err != nil {
		return nil, errors.Wrap(err, "canonical json encode")
	}
	return buf, nil
}

// decodeCanonical decodes data into v, then re-encodes v and requires the
// result to be byte-identical to data's canonical form. Key order and
// whitespace in data do not matter, since both sides are canonicalized
// before the comparison; what is rejected is input that does not survive
// the round trip through v, such as a member v has no field for.
func decodeCanonical(data []byte, v interface{}) error {
	if err := cjson.Unmarshal(data, v); err != nil {
		return DeserializationError{Msg: err.Error()}
	}
	reencoded, err := canonicalJSON(v)
	if err != nil {
		return DeserializationError{Msg: err.Error()}
	}
	canonicalInput, err := cjson.MarshalCanonical(json2any(data))
	if err != nil {
		return DeserializationError{Msg: err.Error()}
	}
	if !bytes.Equal(reencoded, canonicalInput) {
		return DeserializationError{Msg: "input does not round-trip to canonical form"}
	}
	return nil
}

// json2any decodes arbitrary JSON bytes into a generic value tree so it can
// be re-marshaled canonically for the round-trip comparison in
// decodeCanonical, independent of the target struct's field set.
func json2any(data []byte) interface{} {
	var v interface{}
	// cjson.Unmarshal already validated data is well-formed JSON above;
	// a second decode into interface{} cannot fail.
	_ = cjson.Unmarshal(data, &v)
	return v
}

// compareUTF8 returns sign(lex-compare(utf8(a), utf8(b))): the total order
// canonical JSON uses to sort object keys. Go string comparison is already
// byte-wise over the UTF-8 encoding, so this is a direct byte compare.
func compareUTF8(a, b string) int {
	return bytes.Compare([]byte(a), []byte(b))
}
