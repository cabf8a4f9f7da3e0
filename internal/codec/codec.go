// Package codec encrypts representatives for storage. A blob is
// base64(fernet(int32 count ++ int32 dim ++ float32[count*dim])).
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

var (
	// ErrDecrypt means the token was not produced by any configured key
	// or has been tampered with.
	ErrDecrypt = errors.New("decryption failed")
	// ErrShapeMismatch means the declared (count, dim) disagrees with the data.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrMalformed means the blob is not valid base64 or is truncated.
	ErrMalformed = errors.New("malformed blob")
	// ErrNoKey is returned by New when no primary key is given.
	ErrNoKey = errors.New("no encryption key configured")
)

// CodecError reports a failure to encode or decode a stored blob. It
// signals storage integrity trouble and is never treated as "not found".
type CodecError struct {
	Op  string // "encode" or "decode"
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Codec holds the Fernet keys. The first key encrypts; all keys are
// tried on decrypt so old records survive a key rotation.
type Codec struct {
	keys []*fernet.Key
}

// New parses the primary key and any decrypt-only previous keys.
func New(primary string, previous ...string) (*Codec, error) {
	if primary == "" {
		return nil, ErrNoKey
	}
	k, err := fernet.DecodeKey(primary)
	if err != nil {
		return nil, fmt.Errorf("invalid primary key: %w", err)
	}
	keys := []*fernet.Key{k}
	for i, p := range previous {
		pk, err := fernet.DecodeKey(p)
		if err != nil {
			return nil, fmt.Errorf("invalid previous key %d: %w", i, err)
		}
		keys = append(keys, pk)
	}
	return &Codec{keys: keys}, nil
}

// GenerateKey returns a fresh base64url-encoded Fernet key.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", err
	}
	return k.Encode(), nil
}

// Encode validates, serializes and encrypts rep.
func (c *Codec) Encode(rep Representative) (string, error) {
	raw, err := rep.MarshalBinary()
	if err != nil {
		return "", &CodecError{Op: "encode", Err: err}
	}
	tok, err := fernet.EncryptAndSign(raw, c.keys[0])
	if err != nil {
		return "", &CodecError{Op: "encode", Err: err}
	}
	return base64.StdEncoding.EncodeToString(tok), nil
}

// Decode reverses Encode. Tokens never expire.
func (c *Codec) Decode(blob string) (Representative, error) {
	tok, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return Representative{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	raw := fernet.VerifyAndDecrypt(tok, -1, c.keys)
	if raw == nil {
		return Representative{}, &CodecError{Op: "decode", Err: ErrDecrypt}
	}
	rep, err := UnmarshalRepresentative(raw)
	if err != nil {
		return Representative{}, &CodecError{Op: "decode", Err: err}
	}
	return rep, nil
}
