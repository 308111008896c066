package perspective

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/systemshift/diffsync/internal/dag"
)

// ErrBadSignature is returned by Verify when the proof does not match.
var ErrBadSignature = errors.New("link expression signature mismatch")

// signingPayload is the canonical JSON of every field except the proof.
func signingPayload(author string, data Triple, ts time.Time) ([]byte, error) {
	return dag.CanonicalJSON(map[string]interface{}{
		"author":    author,
		"data":      data,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	})
}

// Sign creates a link expression authored by id and stamped with ts.
func Sign(id *dag.Identity, data Triple, ts time.Time) (LinkExpression, error) {
	key, err := id.SigningKey()
	if err != nil {
		return LinkExpression{}, fmt.Errorf("get signing key: %w", err)
	}
	ts = ts.UTC()
	payload, err := signingPayload(id.DID, data, ts)
	if err != nil {
		return LinkExpression{}, fmt.Errorf("signing payload: %w", err)
	}
	return LinkExpression{
		Author:    id.DID,
		Data:      data,
		Timestamp: ts,
		Proof: ExpressionProof{
			Signature: hex.EncodeToString(ed25519.Sign(key, payload)),
			Key:       id.DID,
		},
	}, nil
}

// Verify checks the proof against the author DID.
func Verify(l LinkExpression) error {
	if l.Proof.Key != l.Author {
		return fmt.Errorf("proof key %q does not match author %q", l.Proof.Key, l.Author)
	}
	pub, err := dag.DecodeDIDKey(l.Author)
	if err != nil {
		return fmt.Errorf("decode author DID: %w", err)
	}
	sig, err := hex.DecodeString(l.Proof.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	payload, err := signingPayload(l.Author, l.Data, l.Timestamp)
	if err != nil {
		return fmt.Errorf("signing payload: %w", err)
	}
	if !ed25519.Verify(pub, payload, sig) {
		return ErrBadSignature
	}
	return nil
}
