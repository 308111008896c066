package peers

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/systemshift/diffsync/internal/dag"
	"github.com/systemshift/diffsync/internal/diffsync"
)

// EnvelopeVersion is the wire version of Envelope.
const EnvelopeVersion = 1

// Envelope kinds.
const (
	KindSignal   = "signal"
	KindPresence = "presence"
)

// ErrBadEnvelope is returned when an envelope is unsigned, malformed or
// signed by someone other than its sender.
var ErrBadEnvelope = errors.New("bad envelope")

// Envelope is one signed message between peers. Presence envelopes carry no
// signal and only refresh the sender's activity.
type Envelope struct {
	V         int              `json:"v"`
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	From      string           `json:"from"`
	Timestamp string           `json:"timestamp"`
	Signal    *diffsync.Signal `json:"signal,omitempty"`
	Signature string           `json:"signature,omitempty"`
}

// newEnvelope creates an unsigned envelope from the given identity.
func newEnvelope(from, kind string, sig *diffsync.Signal, now time.Time) *Envelope {
	return &Envelope{
		V:         EnvelopeVersion,
		ID:        ulid.Make().String(),
		Kind:      kind,
		From:      from,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Signal:    sig,
	}
}

// signingPayload is the canonical JSON of every field except the signature.
func signingPayload(env *Envelope) ([]byte, error) {
	unsigned := *env
	unsigned.Signature = ""
	return dag.CanonicalJSON(unsigned)
}

// SignEnvelope returns a signed copy of env.
func SignEnvelope(env *Envelope, key ed25519.PrivateKey) (*Envelope, error) {
	payload, err := signingPayload(env)
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}
	signed := *env
	signed.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(key, payload))
	return &signed, nil
}

// VerifyEnvelope checks the signature against the sender DID.
func VerifyEnvelope(env *Envelope) error {
	if env.Signature == "" {
		return fmt.Errorf("%w: unsigned", ErrBadEnvelope)
	}
	if env.V != EnvelopeVersion {
		return fmt.Errorf("%w: version %d", ErrBadEnvelope, env.V)
	}
	switch env.Kind {
	case KindSignal:
		if env.Signal == nil {
			return fmt.Errorf("%w: signal envelope without signal", ErrBadEnvelope)
		}
	case KindPresence:
	default:
		return fmt.Errorf("%w: kind %q", ErrBadEnvelope, env.Kind)
	}

	pub, err := dag.DecodeDIDKey(env.From)
	if err != nil {
		return fmt.Errorf("%w: sender: %v", ErrBadEnvelope, err)
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("%w: decode signature: %v", ErrBadEnvelope, err)
	}
	payload, err := signingPayload(env)
	if err != nil {
		return fmt.Errorf("signing payload: %w", err)
	}
	if !ed25519.Verify(pub, payload, sig) {
		return fmt.Errorf("%w: signature mismatch", ErrBadEnvelope)
	}
	return nil
}
