package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names carried by signed deliveries
const (
	HeaderSignature = "X-Jobqueue-Signature"
	HeaderTimestamp = "X-Jobqueue-Timestamp"
	HeaderDelivery  = "X-Jobqueue-Delivery"
)

// Signature authenticates one delivery.
// The signed message is "<unix timestamp>.<payload>".
type Signature struct {
	Value      string
	Timestamp  int64
	DeliveryID string
}

// Apply sets the signature headers on h
func (s Signature) Apply(h http.Header) {
	h.Set(HeaderSignature, s.Value)
	h.Set(HeaderTimestamp, strconv.FormatInt(s.Timestamp, 10))
	if s.DeliveryID != "" {
		h.Set(HeaderDelivery, s.DeliveryID)
	}
}

// Sign computes the HMAC-SHA256 signature of payload at t
func Sign(secret string, payload []byte, t time.Time, deliveryID string) (Signature, error) {
	if secret == "" {
		return Signature{}, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	ts := t.Unix()
	return Signature{
		Value:      digest(secret, ts, payload),
		Timestamp:  ts,
		DeliveryID: deliveryID,
	}, nil
}

// Verify checks the signature headers of a received delivery. A zero maxAge
// skips the timestamp window check.
func Verify(secret string, payload []byte, h http.Header, maxAge time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}

	sig := h.Get(HeaderSignature)
	if sig == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, HeaderSignature)
	}
	ts, err := strconv.ParseInt(h.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid %s header", ErrInvalidSignature, HeaderTimestamp)
	}

	if maxAge > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > maxAge {
			return fmt.Errorf("%w: timestamp too old: %s", ErrInvalidSignature, age)
		}
		if age < -time.Minute {
			return fmt.Errorf("%w: timestamp is in the future", ErrInvalidSignature)
		}
	}

	if !hmac.Equal([]byte(digest(secret, ts, payload)), []byte(sig)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return nil
}

func digest(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.", ts)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
