package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrChallengeNotFound is returned when no pending OTP challenge exists
// for a flow.
var ErrChallengeNotFound = errors.New("otp challenge not found")

// ChallengeStore is the ephemeral tier: the OTP markers of each pending
// login flow, stored as a single record per flow ID.
type ChallengeStore struct {
	store Store
	codec *Codec
}

// NewChallengeStore builds a ChallengeStore over the TTL store and the
// codec used to seal user identifiers.
func NewChallengeStore(store Store, codec *Codec) *ChallengeStore {
	return &ChallengeStore{store: store, codec: codec}
}

func challengeKey(flowID string) string {
	return fmt.Sprintf("otp:flow:%s", flowID)
}

// Put records a pending challenge for flowID. The user ID is sealed before
// it is stored. The store TTL tracks the challenge expiry with a minute of
// slack so the expiry check stays the source of truth.
func (s *ChallengeStore) Put(ctx context.Context, flowID, userID string, expiresAt time.Time) error {
	sealed, err := s.codec.Seal([]byte(userID))
	if err != nil {
		return fmt.Errorf("failed to seal user id: %w", err)
	}

	ch := &Challenge{
		Required:  true,
		ExpiresAt: expiresAt.UnixMilli(),
		UserID:    sealed,
	}
	return s.write(ctx, flowID, ch)
}

// Get returns the pending challenge for flowID. A store miss becomes
// ErrChallengeNotFound; store failures are reported as such.
func (s *ChallengeStore) Get(ctx context.Context, flowID string) (*Challenge, error) {
	raw, err := s.store.Get(ctx, challengeKey(flowID))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read challenge: %w", err)
	}

	var ch Challenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return nil, fmt.Errorf("corrupt challenge record: %w", err)
	}
	if !ch.Required {
		return nil, ErrChallengeNotFound
	}
	return &ch, nil
}

// UserID opens the sealed user identifier of a challenge.
func (s *ChallengeStore) UserID(ch *Challenge) (string, error) {
	plain, err := s.codec.Open(ch.UserID)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// ExtendExpiry moves the challenge expiry, keeping the rest of the record
// untouched. Used after a successful OTP resend.
func (s *ChallengeStore) ExtendExpiry(ctx context.Context, flowID string, expiresAt time.Time) error {
	ch, err := s.Get(ctx, flowID)
	if err != nil {
		return err
	}
	ch.ExpiresAt = expiresAt.UnixMilli()
	return s.write(ctx, flowID, ch)
}

// Clear drops the whole challenge record. A single key means the markers
// can never be cleared partially.
func (s *ChallengeStore) Clear(ctx context.Context, flowID string) error {
	return s.store.Delete(ctx, challengeKey(flowID))
}

func (s *ChallengeStore) write(ctx context.Context, flowID string, ch *Challenge) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	ttl := time.Until(time.UnixMilli(ch.ExpiresAt)) + time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.store.Set(ctx, challengeKey(flowID), string(payload), ttl); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}
