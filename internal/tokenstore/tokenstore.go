// Package tokenstore dedupes concurrent address-validation token lookups
// for the same client address, sitting in front of transport's stateless
// Retry/NEW_TOKEN collaborator boundary.
//
// A burst of Initials from one address (a client retransmitting before its
// first response arrives) would otherwise run the token AEAD open and the
// freshness check once per datagram; singleflight collapses those into one
// validation per in-flight address.
package tokenstore

import (
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/age-rs/quic-go/transport"
)

// Store wraps a transport.TokenProtector with singleflight-deduped
// validation, keyed by client address.
type Store struct {
	protector     *transport.TokenProtector
	tokenValidity time.Duration
	addressWindow time.Duration

	group singleflight.Group
}

// New returns a Store backed by the given sealing secret. tokenValidity
// bounds total token age; addressWindow is how long after issuance an
// address change is still tolerated (NAT rebinding).
func New(secret []byte, tokenValidity, addressWindow time.Duration) (*Store, error) {
	protector, err := transport.NewTokenProtector(secret)
	if err != nil {
		return nil, err
	}
	return &Store{
		protector:     protector,
		tokenValidity: tokenValidity,
		addressWindow: addressWindow,
	}, nil
}

// SealRetryToken issues a Retry token for odcid/retrySrcCID at addr.
func (s *Store) SealRetryToken(odcid, retrySrcCID []byte, addr string, now time.Time) ([]byte, error) {
	return s.protector.SealRetryToken(odcid, retrySrcCID, addr, now)
}

// SealAddressToken issues a NEW_TOKEN token for a future connection
// attempt from addr.
func (s *Store) SealAddressToken(addr string, now time.Time) ([]byte, error) {
	return s.protector.SealAddressToken(addr, now)
}

// Validate checks token against addr, deduping concurrent validations of
// the same (address, token) pair so a retransmitted Initial burst costs one
// AEAD open instead of one per datagram.
func (s *Store) Validate(token []byte, addr string, now time.Time) (transport.ValidatedToken, error) {
	key := addr + ":" + string(token)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.protector.ValidateToken(token, addr, now, s.tokenValidity, s.addressWindow)
	})
	if err != nil {
		return transport.ValidatedToken{}, err
	}
	return v.(transport.ValidatedToken), nil
}
