package transport

import (
	"crypto/cipher"
	"math"
	"time"
)

// direction distinguishes read (decrypt) and write (encrypt) key material.
type direction uint8

const (
	dirRead direction = iota
	dirWrite
)

// Per spec §4.2: each AEAD profile has a confidentiality/integrity limit.
// An automatic write-key update is triggered once invocationsRemaining
// drops to or below updateWriteKeysAt.
const updateWriteKeysAt = 100

// initialLargestPacketLen is the packet body length (bytes) the standard's
// per-packet AEAD invocation limits are stated against; packets larger than
// this scale down invocationsRemaining by extra bits. See spec §4.2.
const initialLargestPacketLen = 2048

// cryptoDxState is one direction's (read or write) key material for one
// epoch/key-update generation. See spec §3 "CryptoDxState".
type cryptoDxState struct {
	profile   aeadProfile
	dir       direction
	epoch     uint8
	keyPhase  bool // low bit of the epoch, carried on the wire for Application packets
	secret    []byte
	aead      cipher.AEAD
	hp        *hpKey
	iv        []byte
	largestPacketLen int

	// usedPNStart/usedPNEnd bound the packet numbers sent or received under
	// this key state: [usedPNStart, usedPNEnd).
	usedPNStart uint64
	usedPNEnd   uint64
	minPN       uint64

	invocationsRemaining uint64
}

func newCryptoDxState(dir direction, epoch uint8, secret []byte, minPN uint64) *cryptoDxState {
	dk := deriveDxKeys(secret)
	return &cryptoDxState{
		profile:              aeadAES128GCM,
		dir:                  dir,
		epoch:                epoch,
		keyPhase:             epoch >= 3 && epoch%2 == 0,
		secret:               secret,
		aead:                 dk.aead,
		hp:                   dk.hp,
		iv:                   dk.iv,
		largestPacketLen:     initialLargestPacketLen,
		minPN:                minPN,
		usedPNStart:          minPN,
		usedPNEnd:            minPN,
		invocationsRemaining: aeadAES128GCM.confidentialityLimit(),
	}
}

// nextPN returns the next packet number this write state will assign, and
// advances usedPNEnd. Only valid for write states.
func (s *cryptoDxState) nextPN() uint64 {
	pn := s.usedPNEnd
	s.usedPNEnd++
	return pn
}

// recordPN extends usedPNEnd to cover pn, used on the read side where
// packet numbers are not assigned sequentially by us.
func (s *cryptoDxState) recordPN(pn uint64) {
	if pn >= s.usedPNEnd {
		s.usedPNEnd = pn + 1
	}
}

// consumeInvocation decrements invocationsRemaining for a packet of the
// given body length, scaling the decrement per spec §4.2 for oversized
// packets. Returns KeysExhausted if the budget would go negative.
func (s *cryptoDxState) consumeInvocation(bodyLen int) error {
	cost := uint64(1)
	if bodyLen > s.largestPacketLen && s.largestPacketLen > 0 {
		extraBits := math.Ceil(math.Log2(float64(bodyLen) / float64(s.largestPacketLen)))
		if extraBits > 0 {
			cost = uint64(1) << uint(extraBits)
		}
	}
	if s.invocationsRemaining < cost {
		return newError(KeysExhausted, "aead invocation limit reached")
	}
	s.invocationsRemaining -= cost
	return nil
}

// needsUpdate reports whether this write state should trigger an automatic
// key update because its invocation budget is running low.
func (s *cryptoDxState) needsUpdate() bool {
	return s.dir == dirWrite && s.invocationsRemaining <= updateWriteKeysAt
}

// next derives the next key-update generation from this state.
func (s *cryptoDxState) next() *cryptoDxState {
	secret := nextGenerationSecret(s.secret)
	n := newCryptoDxState(s.dir, s.epoch+1, secret, s.usedPNEnd)
	n.keyPhase = !s.keyPhase
	return n
}

// cryptoStates holds all per-epoch key material for a connection: the
// Initial pair (re-derivable on compatible version upgrade), the optional
// Handshake pair, the optional 0-RTT state, and the three Application
// states (write, read-current, read-next) described in spec §3.
type cryptoStates struct {
	initialRead  *cryptoDxState
	initialWrite *cryptoDxState

	handshakeRead  *cryptoDxState
	handshakeWrite *cryptoDxState

	appWrite     *cryptoDxState
	appRead      *cryptoDxState
	appReadNext  *cryptoDxState
	readUpdateTime time.Time // zero means no rotation pending
}

// installInitial derives Initial secrets for both directions from dcid.
// isClient selects which derived secret (client-in/server-in) is ours.
func (c *cryptoStates) installInitial(dcid []byte, version uint32, isClient bool) {
	var ia initialAEAD
	ia.init(dcid, version)
	if isClient {
		c.initialWrite = dxFromKeys(dirWrite, 0, ia.client)
		c.initialRead = dxFromKeys(dirRead, 0, ia.server)
	} else {
		c.initialWrite = dxFromKeys(dirWrite, 0, ia.server)
		c.initialRead = dxFromKeys(dirRead, 0, ia.client)
	}
}

func dxFromKeys(dir direction, epoch uint8, dk dxKeys) *cryptoDxState {
	return &cryptoDxState{
		profile:              aeadAES128GCM,
		dir:                  dir,
		epoch:                epoch,
		secret:               dk.secret,
		aead:                 dk.aead,
		hp:                   dk.hp,
		iv:                   dk.iv,
		largestPacketLen:     initialLargestPacketLen,
		invocationsRemaining: aeadAES128GCM.confidentialityLimit(),
	}
}

// installHandshakeWrite and installHandshakeRead install Handshake-epoch
// keys as the TLS agent exports each direction's secret; the two events
// normally arrive separately, not as a pair.
func (c *cryptoStates) installHandshakeWrite(secret []byte, profile aeadProfile) {
	c.handshakeWrite = newCryptoDxStateProfile(dirWrite, 2, secret, profile)
}

func (c *cryptoStates) installHandshakeRead(secret []byte, profile aeadProfile) {
	c.handshakeRead = newCryptoDxStateProfile(dirRead, 2, secret, profile)
}

// installAppWrite installs the Application write keys (may arrive before read, on the server).
func (c *cryptoStates) installAppWrite(secret []byte, profile aeadProfile) {
	c.appWrite = newCryptoDxStateProfile(dirWrite, 3, secret, profile)
}

// installAppRead installs the Application read keys and pre-derives the
// next generation, per spec §4.2.
func (c *cryptoStates) installAppRead(secret []byte, profile aeadProfile) {
	c.appRead = newCryptoDxStateProfile(dirRead, 3, secret, profile)
	c.appReadNext = c.appRead.next()
}

func newCryptoDxStateProfile(dir direction, epoch uint8, secret []byte, profile aeadProfile) *cryptoDxState {
	s := newCryptoDxState(dir, epoch, secret, 0)
	if profile != aeadAES128GCM {
		s.profile = profile
		key := hkdfExpandLabel(secret, labelKey, profile.keyLen())
		iv := hkdfExpandLabel(secret, labelIV, aeadIVLen)
		hp := hkdfExpandLabel(secret, labelHP, profile.keyLen())
		aead, err := newAEAD(profile, key)
		if err != nil {
			panic(err)
		}
		hk, err := newHPKey(profile, hp)
		if err != nil {
			panic(err)
		}
		s.aead = aead
		s.hp = hk
		s.iv = iv
		s.invocationsRemaining = profile.confidentialityLimit()
	}
	return s
}

// initiateKeyUpdate starts a local key update: it is only legal once the
// connection is Confirmed and no rotation is currently pending (spec §4.2,
// "Key update").
func (c *cryptoStates) initiateKeyUpdate() error {
	if !c.readUpdateTime.IsZero() {
		return newError(KeyUpdateBlocked, "key update already pending")
	}
	if c.appWrite == nil {
		return newError(InternalError, "application keys not installed")
	}
	c.appWrite = c.appWrite.next()
	return nil
}

// onKeyPhaseMismatch is called when an inbound Application packet decrypts
// successfully under appReadNext (i.e., carries a key phase different from
// appRead's). It tentatively installs the next generation and arms the
// rotation timer, to be completed by completeKeyUpdate once readUpdateTime
// has passed. Returns PacketNumberOverlap if the pre-update key's used
// range has not yet been fully superseded (spec §4.2).
func (c *cryptoStates) onKeyPhaseMismatch(now time.Time, pto time.Duration) error {
	if c.appRead.usedPNEnd > c.appReadNext.usedPNStart && c.appReadNext.usedPNStart != 0 {
		return newError(KeyUpdateError, "packet number overlap across key update")
	}
	if c.readUpdateTime.IsZero() {
		c.readUpdateTime = now.Add(pto)
	}
	return nil
}

// maybeCompleteKeyUpdate swaps appRead/appReadNext once readUpdateTime has
// elapsed, and pre-derives a fresh appReadNext.
func (c *cryptoStates) maybeCompleteKeyUpdate(now time.Time) {
	if c.readUpdateTime.IsZero() || now.Before(c.readUpdateTime) {
		return
	}
	c.appRead, c.appReadNext = c.appReadNext, c.appRead.next()
	c.readUpdateTime = time.Time{}
}

// keyUpdatePending reports whether a key-update rotation is currently armed.
func (c *cryptoStates) keyUpdatePending() bool {
	return !c.readUpdateTime.IsZero()
}

// dropInitial discards Initial-epoch key state.
func (c *cryptoStates) dropInitial() {
	c.initialRead = nil
	c.initialWrite = nil
}

// dropHandshake discards Handshake-epoch key state.
func (c *cryptoStates) dropHandshake() {
	c.handshakeRead = nil
	c.handshakeWrite = nil
}
