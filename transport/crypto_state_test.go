package transport

import (
	"testing"
	"time"
)

func TestNewCryptoDxStateKeyPhase(t *testing.T) {
	cases := []struct {
		epoch uint8
		want  bool
	}{
		{0, false}, // Initial
		{2, false}, // Handshake
		{3, false}, // first Application generation: phase 0, RFC 9001 Section 6
		{4, true},  // first key update: phase 1
		{5, false}, // second key update: phase 0 again
	}
	for _, c := range cases {
		s := newCryptoDxState(dirRead, c.epoch, make([]byte, 32), 0)
		if s.keyPhase != c.want {
			t.Errorf("epoch %d: keyPhase = %v, want %v", c.epoch, s.keyPhase, c.want)
		}
	}
}

func TestCryptoDxStateNextFlipsKeyPhase(t *testing.T) {
	s := newCryptoDxState(dirRead, 3, make([]byte, 32), 0)
	if s.keyPhase {
		t.Fatalf("epoch 3 should start at keyPhase=false")
	}
	n := s.next()
	if !n.keyPhase {
		t.Errorf("next generation keyPhase = false, want true")
	}
	if n.epoch != s.epoch+1 {
		t.Errorf("next epoch = %d, want %d", n.epoch, s.epoch+1)
	}
	if n.minPN != s.usedPNEnd {
		t.Errorf("next minPN = %d, want %d", n.minPN, s.usedPNEnd)
	}
}

func TestCryptoDxStateNeedsUpdate(t *testing.T) {
	w := newCryptoDxState(dirWrite, 3, make([]byte, 32), 0)
	if w.needsUpdate() {
		t.Fatalf("fresh write state should not need an update")
	}
	w.invocationsRemaining = updateWriteKeysAt
	if !w.needsUpdate() {
		t.Errorf("write state at the threshold should need an update")
	}

	r := newCryptoDxState(dirRead, 3, make([]byte, 32), 0)
	r.invocationsRemaining = 0
	if r.needsUpdate() {
		t.Errorf("read states never trigger their own update")
	}
}

func TestCryptoStatesInitiateKeyUpdate(t *testing.T) {
	var c cryptoStates
	if err := c.initiateKeyUpdate(); err == nil {
		t.Fatalf("initiateKeyUpdate with no write keys installed should fail")
	}

	c.installAppWrite(make([]byte, 32), aeadAES128GCM)
	before := c.appWrite
	if err := c.initiateKeyUpdate(); err != nil {
		t.Fatalf("initiateKeyUpdate: %v", err)
	}
	if c.appWrite == before {
		t.Errorf("initiateKeyUpdate did not install a new generation")
	}
	if c.appWrite.epoch != before.epoch+1 {
		t.Errorf("new write epoch = %d, want %d", c.appWrite.epoch, before.epoch+1)
	}
}

func TestCryptoStatesOnKeyPhaseMismatchAndComplete(t *testing.T) {
	var c cryptoStates
	c.installAppRead(make([]byte, 32), aeadAES128GCM)
	if c.appReadNext == nil {
		t.Fatalf("installAppRead did not pre-derive appReadNext")
	}
	if c.keyUpdatePending() {
		t.Fatalf("no update should be pending yet")
	}

	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	pto := 50 * time.Millisecond
	if err := c.onKeyPhaseMismatch(now, pto); err != nil {
		t.Fatalf("onKeyPhaseMismatch: %v", err)
	}
	if !c.keyUpdatePending() {
		t.Fatalf("onKeyPhaseMismatch should arm the rotation timer")
	}

	// Calling again before completion must not push readUpdateTime further out.
	armed := c.readUpdateTime
	if err := c.onKeyPhaseMismatch(now.Add(time.Millisecond), pto); err != nil {
		t.Fatalf("onKeyPhaseMismatch (second call): %v", err)
	}
	if c.readUpdateTime != armed {
		t.Errorf("second mismatch before completion re-armed the timer")
	}

	nextGen := c.appReadNext
	c.maybeCompleteKeyUpdate(now) // too early, before readUpdateTime
	if c.appRead == nextGen {
		t.Fatalf("maybeCompleteKeyUpdate completed before readUpdateTime elapsed")
	}

	c.maybeCompleteKeyUpdate(armed.Add(time.Nanosecond))
	if c.appRead != nextGen {
		t.Errorf("maybeCompleteKeyUpdate did not swap in appReadNext")
	}
	if c.keyUpdatePending() {
		t.Errorf("rotation should no longer be pending after completion")
	}
	if c.appReadNext == nil || c.appReadNext == nextGen {
		t.Errorf("maybeCompleteKeyUpdate did not pre-derive a fresh appReadNext")
	}
}

func TestCryptoStatesOnKeyPhaseMismatchOverlap(t *testing.T) {
	var c cryptoStates
	c.installAppRead(make([]byte, 32), aeadAES128GCM)
	// Simulate packets already received under appRead at or beyond where
	// appReadNext's range begins: an overlap the peer must not produce.
	c.appRead.usedPNEnd = 10
	c.appReadNext.usedPNStart = 5

	err := c.onKeyPhaseMismatch(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
	if err == nil {
		t.Fatalf("expected a packet number overlap error")
	}
}
