package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// initialSalt is the version 1 Initial salt, RFC 9001 Section 5.2.
var initialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// initialSaltV2 is the version 2 Initial salt, RFC 9369 Section 3.3.
var initialSaltV2 = []byte{
	0x0d, 0xed, 0xe3, 0xde, 0xf7, 0x00, 0xa6, 0xdb,
	0x81, 0x93, 0x81, 0xbe, 0x6e, 0x26, 0x9d, 0xcb,
	0xf9, 0xbd, 0x2e, 0xd9,
}

const (
	aeadKeyLen   = 16 // AEAD_AES_128_GCM and AEAD_CHACHA20_POLY1305 both use 16/32-byte keys; AES128 keys are 16 bytes.
	aeadIVLen    = 12
	aeadTagLen   = 16
	hpSampleLen  = 16
	hpMaskLen    = 5
	maxHpKeyLen  = 32
	labelClient  = "client in"
	labelServer  = "server in"
	labelKeyUpd  = "quic ku"
	labelKey     = "quic key"
	labelIV      = "quic iv"
	labelHP      = "quic hp"
	labelHpChaCha = "quic hp"
)

// hkdfExtract implements HKDF-Extract (RFC 5869) over SHA-256, used to
// derive the Initial secrets from a connection ID and version salt.
func hkdfExtract(salt, ikm []byte) []byte {
	return hkdf.Extract(sha256.New, ikm, salt)
}

// hkdfExpandLabel implements the TLS 1.3 HKDF-Expand-Label construction
// (RFC 8446 Section 7.1) used throughout RFC 9001 key derivation.
func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	// struct { uint16 length; opaque label<7..255> = "tls13 " + label; opaque context<0..255> = ""; }
	hkdfLabel := make([]byte, 0, 2+1+6+len(label)+1)
	hkdfLabel = append(hkdfLabel, byte(length>>8), byte(length))
	fullLabel := "tls13 " + label
	hkdfLabel = append(hkdfLabel, byte(len(fullLabel)))
	hkdfLabel = append(hkdfLabel, fullLabel...)
	hkdfLabel = append(hkdfLabel, 0) // empty context
	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, hkdfLabel)
	if _, err := r.Read(out); err != nil {
		panic("hkdf expand: " + err.Error())
	}
	return out
}

// aeadProfile identifies the negotiated AEAD/HP suite. The connection
// engine is told which suite to use by the TLS agent's negotiated cipher
// suite (crypto/tls.ConnectionState.CipherSuite).
type aeadProfile uint8

const (
	aeadAES128GCM aeadProfile = iota
	aeadAES256GCM
	aeadChaCha20Poly1305
)

// confidentialityLimit and integrityLimit are the per-profile AEAD
// invocation limits from RFC 9001 Section 6.6, expressed as the initial
// value of invocationsRemaining (the tighter of the two).
func (p aeadProfile) confidentialityLimit() uint64 {
	switch p {
	case aeadChaCha20Poly1305:
		return 1 << 36
	default: // AES-GCM
		return 1 << 23 // conservative vs. the RFC's 2^23 encryption limit for AES-GCM
	}
}

func (p aeadProfile) keyLen() int {
	if p == aeadAES256GCM {
		return 32
	}
	return 16
}

// newAEAD builds a cipher.AEAD for the given profile and 16/32-byte key.
func newAEAD(p aeadProfile, key []byte) (cipher.AEAD, error) {
	if p == aeadChaCha20Poly1305 {
		return chacha20poly1305.New(key)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// hpKey is a header-protection key: given a 16-byte sample, it produces a
// 5-byte mask applied to the packet's first byte (low bits) and packet
// number field.
type hpKey struct {
	profile aeadProfile
	block   cipher.Block // AES case
	chaKey  []byte       // ChaCha20 case
}

func newHPKey(p aeadProfile, key []byte) (*hpKey, error) {
	if p == aeadChaCha20Poly1305 {
		k := append([]byte(nil), key...)
		return &hpKey{profile: p, chaKey: k}, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &hpKey{profile: p, block: block}, nil
}

// mask returns the 5-byte header-protection mask for the given sample.
func (k *hpKey) mask(sample []byte) [hpMaskLen]byte {
	var out [hpMaskLen]byte
	if k.profile == aeadChaCha20Poly1305 {
		// RFC 9001 Section 5.4.4: the sample is a 12-byte counter+nonce.
		counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
		nonce := sample[4:16]
		cipherStream, err := chacha20.NewUnauthenticatedCipher(k.chaKey, nonce)
		if err != nil {
			panic(err)
		}
		cipherStream.SetCounter(counter)
		var zeros [hpMaskLen]byte
		cipherStream.XORKeyStream(out[:], zeros[:])
		return out
	}
	var block [16]byte
	k.block.Encrypt(block[:], sample)
	copy(out[:], block[:hpMaskLen])
	return out
}

// initialAEAD derives the Initial packet protection keys for both
// endpoints from the client-chosen destination connection ID, per RFC
// 9001 Section 5.2.
type initialAEAD struct {
	client dxKeys
	server dxKeys
}

// dxKeys bundles the AEAD + header-protection state for one direction.
type dxKeys struct {
	secret []byte
	aead   cipher.AEAD
	hp     *hpKey
	iv     []byte
}

func deriveDxKeys(secret []byte) dxKeys {
	key := hkdfExpandLabel(secret, labelKey, aeadKeyLen)
	iv := hkdfExpandLabel(secret, labelIV, aeadIVLen)
	hp := hkdfExpandLabel(secret, labelHP, aeadKeyLen)
	aead, err := newAEAD(aeadAES128GCM, key)
	if err != nil {
		panic(err)
	}
	hk, err := newHPKey(aeadAES128GCM, hp)
	if err != nil {
		panic(err)
	}
	return dxKeys{secret: secret, aead: aead, hp: hk, iv: iv}
}

func (s *initialAEAD) init(dcid []byte, version uint32) {
	salt := initialSaltV1
	if version == versionDraft29OrV2 {
		salt = initialSaltV2
	}
	initialSecret := hkdfExtract(salt, dcid)
	clientSecret := hkdfExpandLabel(initialSecret, labelClient, sha256.Size)
	serverSecret := hkdfExpandLabel(initialSecret, labelServer, sha256.Size)
	s.client = deriveDxKeys(clientSecret)
	s.server = deriveDxKeys(serverSecret)
}

// nextGenerationSecret derives the next key-update generation's traffic
// secret from the current one, per RFC 9001 Section 6 ("quic ku" label).
func nextGenerationSecret(secret []byte) []byte {
	return hkdfExpandLabel(secret, labelKeyUpd, sha256.Size)
}

// nonce builds the per-packet AEAD nonce: iv XOR packet number (big-endian,
// left-padded), per RFC 9001 Section 5.3.
func buildNonce(iv []byte, pn uint64) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(pn >> (8 * i))
	}
	return nonce
}
