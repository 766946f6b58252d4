package noiseik

import (
	"crypto/hmac"
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

const protocolName = "Noise_IK_25519_ChaChaPoly_BLAKE2s"

func newBlake2s() hash.Hash {
	h, err := blake2s.New256(nil)
	if err != nil {
		// blake2s.New256 only fails for an over-long key; nil never does.
		panic(err)
	}
	return h
}

func blake2sSum(parts ...[]byte) [32]byte {
	h := newBlake2s()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// hmacHash is the HMAC-BLAKE2s primitive Noise's HKDF is built from.
func hmacHash(key, data []byte) []byte {
	mac := hmac.New(newBlake2s, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// hkdf2 is Noise's HKDF restricted to two output blocks (section 4.3 of the
// Noise spec): HMAC-Extract then two rounds of HMAC-Expand.
func hkdf2(chainingKey, inputKeyMaterial []byte) (out1, out2 [32]byte) {
	tempKey := hmacHash(chainingKey, inputKeyMaterial)
	o1 := hmacHash(tempKey, []byte{0x01})
	o2 := hmacHash(tempKey, append(append([]byte{}, o1...), 0x02))
	copy(out1[:], o1)
	copy(out2[:], o2)
	return out1, out2
}

func nonceFromCounter(counter uint64) []byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce[:]
}

// symmetricState is Noise's SymmetricState object: a running transcript
// hash `h`, a chaining key `ck`, and once a DH has been mixed in, an AEAD
// key used to encrypt the rest of the handshake.
type symmetricState struct {
	h      [32]byte
	ck     [32]byte
	hasKey bool
	key    [32]byte
	nonce  uint64
}

func newSymmetricState() *symmetricState {
	h := blake2sSum([]byte(protocolName))
	return &symmetricState{h: h, ck: h}
}

func (s *symmetricState) mixHash(data []byte) {
	s.h = blake2sSum(s.h[:], data)
}

func (s *symmetricState) mixKey(ikm []byte) {
	ck, k := hkdf2(s.ck[:], ikm)
	s.ck = ck
	s.key = k
	s.hasKey = true
	s.nonce = 0
}

func (s *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(plaintext)
		return plaintext, nil
	}
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonceFromCounter(s.nonce), plaintext, s.h[:])
	s.nonce++
	s.mixHash(ciphertext)
	return ciphertext, nil
}

func (s *symmetricState) decryptAndHash(ciphertext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(ciphertext)
		return ciphertext, nil
	}
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonceFromCounter(s.nonce), ciphertext, s.h[:])
	if err != nil {
		return nil, ErrHandshakeDecryptFailed
	}
	s.nonce++
	s.mixHash(ciphertext)
	return plaintext, nil
}

// split derives the pair of transport keys once both DH mixes of the
// handshake have completed. Order is fixed: out1 is always "the first
// derived key", role assignment happens one level up.
func (s *symmetricState) split() (out1, out2 [32]byte) {
	return hkdf2(s.ck[:], nil)
}
