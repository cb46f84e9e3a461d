// Package crypt implements OCB2-AES128, the authenticated encryption used
// for Mumble voice datagrams, together with the sliding replay window and
// the good/late/lost statistics.
//
// Note that OCB is covered by patents, however a license has been granted
// for use in "most" software. See:
// http://web.cs.ucdavis.edu/~rogaway/ocb/license.htm
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/zhamlin/speakez/internal/server"
)

const (
	// MaxPacketSize is the largest encrypted voice packet. Larger packets
	// can be produced with enough voice data in one frame, but the remote
	// end may just drop them.
	MaxPacketSize = 1024
	// KeySize is the AES-128 key size in bytes.
	KeySize = 16
	// BlockSize is the AES block size in bytes.
	BlockSize = 16
	// HeaderSize is the outer packet header: the low nonce byte plus the
	// high 24 bits of the tag.
	HeaderSize = 4
)

// Decrypt failure taxonomy.
var (
	// ErrEof means the packet is too short to be decrypted.
	ErrEof = errors.New("crypt: packet too short")
	// ErrRepeat means the packet was already decrypted previously.
	ErrRepeat = errors.New("crypt: repeated packet")
	// ErrLate means the packet was far too late.
	ErrLate = errors.New("crypt: packet late by more than 30")
	// ErrMac means the tag did not match. This may also indicate a
	// substantial de-sync of the decryption nonce.
	ErrMac = errors.New("crypt: tag mismatch")
)

// u128 is a 128-bit word as two uint64 halves. The numeric value matches
// the little-endian interpretation of the wire nonce bytes; inside the OCB
// rounds blocks are big-endian.
type u128 struct {
	hi, lo uint64
}

func (v u128) xor(o u128) u128 { return u128{v.hi ^ o.hi, v.lo ^ o.lo} }

// add wraps around 2^128. d may be negative.
func (v u128) add(d int64) u128 {
	lo, carry := bits.Add64(v.lo, uint64(d), 0)
	ext := uint64(d >> 63) // sign extension: 0 or all-ones
	hi, _ := bits.Add64(v.hi, ext, carry)
	return u128{hi, lo}
}

// swap reverses the byte order of the whole word.
func (v u128) swap() u128 {
	return u128{bits.ReverseBytes64(v.lo), bits.ReverseBytes64(v.hi)}
}

func u128FromBE(b []byte) u128 {
	return u128{binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16])}
}

func (v u128) putBE(b []byte) {
	binary.BigEndian.PutUint64(b[0:8], v.hi)
	binary.BigEndian.PutUint64(b[8:16], v.lo)
}

func u128FromLE(b []byte) u128 {
	return u128{binary.LittleEndian.Uint64(b[8:16]), binary.LittleEndian.Uint64(b[0:8])}
}

func (v u128) putLE(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], v.lo)
	binary.LittleEndian.PutUint64(b[8:16], v.hi)
}

// s2 is the OCB2 doubling step: rotate left by one and fold the carry back
// in with the 0x86 constant.
func s2(v u128) u128 {
	carry := v.hi >> 63
	out := u128{v.hi<<1 | v.lo>>63, v.lo<<1 | carry}
	out.lo ^= carry * 0x86
	return out
}

// CryptState is the per-session OCB2-AES128 context. The encrypt nonce
// starts at 0 and the decrypt nonce at 1<<127, so two fresh contexts with
// the same key form a working pair when each side's encrypt counter is the
// other's decrypt counter.
type CryptState struct {
	aes aes128
	key [KeySize]byte

	encryptNonce   u128
	decryptNonce   u128
	decryptHistory [256]byte

	good uint32
	late uint32
	lost uint32
}

type aes128 struct {
	block cipher.Block
}

func (a aes128) encrypt(v u128) u128 {
	var buf [BlockSize]byte
	v.putBE(buf[:])
	a.block.Encrypt(buf[:], buf[:])
	return u128FromBE(buf[:])
}

func (a aes128) decrypt(v u128) u128 {
	var buf [BlockSize]byte
	v.putBE(buf[:])
	a.block.Decrypt(buf[:], buf[:])
	return u128FromBE(buf[:])
}

func newAES(key [KeySize]byte) aes128 {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		// aes.NewCipher only fails on a bad key length.
		panic(err)
	}
	return aes128{block: block}
}

// Generate creates a CryptState with a random key and initial nonces.
func Generate() (*CryptState, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	return NewFromKey(key), nil
}

// NewFromKey creates a CryptState with the given key and initial nonces.
func NewFromKey(key [KeySize]byte) *CryptState {
	return &CryptState{
		aes:          newAES(key),
		key:          key,
		encryptNonce: u128{},
		decryptNonce: u128{hi: 1 << 63},
	}
}

// NewFrom creates a CryptState from existing key material. The nonces are
// 16 little-endian bytes, as carried in CryptSetup.
func NewFrom(key, encryptNonce, decryptNonce [KeySize]byte) *CryptState {
	return &CryptState{
		aes:          newAES(key),
		key:          key,
		encryptNonce: u128FromLE(encryptNonce[:]),
		decryptNonce: u128FromLE(decryptNonce[:]),
	}
}

// Good returns the number of packets decrypted without issue.
func (c *CryptState) Good() uint32 { return c.good }

// Late returns the number of packets that decrypted but arrived late.
func (c *CryptState) Late() uint32 { return c.late }

// Lost returns the number of packets presumed lost.
func (c *CryptState) Lost() uint32 { return c.lost }

// Key returns the shared, private key.
func (c *CryptState) Key() [KeySize]byte { return c.key }

// EncryptNonce returns the encrypt counter as little-endian bytes.
func (c *CryptState) EncryptNonce() [BlockSize]byte {
	var b [BlockSize]byte
	c.encryptNonce.putLE(b[:])
	return b
}

// DecryptNonce returns the decrypt counter as little-endian bytes.
func (c *CryptState) DecryptNonce() [BlockSize]byte {
	var b [BlockSize]byte
	c.decryptNonce.putLE(b[:])
	return b
}

// SetDecryptNonce replaces the decrypt counter (crypt resync).
func (c *CryptState) SetDecryptNonce(nonce [BlockSize]byte) {
	c.decryptNonce = u128FromLE(nonce[:])
}

// CryptSetup returns the material a server advertises for this context.
func (c *CryptState) CryptSetup() server.CryptMaterial {
	key := c.Key()
	client := c.DecryptNonce()
	srv := c.EncryptNonce()
	return server.CryptMaterial{
		Key:         key[:],
		ClientNonce: client[:],
		ServerNonce: srv[:],
	}
}

// Encrypt encrypts buf[4:] in place and fills buf[:4] with the packet
// header: the low byte of the nonce and the high 24 bits of the tag.
func (c *CryptState) Encrypt(buf []byte) {
	c.encryptNonce = c.encryptNonce.add(1)

	tag := c.ocbEncrypt(buf[HeaderSize:], c.encryptNonce)

	var tagBytes [BlockSize]byte
	tag.putBE(tagBytes[:])
	buf[0] = byte(c.encryptNonce.lo)
	copy(buf[1:HeaderSize], tagBytes[:3])
}

// Decrypt decrypts buf in place, verifies the tag, and returns the body
// without the 4-byte header. On failure the nonce is restored and one of
// ErrEof, ErrRepeat, ErrLate, or ErrMac is returned.
func (c *CryptState) Decrypt(buf []byte) ([]byte, error) {
	if len(buf) < HeaderSize {
		return nil, ErrEof
	}
	header := buf[:HeaderSize]
	body := buf[HeaderSize:]
	n0 := header[0]

	// If the nonce moves forward and the tag check fails, or the packet
	// turns out to be late, the previous nonce has to come back.
	saved := c.decryptNonce
	late := false
	lost := int64(0)

	if byte(c.decryptNonce.add(1).lo) == n0 {
		// in order
		c.decryptNonce = c.decryptNonce.add(1)
	} else {
		// late or repeated, or a few packets were lost in between
		diff := int8(n0 - byte(c.decryptNonce.lo))
		c.decryptNonce = c.decryptNonce.add(int64(diff))
		switch {
		case diff > 0:
			lost = int64(diff) - 1
		case diff > -30:
			if c.decryptHistory[n0] == byte(c.decryptNonce.lo>>8) {
				c.decryptNonce = saved
				return nil, ErrRepeat
			}
			late = true
			lost = -1
		default:
			c.decryptNonce = saved
			return nil, ErrLate
		}
	}

	tag := c.ocbDecrypt(body, c.decryptNonce)
	var tagBytes [BlockSize]byte
	tag.putBE(tagBytes[:])
	if subtle.ConstantTimeCompare(tagBytes[:3], header[1:HeaderSize]) != 1 {
		c.decryptNonce = saved
		return nil, ErrMac
	}

	c.decryptHistory[n0] = byte(c.decryptNonce.lo >> 8)

	c.good++
	if late {
		c.late++
		c.decryptNonce = saved
	}
	// lost carries a signed delta but is stored unsigned; saturate at zero
	// rather than wrap.
	if total := int64(c.lost) + lost; total > 0 {
		c.lost = uint32(total)
	} else {
		c.lost = 0
	}

	return body, nil
}

// ocbEncrypt encrypts buf in place and returns the tag.
func (c *CryptState) ocbEncrypt(buf []byte, nonce u128) u128 {
	// The AES rounds see the nonce in its wire (little-endian) byte order.
	offset := c.aes.encrypt(nonce.swap())
	checksum := u128{}

	for len(buf) > BlockSize {
		chunk := buf[:BlockSize]
		buf = buf[BlockSize:]

		offset = s2(offset)

		plain := u128FromBE(chunk)
		encrypted := c.aes.encrypt(offset.xor(plain)).xor(offset)
		encrypted.putBE(chunk)

		checksum = checksum.xor(plain)
	}

	offset = s2(offset)

	n := len(buf)
	pad := c.aes.encrypt(u128{lo: uint64(n * 8)}.xor(offset))
	var block [BlockSize]byte
	pad.putBE(block[:])
	copy(block[:n], buf)
	plain := u128FromBE(block[:])
	encrypted := pad.xor(plain)
	encrypted.putBE(block[:])
	copy(buf, block[:n])

	checksum = checksum.xor(plain)

	return c.aes.encrypt(offset.xor(s2(offset)).xor(checksum))
}

// ocbDecrypt decrypts buf in place and returns the tag. Callers must verify
// the tag matches.
func (c *CryptState) ocbDecrypt(buf []byte, nonce u128) u128 {
	offset := c.aes.encrypt(nonce.swap())
	checksum := u128{}

	for len(buf) > BlockSize {
		chunk := buf[:BlockSize]
		buf = buf[BlockSize:]

		offset = s2(offset)

		encrypted := u128FromBE(chunk)
		plain := c.aes.decrypt(offset.xor(encrypted)).xor(offset)
		plain.putBE(chunk)

		checksum = checksum.xor(plain)
	}

	offset = s2(offset)

	n := len(buf)
	pad := c.aes.encrypt(u128{lo: uint64(n * 8)}.xor(offset))
	var block [BlockSize]byte
	copy(block[:n], buf)
	plain := u128FromBE(block[:]).xor(pad)
	plain.putBE(block[:])
	copy(buf, block[:n])

	checksum = checksum.xor(plain)

	return c.aes.encrypt(offset.xor(s2(offset)).xor(checksum))
}
