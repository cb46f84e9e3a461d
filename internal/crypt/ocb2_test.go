package crypt

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func hexBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func hex16(t *testing.T, s string) [16]byte {
	t.Helper()
	b := hexBytes(t, s)
	if len(b) != 16 {
		t.Fatalf("want 16 bytes, got %d", len(b))
	}
	var out [16]byte
	copy(out[:], b)
	return out
}

func hexU128(t *testing.T, s string) u128 {
	t.Helper()
	return u128FromBE(hexBytes(t, s))
}

func TestAESVectors(t *testing.T) {
	state := NewFrom(hex16(t, "E8E9EAEBEDEEEFF0F2F3F4F5F7F8F9FA"), [16]byte{}, [16]byte{})

	got := state.aes.encrypt(hexU128(t, "014BAF2278A69D331D5180103643E99A"))
	if want := hexU128(t, "6743C3D1519AB4F2CD9A78AB09A511BD"); got != want {
		t.Errorf("encrypt: got %+v, want %+v", got, want)
	}

	got = state.aes.decrypt(hexU128(t, "6743C3D1519AB4F2CD9A78AB09A511BD"))
	if want := hexU128(t, "014BAF2278A69D331D5180103643E99A"); got != want {
		t.Errorf("decrypt: got %+v, want %+v", got, want)
	}
}

// Test vectors from
// http://web.cs.ucdavis.edu/~rogaway/papers/draft-krovetz-ocb-00.txt
// (excluding ones with headers since those aren't implemented here).
func TestOCBVectors(t *testing.T) {
	cases := []struct {
		name   string
		plain  string
		cipher string
		tag    string
	}{
		{
			name:   "OCB-AES-128-0B",
			plain:  "",
			cipher: "",
			tag:    "BF3108130773AD5EC70EC69E7875A7B0",
		},
		{
			name:   "OCB-AES-128-8B",
			plain:  "0001020304050607",
			cipher: "C636B3A868F429BB",
			tag:    "A45F5FDEA5C088D1D7C8BE37CABC8C5C",
		},
		{
			name:   "OCB-AES-128-16B",
			plain:  "000102030405060708090A0B0C0D0E0F",
			cipher: "52E48F5D19FE2D9869F0C4A4B3D2BE57",
			tag:    "F7EE49AE7AA5B5E6645DB6B3966136F9",
		},
		{
			name:   "OCB-AES-128-24B",
			plain:  "000102030405060708090A0B0C0D0E0F1011121314151617",
			cipher: "F75D6BC8B4DC8D66B836A2B08B32A636CC579E145D323BEB",
			tag:    "A1A50F822819D6E0A216784AC24AC84C",
		},
		{
			name:   "OCB-AES-128-32B",
			plain:  "000102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F",
			cipher: "F75D6BC8B4DC8D66B836A2B08B32A636CEC3C555037571709DA25E1BB0421A27",
			tag:    "09CA6C73F0B5C6C5FD587122D75F2AA3",
		},
		{
			name:   "OCB-AES-128-40B",
			plain:  "000102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F2021222324252627",
			cipher: "F75D6BC8B4DC8D66B836A2B08B32A6369F1CD3C5228D79FD6C267F5F6AA7B231C7DFB9D59951AE9C",
			tag:    "9DB0CDF880F73E3E10D4EB3217766688",
		},
	}

	key := hex16(t, "000102030405060708090a0b0c0d0e0f")
	nonce := hex16(t, "000102030405060708090a0b0c0d0e0f")

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := NewFrom(key, nonce, nonce)

			buf := hexBytes(t, tc.plain)
			tag := state.ocbEncrypt(buf, state.encryptNonce)
			if want := hexBytes(t, tc.cipher); !bytes.Equal(buf, want) {
				t.Errorf("encrypt result: got %X, want %X", buf, want)
			}
			if want := hexU128(t, tc.tag); tag != want {
				t.Errorf("encrypt tag: got %+v, want %+v", tag, want)
			}

			buf = hexBytes(t, tc.cipher)
			tag = state.ocbDecrypt(buf, state.decryptNonce)
			if want := hexBytes(t, tc.plain); !bytes.Equal(buf, want) {
				t.Errorf("decrypt result: got %X, want %X", buf, want)
			}
			if want := hexU128(t, tc.tag); tag != want {
				t.Errorf("decrypt tag: got %+v, want %+v", tag, want)
			}
		})
	}
}

// newPair returns two contexts keyed so that a's encrypt counter is b's
// decrypt counter and vice versa, the way a client and server line up
// after CryptSetup.
func newPair(t *testing.T) (a, b *CryptState) {
	t.Helper()
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i * 7)
	}
	var zero, high [16]byte
	high[15] = 0x80 // little-endian bytes of 1<<127

	a = NewFrom(key, zero, high)
	b = NewFrom(key, high, zero)
	return a, b
}

func TestEncryptAndDecryptAreInverse(t *testing.T) {
	a, b := newPair(t)

	payload := []byte{0, 1, 4, 255, 0, 6}
	buf := make([]byte, HeaderSize+len(payload))
	copy(buf[HeaderSize:], payload)

	a.Encrypt(buf)
	body, err := b.Decrypt(buf)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Errorf("round trip: got %v, want %v", body, payload)
	}
	if b.Good() != 1 || b.Late() != 0 || b.Lost() != 0 {
		t.Errorf("counters: good=%d late=%d lost=%d, want 1/0/0", b.Good(), b.Late(), b.Lost())
	}
}

// warmUp pumps n in-order packets through the pair. The late/replay tests
// need the decrypt counter past 256 so that the history byte of a recorded
// slot differs from the zero-initialised table.
func warmUp(t *testing.T, a, b *CryptState, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p := encryptPacket(t, a, []byte("warmup"))
		if _, err := b.Decrypt(p); err != nil {
			t.Fatalf("warmup decrypt %d: %v", i, err)
		}
	}
}

func encryptPacket(t *testing.T, c *CryptState, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, HeaderSize+len(payload))
	copy(buf[HeaderSize:], payload)
	c.Encrypt(buf)
	return buf
}

func TestDecryptRepeat(t *testing.T) {
	a, b := newPair(t)

	packet := encryptPacket(t, a, []byte("voice frame"))
	replay := make([]byte, len(packet))
	copy(replay, packet)

	if _, err := b.Decrypt(packet); err != nil {
		t.Fatalf("first decrypt: %v", err)
	}
	good, late, lost := b.Good(), b.Late(), b.Lost()

	if _, err := b.Decrypt(replay); !errors.Is(err, ErrRepeat) {
		t.Fatalf("second decrypt: got %v, want ErrRepeat", err)
	}
	if b.Good() != good || b.Late() != late || b.Lost() != lost {
		t.Errorf("counters changed on repeat: good=%d late=%d lost=%d", b.Good(), b.Late(), b.Lost())
	}
}

func TestDecryptShortPacket(t *testing.T) {
	_, b := newPair(t)
	if _, err := b.Decrypt([]byte{1, 2, 3}); !errors.Is(err, ErrEof) {
		t.Fatalf("got %v, want ErrEof", err)
	}
}

func TestDecryptTagMismatch(t *testing.T) {
	a, b := newPair(t)

	packet := encryptPacket(t, a, []byte("voice frame"))
	intact := make([]byte, len(packet))
	copy(intact, packet)
	packet[HeaderSize] ^= 0xFF

	if _, err := b.Decrypt(packet); !errors.Is(err, ErrMac) {
		t.Fatalf("got %v, want ErrMac", err)
	}
	if b.Good() != 0 {
		t.Errorf("good advanced on tag mismatch")
	}

	// The nonce was restored: the intact packet still decrypts.
	if _, err := b.Decrypt(intact); err != nil {
		t.Fatalf("decrypt after restore: %v", err)
	}
}

func TestDecryptLostPackets(t *testing.T) {
	a, b := newPair(t)

	// Packets 1..3 sent, only 1 and 3 arrive.
	p1 := encryptPacket(t, a, []byte("one"))
	_ = encryptPacket(t, a, []byte("two"))
	p3 := encryptPacket(t, a, []byte("three"))

	if _, err := b.Decrypt(p1); err != nil {
		t.Fatalf("decrypt p1: %v", err)
	}
	if _, err := b.Decrypt(p3); err != nil {
		t.Fatalf("decrypt p3: %v", err)
	}
	if b.Good() != 2 || b.Lost() != 1 {
		t.Errorf("counters: good=%d lost=%d, want good=2 lost=1", b.Good(), b.Lost())
	}
}

func TestDecryptLatePacket(t *testing.T) {
	a, b := newPair(t)
	warmUp(t, a, b, 256)
	good := b.Good()

	p1 := encryptPacket(t, a, []byte("one"))
	p2 := encryptPacket(t, a, []byte("two"))
	replay := make([]byte, len(p1))
	copy(replay, p1)

	if _, err := b.Decrypt(p2); err != nil {
		t.Fatalf("decrypt p2: %v", err)
	}
	if b.Lost() != 1 {
		t.Fatalf("lost after skip: got %d, want 1", b.Lost())
	}

	if _, err := b.Decrypt(p1); err != nil {
		t.Fatalf("decrypt late p1: %v", err)
	}
	if b.Good() != good+2 || b.Late() != 1 || b.Lost() != 0 {
		t.Errorf("counters: good=%d late=%d lost=%d, want %d/1/0", b.Good(), b.Late(), b.Lost(), good+2)
	}

	// A second copy of the late packet is a replay.
	if _, err := b.Decrypt(replay); !errors.Is(err, ErrRepeat) {
		t.Fatalf("late replay: got %v, want ErrRepeat", err)
	}
}

func TestDecryptLateWindowBoundary(t *testing.T) {
	// diff == -30 is rejected outright; diff == -29 with unused history is
	// accepted as late.
	t.Run("rejected at -30", func(t *testing.T) {
		a, b := newPair(t)
		old := encryptPacket(t, a, []byte("old"))
		for i := 0; i < 30; i++ {
			p := encryptPacket(t, a, []byte("fresh"))
			if _, err := b.Decrypt(p); err != nil {
				t.Fatalf("decrypt packet %d: %v", i, err)
			}
		}
		// decrypt_nonce is now 31; the old packet's nonce byte is 1.
		if _, err := b.Decrypt(old); !errors.Is(err, ErrLate) {
			t.Fatalf("got %v, want ErrLate", err)
		}
	})

	t.Run("accepted at -29", func(t *testing.T) {
		a, b := newPair(t)
		// Past 256 the old packet's history slot holds an upper byte of 0
		// while its nonce's upper byte is 1, so the slot counts as unused.
		warmUp(t, a, b, 256)
		old := encryptPacket(t, a, []byte("old"))
		for i := 0; i < 29; i++ {
			p := encryptPacket(t, a, []byte("fresh"))
			if _, err := b.Decrypt(p); err != nil {
				t.Fatalf("decrypt packet %d: %v", i, err)
			}
		}
		if _, err := b.Decrypt(old); err != nil {
			t.Fatalf("got %v, want late accept", err)
		}
		if b.Late() != 1 {
			t.Errorf("late counter: got %d, want 1", b.Late())
		}
	})
}

func TestEncryptNonceMonotone(t *testing.T) {
	var key [KeySize]byte
	c := NewFromKey(key)

	prev := c.encryptNonce
	for i := 0; i < 300; i++ {
		buf := make([]byte, HeaderSize+4)
		c.Encrypt(buf)
		want := prev.add(1)
		if c.encryptNonce != want {
			t.Fatalf("nonce after %d encrypts: got %+v, want %+v", i+1, c.encryptNonce, want)
		}
		prev = c.encryptNonce
	}
}

func TestU128Arithmetic(t *testing.T) {
	v := u128{hi: 0, lo: ^uint64(0)}
	if got := v.add(1); got != (u128{hi: 1, lo: 0}) {
		t.Errorf("carry: got %+v", got)
	}

	v = u128{hi: 1, lo: 0}
	if got := v.add(-1); got != (u128{hi: 0, lo: ^uint64(0)}) {
		t.Errorf("borrow: got %+v", got)
	}

	// Wrap past zero.
	v = u128{}
	if got := v.add(-1); got != (u128{hi: ^uint64(0), lo: ^uint64(0)}) {
		t.Errorf("wrap: got %+v", got)
	}
}
