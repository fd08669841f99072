package commission

import (
	"fmt"
	"strings"
)

// Rendezvous capability bits carried in the QR payload.
const (
	RendezvousSoftAP    = 1 << 0
	RendezvousBLE       = 1 << 1
	RendezvousOnNetwork = 1 << 2
)

// Setup holds the values a controller needs to find and authenticate the device.
type Setup struct {
	VendorID      uint16
	ProductID     uint16
	Discriminator uint16 // 12 bits
	Passcode      uint32 // 27 bits
	Rendezvous    uint8
}

// Validate rejects passcodes and discriminators that cannot be encoded.
func (s Setup) Validate() error {
	if s.Discriminator > 0xFFF {
		return fmt.Errorf("discriminator %d out of range (max 4095)", s.Discriminator)
	}
	if s.Passcode == 0 || s.Passcode >= 1<<27 {
		return fmt.Errorf("passcode %d out of range", s.Passcode)
	}
	switch s.Passcode {
	case 11111111, 22222222, 33333333, 44444444, 55555555, 66666666, 77777777,
		88888888, 99999999, 12345678, 87654321:
		return fmt.Errorf("passcode %d is not allowed", s.Passcode)
	}
	return nil
}

// ManualCode returns the 11-digit manual pairing code.
func (s Setup) ManualCode() string {
	short := uint32(s.Discriminator >> 8)
	chunk1 := (short >> 2) & 0x3
	chunk2 := ((short & 0x3) << 14) | (s.Passcode & 0x3FFF)
	chunk3 := s.Passcode >> 14

	digits := fmt.Sprintf("%d%05d%04d", chunk1, chunk2, chunk3)
	return digits + string(rune('0'+verhoeffCheck(digits)))
}

// QRPayload returns the "MT:" prefixed base38 onboarding payload.
func (s Setup) QRPayload() string {
	var w bitWriter
	w.put(0, 3) // version
	w.put(uint64(s.VendorID), 16)
	w.put(uint64(s.ProductID), 16)
	w.put(0, 2) // standard commissioning flow
	w.put(uint64(s.Rendezvous), 8)
	w.put(uint64(s.Discriminator), 12)
	w.put(uint64(s.Passcode), 27)
	w.put(0, 4) // padding
	return "MT:" + base38(w.bytes())
}

// FormatManualCode splits an 11-digit code as XXXX-XXX-XXXX for display.
func FormatManualCode(code string) string {
	if len(code) != 11 {
		return code
	}
	return code[:4] + "-" + code[4:7] + "-" + code[7:]
}

// normalizeCode strips separators so "3497-011-2332" matches "34970112332".
func normalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, code)
}

type bitWriter struct {
	buf  []byte
	bits int
}

// put appends the low n bits of v, least-significant bit first.
func (w *bitWriter) put(v uint64, n int) {
	for i := 0; i < n; i++ {
		if w.bits%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v&(1<<uint(i)) != 0 {
			w.buf[w.bits/8] |= 1 << uint(w.bits%8)
		}
		w.bits++
	}
}

func (w *bitWriter) bytes() []byte {
	return w.buf
}

const base38Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-."

// base38 encodes 3-byte little-endian groups as 5 characters (2 bytes as 4, 1 byte as 2).
func base38(data []byte) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 3 {
		end := i + 3
		if end > len(data) {
			end = len(data)
		}
		var v uint32
		for j := end - 1; j >= i; j-- {
			v = v<<8 | uint32(data[j])
		}
		n := map[int]int{1: 2, 2: 4, 3: 5}[end-i]
		for k := 0; k < n; k++ {
			sb.WriteByte(base38Chars[v%38])
			v /= 38
		}
	}
	return sb.String()
}

var verhoeffD = [10][10]int{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
	{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
	{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
	{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
	{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
	{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
	{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
	{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
	{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
}

var verhoeffP = [8][10]int{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
	{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
	{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
	{9, 4, 5, 3, 1, 2, 6, 8, 7, 0},
	{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
	{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
	{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
}

var verhoeffInv = [10]int{0, 4, 3, 2, 1, 5, 6, 7, 8, 9}

func verhoeffCheck(digits string) int {
	c := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		c = verhoeffD[c][verhoeffP[(i+1)%8][d]]
	}
	return verhoeffInv[c]
}
