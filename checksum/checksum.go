// Package checksum implements the 16-bit word-sum checksum shared by every
// fixed-layout binary record in the Nortek protocol family.
//
// The checksum is the seed plus the sum of the record payload interpreted as
// little-endian 16-bit words, truncated to 16 bits. The payload never includes
// the trailing checksum field itself.
package checksum

import "encoding/binary"

// Seed is the fixed checksum seed used by the whole instrument family.
const Seed uint16 = 0xB58C

// Words returns (seed + sum(words)) mod 0x10000.
func Words(seed uint16, words []uint16) uint16 {
	sum := seed
	for _, w := range words {
		sum += w
	}
	return sum
}

// Compute checksums a raw payload as little-endian 16-bit words with the
// family seed. A trailing odd byte is ignored, matching the instrument's own
// whole-word summation.
func Compute(payload []byte) uint16 {
	sum := Seed
	for i := 0; i+1 < len(payload); i += 2 {
		sum += binary.LittleEndian.Uint16(payload[i:])
	}
	return sum
}

// Validate recomputes the checksum of payload (which must exclude the
// checksum field) and compares it to the claimed value. A mismatch is a
// data-quality signal, not an error, so this never fails any other way.
func Validate(payload []byte, claimed uint16) bool {
	return Compute(payload) == claimed
}

// Append writes the computed checksum of frame as two little-endian bytes at
// the end of frame and returns the extended slice. Used when constructing
// outgoing configuration frames.
func Append(frame []byte) []byte {
	sum := Compute(frame)
	return binary.LittleEndian.AppendUint16(frame, sum)
}
