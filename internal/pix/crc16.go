package pix

import (
	"fmt"
	"strings"
)

// crcTag is the BR Code terminator field: tag 63, length 04, followed by the
// checksum itself.
const crcTag = "6304"

// ChecksumCCITTFalse computes CRC-16/CCITT-FALSE over the UTF-8 bytes of the
// payload: polynomial 0x1021, initial value 0xFFFF, no final xor, MSB-first.
// Payment apps validate this exact variant, so it must match bit for bit.
func ChecksumCCITTFalse(payload string) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range []byte(payload) {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// AppendCRC terminates a payload with the 6304 tag and its checksum rendered
// as four uppercase hex digits. An already-terminated payload is stripped
// back to the tag first, so the call is idempotent.
func AppendCRC(payload string) string {
	if idx := strings.LastIndex(payload, crcTag); idx >= 0 && idx == len(payload)-8 && isHex4(payload[idx+4:]) {
		payload = payload[:idx]
	}
	if !strings.HasSuffix(payload, crcTag) {
		payload += crcTag
	}
	return payload + fmt.Sprintf("%04X", ChecksumCCITTFalse(payload))
}

func isHex4(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'F':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
