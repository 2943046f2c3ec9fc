package protocol

import (
	"fmt"
	"unicode/utf16"
)

// MaxTextBytes is the largest encoded text body a 2-byte length prefix can carry.
const MaxTextBytes = 0xFFFF

// appendModifiedUTF8 appends s in modified UTF-8: NUL is written as C0 80 and
// characters outside the BMP as a surrogate pair of 3-byte sequences.
// Invalid UTF-8 in s is written as U+FFFD.
func appendModifiedUTF8(dst []byte, s string) []byte {
	for _, r := range s {
		switch {
		case r == 0:
			dst = append(dst, 0xC0, 0x80)
		case r < 0x80:
			dst = append(dst, byte(r))
		case r < 0x800:
			dst = append(dst, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
		case r < 0x10000:
			dst = appendThreeByte(dst, uint16(r))
		default:
			hi, lo := utf16.EncodeRune(r)
			dst = appendThreeByte(dst, uint16(hi))
			dst = appendThreeByte(dst, uint16(lo))
		}
	}
	return dst
}

func appendThreeByte(dst []byte, u uint16) []byte {
	return append(dst, 0xE0|byte(u>>12), 0x80|byte((u>>6)&0x3F), 0x80|byte(u&0x3F))
}

// decodeModifiedUTF8 decodes a modified UTF-8 body with the same acceptance
// rules as java.io.DataInputStream.readUTF.
func decodeModifiedUTF8(b []byte) (string, error) {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), nil
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: bad 2-byte sequence at offset %d", ErrMalformedText, i)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: bad 3-byte sequence at offset %d", ErrMalformedText, i)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", fmt.Errorf("%w: invalid lead byte 0x%02x at offset %d", ErrMalformedText, c, i)
		}
	}
	return string(utf16.Decode(units)), nil
}
