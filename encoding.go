package hypergrep

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// byteRange is an inclusive range of byte values
type byteRange struct {
	lo, hi byte
}

func (r byteRange) contains(b byte) bool {
	return r.lo <= b && b <= r.hi
}

// encoder maps characters to the byte sequences that represent them in one
// encoding, and decodes such bytes back into text
type encoder interface {
	// name returns the canonical encoding name reported in hits
	name() string
	// sequences returns byte range sequences that together match exactly the
	// encoded forms of every character in [lo, hi]; unencodable characters
	// contribute nothing
	sequences(lo, hi rune) [][]byteRange
	// decode converts encoded bytes into UTF-8 text, replacing invalid input
	// with U+FFFD
	decode(b []byte) string
	// unitSize is the width in bytes of one code unit
	unitSize() int
}

// LookupEncoding resolves an encoding name, in any case and under any IANA
// alias, to the canonical name reported in hits. Unicode encodings are
// limited to UTF-8, UTF-16LE and UTF-16BE; every single-byte charset known
// to the IANA registry is accepted.
func LookupEncoding(name string) (string, error) {
	enc, err := lookupEncoder(name)
	if err != nil {
		return "", err
	}
	return enc.name(), nil
}

func lookupEncoder(name string) (encoder, error) {
	switch normalizeEncodingName(name) {
	case "UTF8":
		return utf8Encoder{}, nil
	case "UTF16LE":
		return utf16Encoder{bigEndian: false}, nil
	case "UTF16BE":
		return utf16Encoder{bigEndian: true}, nil
	case "ASCII", "USASCII", "ANSIX3.41968", "US":
		return asciiEncoder, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, argError("unrecognized encoding %q", name)
	}
	cm, ok := enc.(*charmap.Charmap)
	if !ok {
		return nil, argError("unsupported encoding %q", name)
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = strings.ToUpper(name)
	}

	return newCharmapEncoder(canonical, cm), nil
}

func normalizeEncodingName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(name)))
}

type utf8Encoder struct{}

func (utf8Encoder) name() string { return "UTF-8" }

func (utf8Encoder) unitSize() int { return 1 }

func (utf8Encoder) sequences(lo, hi rune) [][]byteRange {
	return utf8Sequences(lo, hi)
}

func (utf8Encoder) decode(b []byte) string {
	return decodeWith(unicode.UTF8, b)
}

type utf16Encoder struct {
	bigEndian bool
}

func (e utf16Encoder) name() string {
	if e.bigEndian {
		return "UTF-16BE"
	}
	return "UTF-16LE"
}

func (utf16Encoder) unitSize() int { return 2 }

func (e utf16Encoder) decode(b []byte) string {
	var order = unicode.LittleEndian
	if e.bigEndian {
		order = unicode.BigEndian
	}
	return decodeWith(unicode.UTF16(order, unicode.IgnoreBOM), b)
}

// sequences splits the basic plane into single code units and the
// supplementary planes into surrogate pairs
func (e utf16Encoder) sequences(lo, hi rune) [][]byteRange {
	var out [][]byteRange
	lo, hi = max(lo, 0), min(hi, utf8.MaxRune)
	if lo > hi {
		return nil
	}

	if lo <= 0xFFFF {
		var bmpHi = min(hi, 0xFFFF)
		if lo < 0xD800 {
			out = append(out, e.units(uint16(lo), uint16(min(bmpHi, 0xD7FF)))...)
		}
		if bmpHi > 0xDFFF {
			out = append(out, e.units(uint16(max(lo, 0xE000)), uint16(bmpHi))...)
		}
	}
	if hi < 0x10000 {
		return out
	}

	var (
		s, t     = max(lo, 0x10000) - 0x10000, hi - 0x10000
		hsA, hsB = uint16(s >> 10), uint16(t >> 10)
		lsA, lsB = uint16(s & 0x3FF), uint16(t & 0x3FF)
	)
	if hsA == hsB {
		return append(out, e.pairs(hsA, hsA, lsA, lsB)...)
	}
	if lsA != 0 {
		out = append(out, e.pairs(hsA, hsA, lsA, 0x3FF)...)
		hsA++
	}
	var tail [][]byteRange
	if lsB != 0x3FF {
		tail = e.pairs(hsB, hsB, 0, lsB)
		hsB--
	}
	if hsA <= hsB {
		out = append(out, e.pairs(hsA, hsB, 0, 0x3FF)...)
	}

	return append(out, tail...)
}

// pairs combines a range of high surrogate offsets with a range of low
// surrogate offsets
func (e utf16Encoder) pairs(hsLo, hsHi, lsLo, lsHi uint16) [][]byteRange {
	var (
		highs = e.units(0xD800+hsLo, 0xD800+hsHi)
		lows  = e.units(0xDC00+lsLo, 0xDC00+lsHi)
		out   = make([][]byteRange, 0, len(highs)*len(lows))
	)
	for _, h := range highs {
		for _, l := range lows {
			var seq = make([]byteRange, 0, 4)
			seq = append(seq, h...)
			out = append(out, append(seq, l...))
		}
	}
	return out
}

// units returns two-byte sequences matching every code unit in [a, b]
func (e utf16Encoder) units(a, b uint16) [][]byteRange {
	if a > b {
		return nil
	}

	var (
		ha, hb = byte(a >> 8), byte(b >> 8)
		la, lb = byte(a), byte(b)
		out    [][]byteRange
	)
	if ha == hb {
		return [][]byteRange{e.unit(byteRange{ha, ha}, byteRange{la, lb})}
	}
	if la != 0 {
		out = append(out, e.unit(byteRange{ha, ha}, byteRange{la, 0xFF}))
		ha++
	}
	var tail [][]byteRange
	if lb != 0xFF {
		tail = append(tail, e.unit(byteRange{hb, hb}, byteRange{0, lb}))
		hb--
	}
	if ha <= hb {
		out = append(out, e.unit(byteRange{ha, hb}, byteRange{0, 0xFF}))
	}

	return append(out, tail...)
}

func (e utf16Encoder) unit(high, low byteRange) []byteRange {
	if e.bigEndian {
		return []byteRange{high, low}
	}
	return []byteRange{low, high}
}

// singleByteEncoder covers ASCII and the IANA charmaps, where every
// character is exactly one byte
type singleByteEncoder struct {
	canonical string
	runes     [256]rune
	valid     [256]bool
	decoder   encoding.Encoding
}

var asciiEncoder = newASCIIEncoder()

func newASCIIEncoder() *singleByteEncoder {
	var e = &singleByteEncoder{canonical: "US-ASCII"}
	for b := 0; b < utf8.RuneSelf; b++ {
		e.runes[b], e.valid[b] = rune(b), true
	}
	return e
}

func newCharmapEncoder(canonical string, cm *charmap.Charmap) *singleByteEncoder {
	var e = &singleByteEncoder{canonical: canonical, decoder: cm}
	for b := 0; b < 256; b++ {
		var r = cm.DecodeByte(byte(b))
		e.runes[b], e.valid[b] = r, r != utf8.RuneError
	}
	return e
}

func (e *singleByteEncoder) name() string { return e.canonical }

func (e *singleByteEncoder) unitSize() int { return 1 }

func (e *singleByteEncoder) sequences(lo, hi rune) [][]byteRange {
	var (
		out  [][]byteRange
		open = false
	)
	for b := 0; b < 256; b++ {
		var in = e.valid[b] && e.runes[b] >= lo && e.runes[b] <= hi
		switch {
		case in && open && out[len(out)-1][0].hi == byte(b-1):
			out[len(out)-1][0].hi = byte(b)
		case in:
			out = append(out, []byteRange{{byte(b), byte(b)}})
			open = true
		default:
			open = false
		}
	}
	return out
}

func (e *singleByteEncoder) decode(b []byte) string {
	if e.decoder != nil {
		return decodeWith(e.decoder, b)
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if e.valid[c] {
			sb.WriteRune(e.runes[c])
		} else {
			sb.WriteRune(utf8.RuneError)
		}
	}
	return sb.String()
}

func decodeWith(enc encoding.Encoding, b []byte) string {
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(out)
}
