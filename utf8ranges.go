package hypergrep

import "unicode/utf8"

// maxOfLength holds the largest character encodable in 1, 2 and 3 bytes
var maxOfLength = [...]rune{0x7F, 0x7FF, 0xFFFF}

// utf8Sequences splits [lo, hi] into byte range sequences such that each
// sequence matches the UTF-8 encodings of a contiguous run of characters and
// every byte position of a sequence is an independent range. Surrogates have
// no UTF-8 form and are skipped.
func utf8Sequences(lo, hi rune) [][]byteRange {
	var out [][]byteRange
	splitUTF8(max(lo, 0), min(hi, utf8.MaxRune), &out)
	return out
}

func splitUTF8(lo, hi rune, out *[][]byteRange) {
	if lo > hi {
		return
	}
	if lo <= 0xDFFF && hi >= 0xD800 {
		splitUTF8(lo, 0xD7FF, out)
		splitUTF8(0xE000, hi, out)
		return
	}
	for _, m := range maxOfLength {
		if lo <= m && hi > m {
			splitUTF8(lo, m, out)
			splitUTF8(m+1, hi, out)
			return
		}
	}
	if hi < utf8.RuneSelf {
		*out = append(*out, []byteRange{{byte(lo), byte(hi)}})
		return
	}
	for i := 1; i < utf8.UTFMax; i++ {
		var m = rune(1)<<(6*i) - 1
		if lo&^m == hi&^m {
			continue
		}
		if lo&m != 0 {
			splitUTF8(lo, lo|m, out)
			splitUTF8((lo|m)+1, hi, out)
			return
		}
		if hi&m != m {
			splitUTF8(lo, (hi&^m)-1, out)
			splitUTF8(hi&^m, hi, out)
			return
		}
	}

	var (
		a   = utf8.AppendRune(nil, lo)
		b   = utf8.AppendRune(nil, hi)
		seq = make([]byteRange, len(a))
	)
	for i := range a {
		seq[i] = byteRange{a[i], b[i]}
	}
	*out = append(*out, seq)
}
