package gpu

// font8x8 is an 8x8, 1-bit-per-pixel bitmap font indexed by ASCII
// code point. Unassigned code points render as blank glyphs.
var font8x8 = buildFont()

func buildFont() [256][8]byte {
	var f [256][8]byte

	f[' '] = [8]byte{0, 0, 0, 0, 0, 0, 0, 0}
	f['0'] = [8]byte{0x3C, 0x66, 0x6E, 0x76, 0x66, 0x66, 0x3C, 0x00}
	f['1'] = [8]byte{0x18, 0x38, 0x18, 0x18, 0x18, 0x18, 0x3C, 0x00}
	f['2'] = [8]byte{0x3C, 0x66, 0x06, 0x0C, 0x30, 0x60, 0x7E, 0x00}
	f['3'] = [8]byte{0x3C, 0x66, 0x06, 0x1C, 0x06, 0x66, 0x3C, 0x00}
	f['4'] = [8]byte{0x0C, 0x1C, 0x3C, 0x6C, 0x7E, 0x0C, 0x0C, 0x00}
	f['5'] = [8]byte{0x7E, 0x60, 0x7C, 0x06, 0x06, 0x66, 0x3C, 0x00}
	f['6'] = [8]byte{0x3C, 0x60, 0x7C, 0x66, 0x66, 0x66, 0x3C, 0x00}
	f['7'] = [8]byte{0x7E, 0x06, 0x0C, 0x18, 0x30, 0x30, 0x30, 0x00}
	f['8'] = [8]byte{0x3C, 0x66, 0x66, 0x3C, 0x66, 0x66, 0x3C, 0x00}
	f['9'] = [8]byte{0x3C, 0x66, 0x66, 0x3E, 0x06, 0x66, 0x3C, 0x00}
	f['%'] = [8]byte{0x62, 0x66, 0x0C, 0x18, 0x30, 0x66, 0x46, 0x00}
	f['i'] = [8]byte{0x18, 0x00, 0x38, 0x18, 0x18, 0x18, 0x3C, 0x00}

	for c := byte('A'); c <= 'Z'; c++ {
		f[c] = defaultLetter(c)
	}
	for c := byte('a'); c <= 'z'; c++ {
		if f[c] != ([8]byte{}) {
			continue // keep an explicit lowercase bitmap such as 'i'
		}
		f[c] = defaultLetter(c - 'a' + 'A')
	}

	return f
}

// defaultLetter renders a hollow-box placeholder glyph for every
// letter except 'P', which gets its own bitmap here; this kernel's
// boot screen only needs to print short diagnostic strings ("Pn"
// counters), not typeset prose.
func defaultLetter(c byte) [8]byte {
	switch c {
	case 'P':
		return [8]byte{0x7C, 0x66, 0x66, 0x7C, 0x60, 0x60, 0x60, 0x00}
	default:
		return [8]byte{0x7E, 0x42, 0x42, 0x42, 0x42, 0x42, 0x7E, 0x00}
	}
}
