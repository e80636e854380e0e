package gpu

import "testing"

func TestVirtioScreenClearAndDrawPixel(t *testing.T) {
	w, h := 4, 4
	fb := make([]byte, w*h*4)
	dev := &Device{} // Flush is not exercised by this test
	s := NewVirtioScreen(dev, fb, w, h, 1)

	s.Clear(0x00112233)
	s.DrawPixel(1, 1, 0x00FF00)

	o := s.offset(1, 1)
	got := uint32(fb[o]) | uint32(fb[o+1])<<8 | uint32(fb[o+2])<<16 | uint32(fb[o+3])<<24
	if got != 0x00FF00 {
		t.Fatalf("pixel (1,1) = %#08x, want %#08x", got, 0x00FF00)
	}

	o2 := s.offset(0, 0)
	got2 := uint32(fb[o2]) | uint32(fb[o2+1])<<8 | uint32(fb[o2+2])<<16 | uint32(fb[o2+3])<<24
	if got2 != 0x00112233 {
		t.Fatalf("pixel (0,0) = %#08x, want %#08x (clear color)", got2, 0x00112233)
	}
}

func TestVirtioScreenDrawPixelOutOfBoundsIgnored(t *testing.T) {
	fb := make([]byte, 4*4*4)
	dev := &Device{}
	s := NewVirtioScreen(dev, fb, 4, 4, 1)

	s.DrawPixel(-1, 0, 0xFFFFFF)
	s.DrawPixel(100, 100, 0xFFFFFF)
	// No panic means success; fb should remain all zero.
	for _, b := range fb {
		if b != 0 {
			t.Fatal("out-of-bounds DrawPixel wrote into the framebuffer")
		}
	}
}

func TestSoftwareScreenFillRectAndPixelAt(t *testing.T) {
	s := NewSoftwareScreen(100, 100)
	s.FillRect(10, 10, 20, 20, 0x00FF00)

	if got := s.PixelAt(15, 15); got != 0x00FF00 {
		t.Fatalf("PixelAt(15,15) = %#06x, want %#06x", got, 0x00FF00)
	}
	if got := s.PixelAt(0, 0); got == 0x00FF00 {
		t.Fatal("fill rect leaked outside its bounds")
	}
}
