package gpu

// Screen is the common capability every display backend implements,
// per spec.md §4.7's "capability swap behind a common gpu interface".
// The kernel's boot-screen task draws through this interface without
// knowing whether a VirtIO-GPU device or the software fallback is
// behind it.
type Screen interface {
	Clear(color uint32)
	DrawPixel(x, y int, color uint32)
	FillRect(x, y, w, h int, color uint32)
	DrawLine(x0, y0, x1, y1 int, color uint32)
	DrawChar(x, y int, ch byte, color uint32)
	DrawString(x, y int, s string, color uint32)
	Flush() error
	ScreenSize() (w, h int)
}

// VirtioScreen implements Screen by writing B8G8R8A8 pixels directly
// into the framebuffer backing a VirtIO-GPU resource and flushing via
// TRANSFER_TO_HOST_2D + RESOURCE_FLUSH.
type VirtioScreen struct {
	dev        *Device
	fb         []byte
	w, h       int
	resourceID uint32
}

// NewVirtioScreen wires a configured Device and its backing
// framebuffer slice into a Screen.
func NewVirtioScreen(dev *Device, fb []byte, w, h int, resourceID uint32) *VirtioScreen {
	return &VirtioScreen{dev: dev, fb: fb, w: w, h: h, resourceID: resourceID}
}

func (s *VirtioScreen) ScreenSize() (int, int) { return s.w, s.h }

func (s *VirtioScreen) offset(x, y int) int { return (y*s.w + x) * 4 }

func (s *VirtioScreen) DrawPixel(x, y int, color uint32) {
	if x < 0 || y < 0 || x >= s.w || y >= s.h {
		return
	}
	o := s.offset(x, y)
	s.fb[o+0] = byte(color)
	s.fb[o+1] = byte(color >> 8)
	s.fb[o+2] = byte(color >> 16)
	s.fb[o+3] = byte(color >> 24)
}

func (s *VirtioScreen) Clear(color uint32) {
	s.FillRect(0, 0, s.w, s.h, color)
}

func (s *VirtioScreen) FillRect(x, y, w, h int, color uint32) {
	for j := y; j < y+h; j++ {
		for i := x; i < x+w; i++ {
			s.DrawPixel(i, j, color)
		}
	}
}

// DrawLine uses Bresenham's algorithm, matching the typical bare
// framebuffer drivers in this corpus.
func (s *VirtioScreen) DrawLine(x0, y0, x1, y1 int, color uint32) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 >= x1 {
		sx = -1
	}
	if y0 >= y1 {
		sy = -1
	}
	err := dx + dy

	for {
		s.DrawPixel(x0, y0, color)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

const (
	charW, charH = 8, 8
)

// DrawChar renders one glyph from font8x8, per-pixel, using the 1-bpp
// bitmap rows.
func (s *VirtioScreen) DrawChar(x, y int, ch byte, color uint32) {
	glyph := font8x8[ch]
	for row := 0; row < charH; row++ {
		bits := glyph[row]
		for col := 0; col < charW; col++ {
			if bits&(1<<uint(col)) != 0 {
				s.DrawPixel(x+col, y+row, color)
			}
		}
	}
}

func (s *VirtioScreen) DrawString(x, y int, str string, color uint32) {
	for i := 0; i < len(str); i++ {
		s.DrawChar(x+i*charW, y, str[i], color)
	}
}

func (s *VirtioScreen) Flush() error {
	return s.dev.Flush(s.resourceID, 0, 0, uint32(s.w), uint32(s.h))
}
