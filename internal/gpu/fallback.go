package gpu

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// SoftwareScreen implements Screen without any VirtIO-GPU device
// present, per spec.md §4.7's fallback path: a software rasterizer
// standing in for the "framebuffer driver (external collaborator)".
// It is backed by github.com/fogleman/gg so the boot-screen task's
// drawing calls exercise the same kind of 2D drawing primitives the
// VirtIO path does, just rendered into an in-memory RGBA canvas
// instead of a device-backed resource.
type SoftwareScreen struct {
	ctx  *gg.Context
	w, h int
}

// NewSoftwareScreen allocates a w x h RGBA canvas.
func NewSoftwareScreen(w, h int) *SoftwareScreen {
	return &SoftwareScreen{ctx: gg.NewContext(w, h), w: w, h: h}
}

func (s *SoftwareScreen) ScreenSize() (int, int) { return s.w, s.h }

func toRGBA(c uint32) color.RGBA {
	return color.RGBA{
		R: byte(c >> 16),
		G: byte(c >> 8),
		B: byte(c),
		A: 0xFF,
	}
}

func (s *SoftwareScreen) Clear(c uint32) {
	s.ctx.SetColor(toRGBA(c))
	s.ctx.Clear()
}

func (s *SoftwareScreen) DrawPixel(x, y int, c uint32) {
	s.ctx.SetColor(toRGBA(c))
	s.ctx.SetPixel(x, y)
}

func (s *SoftwareScreen) FillRect(x, y, w, h int, c uint32) {
	s.ctx.SetColor(toRGBA(c))
	s.ctx.DrawRectangle(float64(x), float64(y), float64(w), float64(h))
	s.ctx.Fill()
}

func (s *SoftwareScreen) DrawLine(x0, y0, x1, y1 int, c uint32) {
	s.ctx.SetColor(toRGBA(c))
	s.ctx.DrawLine(float64(x0), float64(y0), float64(x1), float64(y1))
	s.ctx.Stroke()
}

func (s *SoftwareScreen) DrawChar(x, y int, ch byte, c uint32) {
	s.DrawString(x, y, string(ch), c)
}

func (s *SoftwareScreen) DrawString(x, y int, str string, c uint32) {
	s.ctx.SetColor(toRGBA(c))
	s.ctx.DrawString(str, float64(x), float64(y+charH))
}

// Flush is a no-op: the canvas is read directly by Image for tests or
// a UART-attached host tool, there is no device round-trip.
func (s *SoftwareScreen) Flush() error { return nil }

// Image exposes the rendered canvas, e.g. for a test assertion or a
// host-side preview tool.
func (s *SoftwareScreen) Image() image.Image { return s.ctx.Image() }

// PixelAt reads back one pixel as a packed 0xRRGGBB value, mirroring
// spec.md §8 scenario 4's "(512, 384) reads 0x00FF00" assertion style.
func (s *SoftwareScreen) PixelAt(x, y int) uint32 {
	r, g, b, _ := s.ctx.Image().At(x, y).RGBA()
	return uint32(r>>8)<<16 | uint32(g>>8)<<8 | uint32(b>>8)
}
