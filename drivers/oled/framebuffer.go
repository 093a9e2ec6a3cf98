package oled

import (
	"image/color"
	"strings"
	"sync"
)

// Framebuffer is an in-memory monochrome panel. Host builds use it in place of
// a real display; Display copies the draw buffer to the visible one.
//
// The draw side belongs to whoever owns the display. The visible side may be
// read from any goroutine.
type Framebuffer struct {
	w, h int16
	buf  []byte

	mu      sync.Mutex
	shown   []byte
	flushes int
}

func NewFramebuffer(w, h int16) *Framebuffer {
	n := int(w) * int(h) / 8
	return &Framebuffer{w: w, h: h, buf: make([]byte, n), shown: make([]byte, n)}
}

func (f *Framebuffer) Size() (x, y int16) { return f.w, f.h }

func (f *Framebuffer) SetPixel(x, y int16, c color.RGBA) {
	if x < 0 || y < 0 || x >= f.w || y >= f.h {
		return
	}
	i := int(y)*int(f.w) + int(x)
	if c.R|c.G|c.B != 0 {
		f.buf[i/8] |= 1 << (i % 8)
	} else {
		f.buf[i/8] &^= 1 << (i % 8)
	}
}

func (f *Framebuffer) Display() error {
	f.mu.Lock()
	copy(f.shown, f.buf)
	f.flushes++
	f.mu.Unlock()
	return nil
}

func (f *Framebuffer) ClearBuffer() {
	clear(f.buf)
}

// Pixel reports a visible pixel.
func (f *Framebuffer) Pixel(x, y int16) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pixel(x, y)
}

func (f *Framebuffer) pixel(x, y int16) bool {
	if x < 0 || y < 0 || x >= f.w || y >= f.h {
		return false
	}
	i := int(y)*int(f.w) + int(x)
	return f.shown[i/8]&(1<<(i%8)) != 0
}

// Snapshot returns a copy of the visible buffer.
func (f *Framebuffer) Snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.shown...)
}

func (f *Framebuffer) Flushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

// Lit counts visible pixels.
func (f *Framebuffer) Lit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for y := int16(0); y < f.h; y++ {
		for x := int16(0); x < f.w; x++ {
			if f.pixel(x, y) {
				n++
			}
		}
	}
	return n
}

// String renders the visible buffer as text, one row per line.
func (f *Framebuffer) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sb strings.Builder
	for y := int16(0); y < f.h; y++ {
		for x := int16(0); x < f.w; x++ {
			if f.pixel(x, y) {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
