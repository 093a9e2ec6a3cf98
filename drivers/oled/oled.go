// Package oled renders the status screen on a small monochrome panel.
// Every call redraws the whole frame, so drawing the same text twice yields
// the same buffer.
package oled

import (
	"image/color"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
	"tinygo.org/x/tinydraw"
	"tinygo.org/x/tinyfont"
)

// Display is a buffered panel such as ssd1306.Device.
type Display interface {
	drivers.Displayer
	ClearBuffer()
}

const (
	DefaultTitle = "~ Breathalyzer"
	DefaultReady = "Ready"
)

var white = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Reinit, when set, runs before every redraw to reset the panel link.
	Reinit func() error
	Title  string
	// Ready is shown when On is given an empty string.
	Ready string
}

// Device is the status screen.
type Device struct {
	disp  Display
	cfg   Config
	state bool
	text  string
}

func New(disp Display, cfg Config) *Device {
	cfg.Title = orDefault(cfg.Title, DefaultTitle)
	cfg.Ready = orDefault(cfg.Ready, DefaultReady)
	return &Device{disp: disp, cfg: cfg}
}

// On draws the frame with text and flushes it.
func (d *Device) On(text string) error {
	text = orDefault(text, d.cfg.Ready)
	if err := d.reinit(); err != nil {
		return err
	}
	d.disp.ClearBuffer()
	d.drawFrame()
	tinyfont.WriteLine(d.disp, &tinyfont.TomThumb, 35, 16, d.cfg.Title, white)
	tinyfont.WriteLine(d.disp, &tinyfont.Org01, 35, 35, text, white)
	if err := d.disp.Display(); err != nil {
		return errors.Wrap(err, "oled: flush")
	}
	d.state = true
	d.text = text
	return nil
}

// Off flushes a blank frame.
func (d *Device) Off() error {
	if err := d.reinit(); err != nil {
		return err
	}
	d.disp.ClearBuffer()
	if err := d.disp.Display(); err != nil {
		return errors.Wrap(err, "oled: flush")
	}
	d.state = false
	d.text = ""
	return nil
}

// State reports whether the panel shows a frame.
func (d *Device) State() bool { return d.state }

// Text is the status line last drawn.
func (d *Device) Text() string { return d.text }

func (d *Device) reinit() error {
	if d.cfg.Reinit == nil {
		return nil
	}
	return errors.Wrap(d.cfg.Reinit(), "oled: reinit")
}

// drawFrame draws the bottle glyph left of the text.
func (d *Device) drawFrame() {
	tinydraw.Circle(d.disp, 27, 23, 5, white)
	tinydraw.FilledRectangle(d.disp, 10, 20, 16, 16, white)
	tinydraw.Rectangle(d.disp, 10, 15, 16, 6, white)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
