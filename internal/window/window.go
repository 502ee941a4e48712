// Package window opens the glfw window the webgpu backend presents to.
//
// The window reports raw key presses through a callback and leaves their
// meaning to the caller. It must be created and pumped on the goroutine
// that called New, which is locked to its OS thread.
package window

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/gogpu/banding/internal/gpucore"
)

// ErrClosed is returned by operations on a destroyed window.
var ErrClosed = errors.New("window: closed")

// Key codes passed to OnKey. They match glfw's codes, ASCII for letters
// and digits.
const (
	KeyEscape     = int(glfw.KeyEscape)
	KeyKPSubtract = int(glfw.KeyKPSubtract)
	KeyKPAdd      = int(glfw.KeyKPAdd)
)

// Window is a non-resizable glfw window without a client API.
type Window struct {
	win    *glfw.Window
	log    *slog.Logger
	width  int
	height int

	onKey func(key int)
}

// Option configures a Window.
type Option func(*Window)

// WithLogger sets the window logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Window) { w.log = gpucore.LoggerOr(l) }
}

// OnKey sets the handler called for every key press and repeat.
func OnKey(fn func(key int)) Option {
	return func(w *Window) { w.onKey = fn }
}

// New initializes glfw and creates a width×height window.
func New(title string, width, height int, opts ...Option) (*Window, error) {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("window: init glfw: %w", err)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.False)

	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("window: create: %w", err)
	}
	w := &Window{win: win, log: gpucore.NopLogger()}
	for _, opt := range opts {
		opt(w)
	}
	w.width, w.height = win.GetFramebufferSize()

	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if action == glfw.Release {
			return
		}
		if w.onKey != nil {
			w.onKey(int(key))
		}
	})
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.width, w.height = width, height
	})
	w.log.Info("window: created", "title", title, "width", w.width, "height", w.height)
	return w, nil
}

// Pump processes pending events and reports whether the window is still
// open.
func (w *Window) Pump() bool {
	if w.win == nil {
		return false
	}
	glfw.PollEvents()
	return !w.win.ShouldClose()
}

// RequestClose makes the next Pump return false.
func (w *Window) RequestClose() {
	if w.win != nil {
		w.win.SetShouldClose(true)
	}
}

// Size returns the framebuffer size in pixels.
func (w *Window) Size() (width, height int) { return w.width, w.height }

// SurfaceDescriptor returns the platform surface for the webgpu backend.
func (w *Window) SurfaceDescriptor() (*wgpu.SurfaceDescriptor, error) {
	if w.win == nil {
		return nil, ErrClosed
	}
	return wgpuglfw.GetSurfaceDescriptor(w.win), nil
}

// Close destroys the window and terminates glfw.
func (w *Window) Close() error {
	if w.win == nil {
		return nil
	}
	w.win.Destroy()
	w.win = nil
	glfw.Terminate()
	return nil
}
