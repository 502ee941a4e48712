// Command banding renders the color banding and dithering demo.
//
// Usage:
//
//	banding -width 1280 -height 720 -vsync 1
//	banding -backend soft -frames 60 -capture frame.png
//
// At least one argument is required. Keys: V vsync, L animate light,
// T tonemapping, D dithering, 1/2/3 noise type, R triangular distribution,
// N show noise, +/- noise scale, Esc quit.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gogpu/banding"
	"github.com/gogpu/banding/backend"
	"github.com/gogpu/banding/internal/window"

	_ "github.com/gogpu/banding/backend/native"
	_ "github.com/gogpu/banding/backend/soft"
	_ "github.com/gogpu/banding/backend/webgpu"
)

const usage = `usage: banding [-width N] [-height N] [-vsync 0|1] [-backend soft|native|webgpu]
               [-frames N] [-data DIR] [-capture FILE.png] [-overlay 0|1] [-animate 0|1]
               [-debug-names 0|1] [-dump-shaders DIR] [-log debug|info|warn|error] [-timeout DURATION]`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "banding:", err)
		if errors.Is(err, banding.ErrNoArgs) {
			fmt.Fprintln(os.Stderr, usage)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := banding.ParseArgs(args)
	if err != nil {
		return err
	}
	banding.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))
	log := banding.Logger()

	if cfg.DumpShaders != "" {
		if err := dumpShaders(cfg.DumpShaders); err != nil {
			return err
		}
		log.Info("banding: shaders written", "dir", cfg.DumpShaders)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		app  *banding.App
		opts []banding.Option
	)
	if cfg.Backend == "" || cfg.Backend == backend.BackendWebGPU {
		win, err := window.New(banding.Title, int(cfg.Width), int(cfg.Height),
			window.WithLogger(log),
			window.OnKey(func(key int) {
				if app != nil {
					app.HandleKey(key)
				}
			}))
		switch {
		case err == nil:
			defer func() { _ = win.Close() }()
			sd, err := win.SurfaceDescriptor()
			if err != nil {
				return err
			}
			opts = append(opts, banding.WithWindow(win), banding.WithSurface(sd))
		case cfg.Backend == "":
			log.Warn("banding: no window, rendering offscreen", "err", err)
		default:
			return err
		}
	}

	app, err = banding.New(cfg, opts...)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
