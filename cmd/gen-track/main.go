// Command gen-track writes a synthetic track: a collision mask (black is
// wall), a visual image and a config file with start pose and checkpoints.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"racetrack/internal/config"
	"racetrack/internal/monitoring"
)

var (
	shape       = flag.String("shape", "oval", "track shape: oval or ring")
	name        = flag.String("name", "", "track name (defaults to the shape)")
	width       = flag.Int("width", 800, "image width in pixels")
	height      = flag.Int("height", 600, "image height in pixels")
	inner       = flag.Float64("inner", 0.6, "inner edge as a fraction of the outer radius")
	checkpoints = flag.Int("checkpoints", 16, "number of checkpoints around the track")
	laps        = flag.Int("laps", 3, "laps in the generated session stage")
	outDir      = flag.String("out", "assets", "output directory")
	verbose     = flag.Bool("v", false, "debug logging")
)

// Surface colours of the visual image.
var (
	colorGrass  = color.RGBA{40, 110, 40, 255}
	colorTarmac = color.RGBA{80, 80, 80, 255}
	colorKerb   = color.RGBA{230, 230, 230, 255}
	colorStart  = color.RGBA{255, 0, 0, 255}
	colorWall   = color.RGBA{0, 0, 0, 255}
	colorOpen   = color.RGBA{255, 255, 255, 255}
)

// ellipse is a track band between inner*r and r along the ellipse with radii
// rx, ry centred at (cx, cy).
type ellipse struct {
	cx, cy, rx, ry float64
	inner          float64
}

// radial returns the normalised radius of (x, y): 1 on the outer edge.
func (e ellipse) radial(x, y float64) float64 {
	dx := (x - e.cx) / e.rx
	dy := (y - e.cy) / e.ry
	return math.Sqrt(dx*dx + dy*dy)
}

func (e ellipse) open(x, y float64) bool {
	r := e.radial(x, y)
	return r >= e.inner && r <= 1
}

// at returns the point at parameter t and normalised radius r. t = -pi/2 is
// the top of the track; increasing t runs clockwise on screen.
func (e ellipse) at(t, r float64) config.Point {
	return config.Point{
		X: round2(e.cx + r*e.rx*math.Cos(t)),
		Y: round2(e.cy + r*e.ry*math.Sin(t)),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func newEllipse(kind string, w, h int, inner float64) (ellipse, error) {
	if inner <= 0 || inner >= 1 {
		return ellipse{}, fmt.Errorf("inner must be in (0, 1), got %g", inner)
	}
	e := ellipse{cx: float64(w) / 2, cy: float64(h) / 2, inner: inner}
	margin := 0.125 * math.Min(float64(w), float64(h))
	switch kind {
	case "oval":
		e.rx = float64(w)/2 - margin
		e.ry = float64(h)/2 - margin
	case "ring":
		e.rx = math.Min(float64(w), float64(h))/2 - margin
		e.ry = e.rx
	default:
		return ellipse{}, fmt.Errorf("unknown shape %q", kind)
	}
	return e, nil
}

// trackConfig places the finish line at the top of the track, the other
// checkpoints evenly around it in driving order, and the start 30 px
// behind the finish line facing along the straight.
func (e ellipse) trackConfig(name string, w, h, n int) config.TrackConfig {
	cps := make([]config.CheckpointConfig, n)
	for i := range cps {
		t := -math.Pi/2 + 2*math.Pi*float64(i)/float64(n)
		cps[i] = config.CheckpointConfig{Start: e.at(t, e.inner), End: e.at(t, 1)}
	}
	mid := (e.inner + 1) / 2
	return config.TrackConfig{
		Name:           name,
		Width:          w,
		Height:         h,
		Image:          name + ".png",
		Mask:           name + "_mask.png",
		Start:          config.Point{X: e.cx - 30, Y: round2(e.cy - mid*e.ry)},
		StartAngle:     0,
		FinishLineSide: "right",
		Checkpoints:    cps,
	}
}

func (e ellipse) mask(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := colorWall
			if e.open(float64(x)+0.5, float64(y)+0.5) {
				c = colorOpen
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func (e ellipse) visual(w, h int, finish config.CheckpointConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx, fy := float64(x)+0.5, float64(y)+0.5
			r := e.radial(fx, fy)
			c := colorGrass
			switch {
			case !e.open(fx, fy):
			case r-e.inner < 0.01 || 1-r < 0.01:
				c = colorKerb
			case fy < e.cy && math.Abs(fx-finish.Start.X) < 3:
				c = colorStart
			default:
				c = colorTarmac
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func run() error {
	if *name == "" {
		*name = *shape
	}
	if *checkpoints < 3 {
		return fmt.Errorf("need at least 3 checkpoints, got %d", *checkpoints)
	}
	e, err := newEllipse(*shape, *width, *height, *inner)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	tc := e.trackConfig(*name, *width, *height, *checkpoints)
	if err := writePNG(filepath.Join(*outDir, tc.Mask), e.mask(*width, *height)); err != nil {
		return err
	}
	if err := writePNG(filepath.Join(*outDir, tc.Image), e.visual(*width, *height, tc.Checkpoints[0])); err != nil {
		return err
	}

	cfg := config.Config{
		Tracks: []config.TrackConfig{tc},
		Session: config.SessionConfig{
			Stages: []config.StageConfig{{Track: tc.Name, Laps: *laps}},
		},
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	cfgPath := filepath.Join(*outDir, tc.Name+".json")
	if err := os.WriteFile(cfgPath, append(data, '\n'), 0o644); err != nil {
		return err
	}

	slog.Info("track generated", "name", tc.Name, "shape", *shape, "config", cfgPath)
	return nil
}

func main() {
	flag.Parse()
	monitoring.Setup(os.Stderr, *verbose)

	if err := run(); err != nil {
		slog.Error("gen-track failed", "error", err)
		os.Exit(1)
	}
}
