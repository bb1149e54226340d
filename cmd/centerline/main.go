// Command centerline precomputes a track's centerline, reports its width
// statistics and exports checkpoints derived from it.
//
// Extractions are cached in the store keyed by the mask digest, so re-running
// on an unchanged mask is instant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"racetrack/internal/common"
	"racetrack/internal/config"
	"racetrack/internal/monitoring"
	"racetrack/internal/report"
	"racetrack/internal/store"
	"racetrack/internal/track"
)

var (
	configPath = flag.String("config", "config/tracks.json", "configuration file")
	trackName  = flag.String("track", "", "track to process (defaults to the first)")
	noCache    = flag.Bool("no-cache", false, "skip the centerline cache")
	plotPath   = flag.String("plot", "", "write a PNG plot of the centerline here")
	exportPath = flag.String("export", "", "write checkpoints derived from the centerline here")
	every      = flag.Int("every", 5, "export every n-th centerline sample")
	minWidth   = flag.Float64("min-width", 0, "report samples narrower than this")
	snapAt     = flag.String("snap", "", "print the checkpoint snapped to the point \"x,y\"")
	verbose    = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()
	monitoring.Setup(os.Stderr, *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("centerline failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	tc := cfg.Tracks[0]
	if *trackName != "" {
		var ok bool
		if tc, ok = cfg.Track(*trackName); !ok {
			return fmt.Errorf("unknown track %q", *trackName)
		}
	}

	t, err := track.Load(ctx, track.DefinitionFromConfig(tc))
	if err != nil {
		return err
	}

	var st *store.Store
	if !*noCache {
		if st, err = store.Open(cfg.GetStorePath()); err != nil {
			return err
		}
		defer st.Close()
	}

	res, cached, err := st.Extract(ctx, t, t.Start, extractOptions(cfg, t))
	if err != nil {
		return err
	}
	if len(res.Checkpoints) == 0 {
		return fmt.Errorf("extraction failed: %s", res.StopReason)
	}
	if !res.Closed {
		slog.Warn("centerline did not close", "stop", res.StopReason, "samples", len(res.Checkpoints))
	}

	cl := track.NewCenterline(res.Checkpoints, t.Width, t.Height)
	stats := report.Summarize(cl.Points)
	fmt.Printf("%s: %s (cached=%t closed=%t attempts=%d)\n", t.Name, stats, cached, res.Closed, res.Attempts)
	if *minWidth > 0 {
		narrow := report.Narrow(cl.Points, *minWidth)
		for _, i := range narrow {
			p := cl.Points[i]
			fmt.Printf("  narrow %s at (%.1f, %.1f): %.2f\n", p.ID, p.Center.X, p.Center.Y, p.Width)
		}
	}

	if *plotPath != "" {
		if err := report.SavePNG(*plotPath, t.Name, cl.Points, t.Width, t.Height); err != nil {
			return err
		}
		slog.Info("plot written", "path", *plotPath)
	}

	if *snapAt != "" {
		var p common.Vec2
		if _, err := fmt.Sscanf(*snapAt, "%g,%g", &p.X, &p.Y); err != nil {
			return fmt.Errorf("parse -snap %q: %w", *snapAt, err)
		}
		cp, ok := cl.Snap(p, cfg.GetSnapRadius())
		if !ok {
			return fmt.Errorf("no centerline sample within %g of (%g, %g)", cfg.GetSnapRadius(), p.X, p.Y)
		}
		if err := track.ExportCheckpoints(os.Stdout, []track.Checkpoint{cp}); err != nil {
			return err
		}
	}

	if *exportPath != "" {
		cps := sampleCheckpoints(cl, t, *every)
		if err := writeCheckpoints(*exportPath, cps); err != nil {
			return err
		}
		slog.Info("checkpoints exported", "path", *exportPath, "count", len(cps))
	}
	return nil
}

func extractOptions(cfg *config.Config, t *track.Track) track.ExtractOptions {
	return track.ExtractOptions{
		Spacing:         cfg.GetSpacing(),
		MaxAttempts:     cfg.GetMaxAttempts(),
		MaxEdgeDistance: cfg.GetMaxEdgeDistance(),
		InitialHeading:  common.FromDegrees(t.StartAngle),
	}
}

// sampleCheckpoints turns every n-th sample into a checkpoint line, starting
// at the sample nearest the track's configured finish line so index 0 stays
// the finish line. Lines with a blocked endpoint are dropped.
func sampleCheckpoints(cl *track.Centerline, t *track.Track, n int) []track.Checkpoint {
	if n < 1 {
		n = 1
	}
	first := 0
	if len(t.Checkpoints) > 0 {
		if nearest, ok := cl.FindNearest(t.Checkpoints[0].Midpoint(), t.Checkpoints[0].Length()); ok {
			for i, p := range cl.Points {
				if p.ID == nearest.ID {
					first = i
					break
				}
			}
		}
	}

	var cps []track.Checkpoint
	for k := 0; k < len(cl.Points); k += n {
		cp := cl.Points[(first+k)%len(cl.Points)].Checkpoint()
		if !track.ValidateCheckpoint(t, cp) {
			continue
		}
		cps = append(cps, cp)
	}
	return cps
}

func writeCheckpoints(path string, cps []track.Checkpoint) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return track.ExportCheckpoints(f, cps)
}
