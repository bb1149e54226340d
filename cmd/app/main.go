// Command app is the interactive front-end: it drives a session on the
// configured tracks with the keyboard, the Q-learning agent or a remote
// WebSocket controller, and hosts the checkpoint editor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"golang.org/x/sync/errgroup"

	"racetrack/internal/agent"
	"racetrack/internal/common"
	"racetrack/internal/config"
	"racetrack/internal/monitoring"
	"racetrack/internal/physics"
	"racetrack/internal/race"
	"racetrack/internal/remote"
	"racetrack/internal/store"
	"racetrack/internal/track"
)

// Render window dimensions
const (
	WindowWidth  = 1200
	WindowHeight = 800
)

// Simulation settings
const (
	TrainingSpeedMultiplier = 1000 // ticks per frame in fast AI mode
	ViewScaleMargin         = 0.95 // margin for fitting the track in the window
	TraceEvery              = 5    // ticks between lap trace samples
)

// Mode selects who drives.
type Mode string

const (
	ModePlayer Mode = "player"
	ModeAI     Mode = "ai"
	ModeRemote Mode = "remote"
	ModeEditor Mode = "editor"
)

var (
	configPath = flag.String("config", "config/tracks.json", "configuration file")
	mode       = flag.String("mode", string(ModePlayer), "player, ai, remote or editor")
	noStore    = flag.Bool("no-store", false, "do not cache centerlines or record lap times")
	seed       = flag.Int64("seed", time.Now().UnixNano(), "agent random seed")
	verbose    = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()
	monitoring.Setup(os.Stderr, *verbose)

	if err := run(); err != nil {
		slog.Error("app failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	m := Mode(*mode)
	switch m {
	case ModePlayer, ModeAI, ModeRemote, ModeEditor:
	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if m != ModeEditor {
		if err := cfg.ValidateRace(); err != nil {
			return err
		}
	}
	tracks, err := loadTracks(ctx, cfg)
	if err != nil {
		return err
	}

	var st *store.Store
	if !*noStore {
		if st, err = store.Open(cfg.GetStorePath()); err != nil {
			return err
		}
		defer st.Close()
	}

	setups := make([]race.StageSetup, 0, len(cfg.Stages()))
	for _, s := range cfg.Stages() {
		setups = append(setups, race.StageSetup{Track: tracks[s.Track], Laps: s.Laps})
	}
	session, err := race.NewSession(physics.TuningFromConfig(cfg.Car(cfg.Session.Car)), setups...)
	if err != nil {
		return err
	}
	engine := race.NewEngine(session)
	engine.Sensor = physics.Sensor{Length: cfg.GetRayLength(), SideAngle: cfg.GetSideRayAngle()}
	engine.AutoAdvance = cfg.Session.AutoAdvance

	if st != nil && m != ModeEditor {
		if err := st.CreateSession(ctx, session.ID, session.Car.Tuning.Name); err != nil {
			return err
		}
		engine.OnLap = func(rec race.LapRecord) {
			if _, err := st.RecordLap(ctx, session.ID, rec); err != nil {
				slog.Warn("lap not recorded", "error", err)
			}
		}
	}

	g := newGame(m, engine, tracks)

	switch m {
	case ModeAI:
		lines, err := extractAll(ctx, st, cfg, tracks)
		if err != nil {
			return err
		}
		g.lines = lines
		g.driver = agent.NewDriver(agent.NewAgent(agent.DefaultParams, *seed))
		g.fast = true
		// Training wraps stages itself once a stage is complete.
		engine.AutoAdvance = false
	case ModeRemote:
		g.hub = remote.NewHub()
		srv := &http.Server{Addr: cfg.GetRemoteAddr(), Handler: remoteMux(g.hub)}
		go func() {
			slog.Info("remote bridge listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("remote bridge stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	case ModeEditor:
		g.editor = newEditor(ctx, st, cfg, session.Stage().Track)
	}

	go func() {
		<-ctx.Done()
		g.quit.Store(true)
	}()

	ebiten.SetWindowSize(WindowWidth, WindowHeight)
	ebiten.SetWindowTitle("Racetrack - " + string(m))
	if err := ebiten.RunGame(g); err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}

	times := session.Times()
	for _, s := range times.Stages {
		slog.Info("stage times", "track", s.Track, "laps", len(s.Laps), "total", s.Total)
	}
	return nil
}

// loadTracks loads every track used by the session concurrently.
func loadTracks(ctx context.Context, cfg *config.Config) (map[string]*track.Track, error) {
	var names []string
	seen := make(map[string]bool)
	for _, s := range cfg.Stages() {
		if !seen[s.Track] {
			seen[s.Track] = true
			names = append(names, s.Track)
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	loaded := make([]*track.Track, len(names))
	for i, name := range names {
		tc, _ := cfg.Track(name)
		eg.Go(func() error {
			t, err := track.Load(ctx, track.DefinitionFromConfig(tc))
			loaded[i] = t
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	tracks := make(map[string]*track.Track, len(loaded))
	for _, t := range loaded {
		tracks[t.Name] = t
	}
	return tracks, nil
}

// extractAll precomputes the centerline of every track, from the store's
// cache when possible.
func extractAll(ctx context.Context, st *store.Store, cfg *config.Config, tracks map[string]*track.Track) (map[string]*track.Centerline, error) {
	ordered := make([]*track.Track, 0, len(tracks))
	for _, t := range tracks {
		ordered = append(ordered, t)
	}

	eg, ctx := errgroup.WithContext(ctx)
	lines := make([]*track.Centerline, len(ordered))
	for i, t := range ordered {
		eg.Go(func() error {
			res, _, err := st.Extract(ctx, t, t.Start, extractOptions(cfg, t))
			if err != nil {
				return err
			}
			if !res.Closed {
				slog.Warn("centerline did not close", "track", t.Name, "stop", res.StopReason)
			}
			lines[i] = track.NewCenterline(res.Checkpoints, t.Width, t.Height)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*track.Centerline, len(ordered))
	for i, t := range ordered {
		out[t.Name] = lines[i]
	}
	return out, nil
}

func extractOptions(cfg *config.Config, t *track.Track) track.ExtractOptions {
	return track.ExtractOptions{
		Spacing:         cfg.GetSpacing(),
		MaxAttempts:     cfg.GetMaxAttempts(),
		MaxEdgeDistance: cfg.GetMaxEdgeDistance(),
		InitialHeading:  common.FromDegrees(t.StartAngle),
	}
}

func remoteMux(h *remote.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok %d\n", h.Clients())
	})
	return mux
}
