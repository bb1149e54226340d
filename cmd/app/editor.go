package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"racetrack/internal/common"
	"racetrack/internal/config"
	"racetrack/internal/store"
	"racetrack/internal/track"
)

// editor places checkpoints by snapping clicks to the extracted centerline.
// The centerline is extracted in the background; until it arrives clicks
// are ignored.
type editor struct {
	ctx   context.Context
	st    *store.Store
	cfg   *config.Config
	track *track.Track

	line        atomic.Pointer[extracted]
	checkpoints []track.Checkpoint
	status      string
}

// extracted pairs a centerline with the track it belongs to, so a result
// arriving after a track switch is ignored.
type extracted struct {
	track *track.Track
	line  *track.Centerline
}

func newEditor(ctx context.Context, st *store.Store, cfg *config.Config, t *track.Track) *editor {
	e := &editor{ctx: ctx, st: st, cfg: cfg}
	e.load(t)
	return e
}

// load switches the editor to t and starts extracting its centerline.
func (e *editor) load(t *track.Track) {
	e.track = t
	e.checkpoints = append([]track.Checkpoint(nil), t.Checkpoints...)
	e.status = ""

	go func() {
		res, cached, err := e.st.Extract(e.ctx, t, t.Start, extractOptions(e.cfg, t))
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("centerline extraction failed", "track", t.Name, "error", err)
			}
			return
		}
		slog.Debug("editor centerline ready", "track", t.Name, "samples", len(res.Checkpoints), "cached", cached)
		e.line.Store(&extracted{track: t, line: track.NewCenterline(res.Checkpoints, t.Width, t.Height)})
	}()
}

// centerline returns the current track's centerline, nil while it is
// still being extracted.
func (e *editor) centerline() *track.Centerline {
	if x := e.line.Load(); x != nil && x.track == e.track {
		return x.line
	}
	return nil
}

func (e *editor) exportPath() string {
	return filepath.Join(filepath.Dir(e.cfg.GetStorePath()), e.track.Name+"_checkpoints.json")
}

func (e *editor) update(g *Game) error {
	v := fitView(e.track.Width, e.track.Height)
	cx, cy := ebiten.CursorPosition()
	cursor := v.toWorld(cx, cy)

	switch {
	case inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft):
		e.add(cursor)
	case inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonRight):
		if i := track.NearestCheckpoint(cursor, e.checkpoints, e.cfg.GetSnapRadius()); i >= 0 {
			e.checkpoints = append(e.checkpoints[:i], e.checkpoints[i+1:]...)
			e.status = fmt.Sprintf("removed checkpoint %d", i)
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyBackspace):
		if n := len(e.checkpoints); n > 0 {
			e.checkpoints = e.checkpoints[:n-1]
			e.status = fmt.Sprintf("removed checkpoint %d", n-1)
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyE):
		e.export()
	case inpututil.IsKeyJustPressed(ebiten.KeyI):
		e.importFile()
	case inpututil.IsKeyJustPressed(ebiten.KeyTab):
		s := g.engine.Session
		if !s.NextStage() {
			s.SelectTrack(s.Stages[0].Track.Name)
		}
		if t := s.Stage().Track; t != e.track {
			e.load(t)
		}
	}
	return nil
}

// add snaps p to the centerline and appends the resulting checkpoint.
func (e *editor) add(p common.Vec2) {
	cl := e.centerline()
	if cl == nil {
		return
	}
	cp, ok := cl.Snap(p, e.cfg.GetSnapRadius())
	if !ok {
		e.status = "no centerline nearby"
		return
	}
	if !track.ValidateCheckpoint(e.track, cp) {
		e.status = "checkpoint ends in a wall"
		return
	}
	e.checkpoints = append(e.checkpoints, cp)
	e.status = fmt.Sprintf("added checkpoint %d", len(e.checkpoints)-1)
}

func (e *editor) export() {
	path := e.exportPath()
	if err := writeCheckpoints(path, e.checkpoints); err != nil {
		slog.Error("checkpoint export failed", "path", path, "error", err)
		e.status = "export failed"
		return
	}
	slog.Info("checkpoints exported", "track", e.track.Name, "path", path, "count", len(e.checkpoints))
	e.status = "exported to " + path
}

func (e *editor) importFile() {
	path := e.exportPath()
	cps, err := readCheckpoints(path)
	if err != nil {
		slog.Error("checkpoint import failed", "path", path, "error", err)
		e.status = "import failed"
		return
	}
	e.checkpoints = cps
	e.status = fmt.Sprintf("imported %d checkpoints", len(cps))
}

func (e *editor) draw(screen *ebiten.Image, v view) {
	cl := e.centerline()
	drawCenterline(screen, v, cl)

	for i, cp := range e.checkpoints {
		clr := ColorCheckpoint
		if i == 0 {
			clr = ColorFinishLine
		}
		v.line(screen, cp.Start, cp.End, 2, clr)
		x, y := v.toScreen(cp.Midpoint())
		ebitenutil.DebugPrintAt(screen, strconv.Itoa(i), int(x)+4, int(y)-8)
	}

	cx, cy := ebiten.CursorPosition()
	if cp, ok := cl.Snap(v.toWorld(cx, cy), e.cfg.GetSnapRadius()); ok {
		v.line(screen, cp.Start, cp.End, 1, ColorNextCheck)
	}

	vector.FillRect(screen, 0, 0, 260, 110, ColorPanel, true)
	msg := "CHECKPOINT EDITOR\n"
	msg += "-----------------\n"
	msg += fmt.Sprintf("Track:       %s\n", e.track.Name)
	msg += fmt.Sprintf("Checkpoints: %d\n", len(e.checkpoints))
	msg += "L/R click add/remove, Bksp undo\n"
	msg += "E export, I import, Tab track\n"
	if cl == nil {
		msg += "extracting centerline..."
	} else {
		msg += e.status
	}
	ebitenutil.DebugPrint(screen, msg)
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

func readCheckpoints(path string) ([]track.Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return track.ImportCheckpoints(f)
}
