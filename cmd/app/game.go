package main

import (
	"fmt"
	"image/color"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"racetrack/internal/agent"
	"racetrack/internal/common"
	"racetrack/internal/physics"
	"racetrack/internal/race"
	"racetrack/internal/remote"
	"racetrack/internal/track"
)

// tickDuration is the simulated time of one engine tick.
const tickDuration = time.Second / ebiten.DefaultTPS

// Track surface colors, used when a track has no visual image
var (
	ColorTarmac = color.RGBA{80, 80, 80, 255}
	ColorWall   = color.RGBA{20, 20, 20, 255}
)

// Visualization colors
var (
	ColorCenterline  = color.RGBA{50, 155, 50, 40}
	ColorCheckpoint  = color.RGBA{255, 255, 255, 90}
	ColorNextCheck   = color.RGBA{255, 255, 0, 220}
	ColorFinishLine  = color.RGBA{255, 0, 0, 255}
	ColorCar         = color.RGBA{255, 0, 0, 255}
	ColorCarCrashed  = color.RGBA{255, 140, 0, 255}
	ColorCarHeading  = color.RGBA{255, 255, 0, 255}
	ColorRay         = color.RGBA{0, 200, 255, 160}
	ColorBestLap     = color.RGBA{50, 255, 50, 150}
	ColorCurrentLap  = color.RGBA{255, 255, 0, 200}
	ColorLapHistory1 = color.RGBA{255, 0, 255, 255} // most recent
	ColorLapHistory2 = color.RGBA{190, 0, 190, 150}
	ColorLapHistory3 = color.RGBA{130, 0, 130, 70}
	ColorLapHistory4 = color.RGBA{70, 0, 70, 20}
	ColorPanel       = color.RGBA{0, 0, 0, 180}
)

var traceColors = []color.RGBA{
	ColorLapHistory1,
	ColorLapHistory2,
	ColorLapHistory3,
	ColorLapHistory4,
}

// view maps track coordinates to the window, fitting the track with a margin.
type view struct {
	scale, offX, offY float32
}

func fitView(width, height int) view {
	winW, winH := float32(WindowWidth), float32(WindowHeight)
	scale := min(winW/float32(width), winH/float32(height)) * ViewScaleMargin
	return view{
		scale: scale,
		offX:  (winW - float32(width)*scale) / 2,
		offY:  (winH - float32(height)*scale) / 2,
	}
}

func (v view) toScreen(p common.Vec2) (float32, float32) {
	return float32(p.X)*v.scale + v.offX, float32(p.Y)*v.scale + v.offY
}

func (v view) toWorld(x, y int) common.Vec2 {
	return common.Vec2{
		X: float64((float32(x) - v.offX) / v.scale),
		Y: float64((float32(y) - v.offY) / v.scale),
	}
}

func (v view) line(dst *ebiten.Image, a, b common.Vec2, width float32, clr color.Color) {
	x0, y0 := v.toScreen(a)
	x1, y1 := v.toScreen(b)
	vector.StrokeLine(dst, x0, y0, x1, y1, width, clr, true)
}

func (v view) path(dst *ebiten.Image, pts []common.Vec2, width float32, clr color.Color) {
	for j := 0; j+1 < len(pts); j++ {
		v.line(dst, pts[j], pts[j+1], width, clr)
	}
}

type Game struct {
	mode   Mode
	engine *race.Engine
	images map[string]*ebiten.Image
	quit   atomic.Bool

	driver *agent.Driver
	lines  map[string]*track.Centerline
	fast   bool // AI fast forward

	hub    *remote.Hub
	editor *editor

	lastEv race.Event
	ticks  int
	stage  int

	// Analytics & Visuals
	CurrentLapPath []common.Vec2
	LapHistory     [][]common.Vec2 // last 4 laps, most recent first
	BestLapPath    []common.Vec2
	BestLapTime    time.Duration
	NumLaps        int
}

func newGame(m Mode, e *race.Engine, tracks map[string]*track.Track) *Game {
	g := &Game{
		mode:   m,
		engine: e,
		images: make(map[string]*ebiten.Image, len(tracks)),
	}
	for name, t := range tracks {
		if t.Image != nil {
			g.images[name] = ebiten.NewImageFromImage(t.Image)
		} else {
			g.images[name] = renderMask(t.Mask)
		}
	}
	return g
}

// renderMask draws the collision mask for tracks without a visual image.
func renderMask(m *track.Mask) *ebiten.Image {
	img := ebiten.NewImage(m.Width, m.Height)
	pixels := make([]byte, m.Width*m.Height*4)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := ColorWall
			if m.Open(x, y) {
				c = ColorTarmac
			}
			idx := (y*m.Width + x) * 4
			pixels[idx] = c.R
			pixels[idx+1] = c.G
			pixels[idx+2] = c.B
			pixels[idx+3] = 255
		}
	}
	img.WritePixels(pixels)
	return img
}

func (g *Game) Update() error {
	if g.quit.Load() || inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	if g.mode == ModeEditor {
		return g.editor.update(g)
	}

	ticks := 1
	switch g.mode {
	case ModeAI:
		if inpututil.IsKeyJustPressed(ebiten.KeyS) {
			g.fast = !g.fast
		}
		if g.fast {
			ticks = TrainingSpeedMultiplier
		}
	case ModePlayer:
		g.stageKeys()
	}

	for i := 0; i < ticks; i++ {
		g.tick()
	}
	return nil
}

// stageKeys maps N, P and Enter to session commands.
func (g *Game) stageKeys() {
	var cmd race.CommandType
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyN):
		cmd = race.CommandNextStage
	case inpututil.IsKeyJustPressed(ebiten.KeyP):
		cmd = race.CommandPreviousStage
	case inpututil.IsKeyJustPressed(ebiten.KeyEnter):
		cmd = race.CommandStartStage
	default:
		return
	}
	if err := g.engine.Apply(race.Command{Type: cmd}); err != nil {
		slog.Warn("command failed", "command", cmd, "error", err)
	}
}

func keyboardControls() race.Controls {
	pressed := func(keys ...ebiten.Key) bool {
		for _, k := range keys {
			if ebiten.IsKeyPressed(k) {
				return true
			}
		}
		return false
	}
	return race.Controls{
		Forward:  pressed(ebiten.KeyArrowUp, ebiten.KeyW),
		Backward: pressed(ebiten.KeyArrowDown, ebiten.KeyS),
		Left:     pressed(ebiten.KeyArrowLeft, ebiten.KeyA),
		Right:    pressed(ebiten.KeyArrowRight, ebiten.KeyD),
		Brake:    pressed(ebiten.KeySpace),
		Restart:  inpututil.IsKeyJustPressed(ebiten.KeyR),
	}
}

func (g *Game) tick() {
	s := g.engine.Session

	var c race.Controls
	switch g.mode {
	case ModePlayer:
		c = keyboardControls()
	case ModeAI:
		c = g.driver.Step(g.engine.Snapshot(), g.lateral(), g.lastEv)
	case ModeRemote:
		for _, cmd := range g.hub.Commands() {
			if err := g.engine.Apply(cmd); err != nil {
				slog.Warn("remote command rejected", "command", cmd.Type, "error", err)
			}
		}
		c = g.hub.Controls()
	}

	ev := g.engine.Tick(c, tickDuration)
	g.lastEv = ev
	g.record(c.Restart, ev)

	switch g.mode {
	case ModeRemote:
		g.hub.Publish(g.engine.Snapshot())
	case ModeAI:
		if s.IsStageCompleted() {
			// Keep training: move on, wrapping to the first stage, and start
			// the stage afresh.
			if !s.NextStage() {
				s.SelectTrack(s.Stages[0].Track.Name)
			}
			s.StartStage()
		}
	}
}

// lateral is the car's signed offset from the centerline of the current
// track, 0 when none was extracted.
func (g *Game) lateral() float64 {
	s := g.engine.Session
	cl := g.lines[s.Stage().Track.Name]
	_, d, ok := cl.WorldToFrenet(s.Car.Position)
	if !ok {
		return 0
	}
	return d
}

// record keeps the lap traces up to date.
func (g *Game) record(restart bool, ev race.Event) {
	s := g.engine.Session
	if restart || g.stage != s.StageIndex() {
		g.stage = s.StageIndex()
		g.CurrentLapPath = g.CurrentLapPath[:0]
		return
	}

	g.ticks++
	if g.ticks%TraceEvery == 0 {
		g.CurrentLapPath = append(g.CurrentLapPath, s.Car.Position)
	}
	if ev != race.EventLap && ev != race.EventStageComplete {
		return
	}

	g.NumLaps++
	lap := s.Stage().LastLap
	path := append([]common.Vec2(nil), g.CurrentLapPath...)
	if g.BestLapTime == 0 || lap < g.BestLapTime {
		g.BestLapTime = lap
		g.BestLapPath = path
	}
	g.LapHistory = append([][]common.Vec2{path}, g.LapHistory...)
	if len(g.LapHistory) > len(traceColors) {
		g.LapHistory = g.LapHistory[:len(traceColors)]
	}
	g.CurrentLapPath = g.CurrentLapPath[:0]
}

func (g *Game) Draw(screen *ebiten.Image) {
	s := g.engine.Session
	t := s.Stage().Track
	v := fitView(t.Width, t.Height)

	if img := g.images[t.Name]; img != nil {
		op := &ebiten.DrawImageOptions{}
		op.GeoM.Scale(float64(v.scale), float64(v.scale))
		op.GeoM.Translate(float64(v.offX), float64(v.offY))
		screen.DrawImage(img, op)
	}

	if g.mode == ModeEditor {
		g.editor.draw(screen, v)
		return
	}

	drawCenterline(screen, v, g.lines[t.Name])

	progress := s.Stage().Progress
	for i, cp := range t.Checkpoints {
		clr := ColorCheckpoint
		switch {
		case i == 0:
			clr = ColorFinishLine
		case i == progress.Current:
			clr = ColorNextCheck
		}
		v.line(screen, cp.Start, cp.End, 2, clr)
	}

	if len(g.BestLapPath) > 1 {
		v.path(screen, g.BestLapPath, 3, ColorBestLap)
	}
	for i, p := range g.LapHistory {
		v.path(screen, p, 2, traceColors[i])
	}
	v.path(screen, g.CurrentLapPath, 2, ColorCurrentLap)

	g.drawCar(screen, v)
	g.drawHUD(screen)
}

func drawCenterline(screen *ebiten.Image, v view, cl *track.Centerline) {
	if cl == nil {
		return
	}
	for _, p := range cl.Points {
		v.line(screen, p.Left, p.Right, 1, ColorCenterline)
	}
}

func (g *Game) drawCar(screen *ebiten.Image, v view) {
	car := g.engine.Session.Car

	sensor := g.engine.Sensor
	for i, angle := range []float64{car.Angle, car.Angle - sensor.SideAngle, car.Angle + sensor.SideAngle} {
		if i >= len(car.Rays) {
			break
		}
		v.line(screen, car.Position, track.RayEnd(car.Position, angle, car.Rays[i]), 1, ColorRay)
	}

	// Corners come rear-left, front-left, rear-right, front-right.
	corners := physics.Corners(car.Position, car.HalfWidth(), car.HalfHeight(), car.Angle)
	var path vector.Path
	for i, idx := range []int{0, 1, 3, 2} {
		sx, sy := v.toScreen(corners[idx])
		if i == 0 {
			path.MoveTo(sx, sy)
		} else {
			path.LineTo(sx, sy)
		}
	}
	path.Close()

	clr := ColorCar
	if car.HasCollision {
		clr = ColorCarCrashed
	}
	var cs ebiten.ColorScale
	cs.ScaleWithColor(clr)
	vector.FillPath(screen, &path, nil, &vector.DrawPathOptions{
		AntiAlias:  true,
		ColorScale: cs,
	})

	tip := car.Position.Add(common.FromDegrees(car.Angle).Scale(car.HalfHeight() + 5))
	v.line(screen, car.Position, tip, 2, ColorCarHeading)
}

func (g *Game) drawHUD(screen *ebiten.Image) {
	s := g.engine.Session
	snap := g.engine.Snapshot()

	vector.FillRect(screen, 0, 0, 190, 230, ColorPanel, true)

	msg := "STATUS MONITOR\n"
	msg += "----------------\n"
	msg += fmt.Sprintf("Mode:    %s\n", g.mode)
	msg += fmt.Sprintf("Track:   %s (%d/%d)\n", snap.Track.Name, s.StageIndex()+1, len(s.Stages))
	msg += fmt.Sprintf("Speed:   %.1f km/h\n", snap.Car.Speed)
	msg += fmt.Sprintf("Check:   %d/%d\n", snap.Track.CurrentCheckpoint, snap.Track.TotalCheckpoints)
	if target := s.Stage().Progress.TargetLaps; target > 0 {
		msg += fmt.Sprintf("Laps:    %d/%d\n", snap.Track.CompletedLaps, target)
	} else {
		msg += fmt.Sprintf("Laps:    %d\n", snap.Track.CompletedLaps)
	}
	msg += fmt.Sprintf("Current: %.2fs\n", snap.Track.LapTime)
	msg += fmt.Sprintf("Last:    %.2fs\n", snap.Track.LastLapTime)
	msg += fmt.Sprintf("Best:    %.2fs\n", g.BestLapTime.Seconds())

	switch {
	case snap.Session.Completed:
		msg += "[SESSION COMPLETE]\n"
	case snap.Stage.Completed:
		msg += "[STAGE COMPLETE]\n"
	case snap.Car.HasCollision:
		msg += "[CRASHED]\n"
	}

	switch g.mode {
	case ModePlayer:
		msg += "\nArrows/WASD drive\nSpace brake, R restart\nN/P stage, Enter start"
	case ModeAI:
		if g.fast {
			msg += "\n[High speed]"
		} else {
			msg += "\n[Real-time speed]"
		}
		msg += "\nS = toggle speed"
	case ModeRemote:
		msg += fmt.Sprintf("\nControllers: %d", g.hub.Clients())
	}
	ebitenutil.DebugPrint(screen, msg)

	if g.mode == ModeAI {
		panelW, panelH, padding := float32(170), float32(90), float32(10)
		x := float32(WindowWidth) - panelW - padding
		vector.FillRect(screen, x, 0, panelW, panelH, ColorPanel, true)

		specs := "AGENT PARAMS\n"
		specs += "------------\n"
		specs += g.driver.Agent.DebugInfoStr()
		specs += fmt.Sprintf("\nEpisodes: %d", g.driver.Episodes)
		ebitenutil.DebugPrintAt(screen, specs, int(x)+10, int(padding))
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (screenWidth, screenHeight int) {
	return WindowWidth, WindowHeight
}
