package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"racetrack/internal/common"
	"racetrack/internal/physics"
	"racetrack/internal/track"
)

func TestNewEllipse(t *testing.T) {
	_, err := newEllipse("square", 100, 100, 0.6)
	assert.Error(t, err)
	_, err = newEllipse("oval", 100, 100, 1.2)
	assert.Error(t, err)

	ring, err := newEllipse("ring", 400, 300, 0.6)
	require.NoError(t, err)
	assert.Equal(t, ring.rx, ring.ry)
}

func TestGeneratedTrackIsDrivable(t *testing.T) {
	for _, kind := range []string{"oval", "ring"} {
		t.Run(kind, func(t *testing.T) {
			e, err := newEllipse(kind, 800, 600, 0.6)
			require.NoError(t, err)
			tc := e.trackConfig(kind, 800, 600, 16)

			tr, err := track.NewTrack(track.DefinitionFromConfig(tc), track.NewMaskFromImage(e.mask(800, 600)))
			require.NoError(t, err)

			car := physics.NewCar(physics.DefaultTuning, tr.Start, tr.StartAngle)
			assert.False(t, physics.WouldCollide(tr, car.Position, car.HalfWidth(), car.HalfHeight(), car.Angle),
				"start pose is clear")

			require.Len(t, tr.Checkpoints, 16)
			for i, cp := range tr.Checkpoints {
				assert.False(t, tr.IsBlocked(cp.Midpoint().X, cp.Midpoint().Y), "checkpoint %d midpoint", i)
			}

			// The finish line is ahead of the start along the heading.
			finish := tr.Checkpoints[0]
			ahead := tr.Start.Add(common.FromDegrees(tr.StartAngle).Scale(60))
			assert.Less(t, tr.Start.X, finish.Start.X)
			assert.Greater(t, ahead.X, finish.Start.X)
			assert.InDelta(t, finish.Start.X, finish.End.X, 0.01, "finish line is vertical")
		})
	}
}

func TestVisualMarksFinishLineOnce(t *testing.T) {
	e, err := newEllipse("oval", 800, 600, 0.6)
	require.NoError(t, err)
	tc := e.trackConfig("oval", 800, 600, 8)
	img := e.visual(800, 600, tc.Checkpoints[0])

	top := img.RGBAAt(400, int(tc.Start.Y))
	bottom := img.RGBAAt(400, 600-int(tc.Start.Y))
	assert.Equal(t, colorStart, top)
	assert.Equal(t, colorTarmac, bottom)
}
