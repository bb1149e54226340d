package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"racetrack/internal/common"
	"racetrack/internal/track"
)

func ringTrack(t *testing.T) *track.Track {
	t.Helper()
	mask := track.NewMask(400, 400, func(x, y int) bool {
		d := math.Hypot(float64(x)+0.5-200, float64(y)+0.5-200)
		return d < 100 || d > 150
	})
	// Finish line across the right-hand side of the ring.
	tr, err := track.NewTrack(track.Definition{
		Name:   "ring",
		Width:  400,
		Height: 400,
		Start:  common.Vec2{X: 200, Y: 75},
		Checkpoints: []track.Checkpoint{
			{Start: common.Vec2{X: 300, Y: 200}, End: common.Vec2{X: 350, Y: 200}},
		},
	}, mask)
	require.NoError(t, err)
	return tr
}

func TestSampleCheckpoints(t *testing.T) {
	tr := ringTrack(t)
	res := track.ExtractCenterline(tr, tr.Width, tr.Height, tr.Start, track.ExtractOptions{})
	require.True(t, res.Closed)
	cl := track.NewCenterline(res.Checkpoints, tr.Width, tr.Height)

	cps := sampleCheckpoints(cl, tr, 5)
	require.NotEmpty(t, cps)
	assert.LessOrEqual(t, len(cps), (cl.Len()+4)/5)

	finish := tr.Checkpoints[0].Midpoint()
	assert.Less(t, cps[0].Midpoint().Dist(finish), track.DefaultSpacing, "export starts at the finish line")
	for i, cp := range cps {
		assert.True(t, track.ValidateCheckpoint(tr, cp), "checkpoint %d", i)
	}

	all := sampleCheckpoints(cl, tr, 0)
	assert.Len(t, all, cl.Len(), "n < 1 exports every sample")
}

func TestWriteCheckpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cps.json")
	cps := []track.Checkpoint{{Start: common.Vec2{X: 1, Y: 2}, End: common.Vec2{X: 3, Y: 4}}}
	require.NoError(t, writeCheckpoints(path, cps))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := track.ImportCheckpoints(f)
	require.NoError(t, err)
	assert.Equal(t, cps, got)
}
