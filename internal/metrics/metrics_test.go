package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseStats(t *testing.T) {
	var s PhaseStats
	assert.Zero(t, s.Loss())
	assert.Zero(t, s.Accuracy())

	s.Add(0.5, 3, 4, time.Millisecond)
	s.Add(0.25, 1, 4, time.Millisecond)
	assert.InDelta(t, 0.375, s.Loss(), 1e-12)
	assert.InDelta(t, 0.5, s.Accuracy(), 1e-12)
	assert.Equal(t, 2, s.Batches)
	assert.Equal(t, 2*time.Millisecond, s.Elapsed)

	h := NewHistory()
	require.NoError(t, s.Log(h.Phase("train"), 3))
	assert.Equal(t, []Point{{Step: 3, Value: 0.375}}, h.Series("train", "loss: "))
	assert.Equal(t, []Point{{Step: 3, Value: 0.5}}, h.Series("train", "accuracy: "))

	s.Reset()
	assert.Equal(t, PhaseStats{}, s)
}

func TestCountCorrect(t *testing.T) {
	assert.Equal(t, 2, CountCorrect([]int{1, 0, 2}, []int64{1, 1, 2}))
}

func TestClassTally(t *testing.T) {
	tally := NewClassTally([]string{"0", "1", "2"})
	tally.Add([]int{0, 0, 1, 1}, []int64{0, 1, 1, 1})

	rows := tally.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, 100.0, rows[0].Percent())
	assert.InDelta(t, 66.67, rows[1].Percent(), 0.01)
	assert.Equal(t, "Accuracy of     1 : 66 %", rows[1].String())

	// no samples of class 2
	assert.False(t, rows[2].Defined())
	assert.Equal(t, 0.0, rows[2].Percent())
	assert.Equal(t, "Accuracy of     2 :  0 %", rows[2].String())
}

type failing struct{ calls int }

func (f *failing) ScalarSummary(string, float64, int) error {
	f.calls++
	return errors.New("disk full")
}

func TestMultiForwardsToAll(t *testing.T) {
	h := NewHistory()
	bad := &failing{}
	m := Multi{bad, nil, h.Phase("test")}

	err := m.ScalarSummary("loss: ", 1.5, 0)
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, bad.calls)
	assert.Len(t, h.Series("test", "loss: "), 1)
}

func TestPlotAll(t *testing.T) {
	h := NewHistory()
	for epoch := 0; epoch < 3; epoch++ {
		for _, phase := range []string{"train", "test"} {
			l := h.Phase(phase)
			require.NoError(t, l.ScalarSummary("loss: ", 1/float64(epoch+1), epoch))
			require.NoError(t, l.ScalarSummary("accuracy: ", float64(epoch)/3, epoch))
		}
	}
	assert.Equal(t, []string{"test", "train"}, h.Phases())

	dir := t.TempDir()
	require.NoError(t, h.PlotAll(dir))
	for _, name := range []string{"loss.png", "accuracy.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}
