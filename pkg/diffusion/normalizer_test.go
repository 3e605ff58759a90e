package diffusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeceomahoney/locodiff/pkg/dataset"
	"github.com/reeceomahoney/locodiff/pkg/nn"
)

func testStats() dataset.Stats {
	return dataset.Stats{
		ObsMean: []float64{1, -2},
		ObsStd:  []float64{2, 4},
		ObsMin:  []float64{-3, -10},
		ObsMax:  []float64{5, 6},

		OutMean: []float64{1, -2, 0.5},
		OutStd:  []float64{2, 4, 1},
		OutMin:  []float64{-3, -10, -1.5},
		OutMax:  []float64{5, 6, 2.5},
	}
}

func TestNewNormalizerRejectsUnknownMode(t *testing.T) {
	_, err := NewNormalizer(testStats(), "robust")
	assert.ErrorContains(t, err, "unknown scaling mode")
}

func TestGaussianRoundTrip(t *testing.T) {
	n, err := NewNormalizer(testStats(), ScalingGaussian)
	require.NoError(t, err)

	x := nn.FromSlice([]float64{3, 2, 1.5, -1, -6, 0.5}, 2, 3)
	y := n.ScaleOutput(x)

	// (3-1)/2, (2+2)/4, (1.5-0.5)/1
	assert.InDelta(t, 1, y.Data[0], 1e-12)
	assert.InDelta(t, 1, y.Data[1], 1e-12)
	assert.InDelta(t, 1, y.Data[2], 1e-12)

	back := n.InverseScaleOutput(y)
	for i := range x.Data {
		assert.InDelta(t, x.Data[i], back.Data[i], 1e-12)
	}
}

func TestMinMaxMapsRangeToUnitInterval(t *testing.T) {
	n, err := NewNormalizer(testStats(), ScalingMinMax)
	require.NoError(t, err)

	x := nn.FromSlice([]float64{-3, -10, 5, 6}, 2, 2)
	y := n.ScaleInput(x)

	assert.InDelta(t, -1, y.Data[0], 1e-12)
	assert.InDelta(t, -1, y.Data[1], 1e-12)
	assert.InDelta(t, 1, y.Data[2], 1e-12)
	assert.InDelta(t, 1, y.Data[3], 1e-12)

	back := n.InverseScaleInput(y)
	for i := range x.Data {
		assert.InDelta(t, x.Data[i], back.Data[i], 1e-12)
	}
}

func TestClipBoundsSamples(t *testing.T) {
	n, err := NewNormalizer(testStats(), ScalingMinMax)
	require.NoError(t, err)

	x := nn.FromSlice([]float64{-7, 0.5, 9}, 1, 3)
	y := n.Clip(x)

	assert.InDelta(t, -1, y.Data[0], 1e-12)
	assert.InDelta(t, 0.5, y.Data[1], 1e-12)
	assert.InDelta(t, 1, y.Data[2], 1e-12)
}

func TestClipGaussianUsesStandardizedBounds(t *testing.T) {
	n, err := NewNormalizer(testStats(), ScalingGaussian)
	require.NoError(t, err)

	// Column 0: standardized range is [(-3-1)/2, (5-1)/2] = [-2, 2].
	x := nn.FromSlice([]float64{-5, 0, 0, 5, 0, 0}, 2, 3)
	y := n.Clip(x)

	assert.InDelta(t, -2, y.Data[0], 1e-12)
	assert.InDelta(t, 2, y.Data[3], 1e-12)
}

func TestScalePos(t *testing.T) {
	n, err := NewNormalizer(testStats(), ScalingGaussian)
	require.NoError(t, err)

	pos := n.ScalePos([]float64{3, 2})
	assert.InDelta(t, 1, pos[0], 1e-12)
	assert.InDelta(t, 1, pos[1], 1e-12)
}

func TestZeroStdIsTreatedAsUnitScale(t *testing.T) {
	stats := testStats()
	stats.ObsStd = []float64{0, 0}
	n, err := NewNormalizer(stats, ScalingGaussian)
	require.NoError(t, err)

	x := nn.FromSlice([]float64{2, -1}, 1, 2)
	y := n.ScaleInput(x)
	assert.InDelta(t, 1, y.Data[0], 1e-12)
	assert.InDelta(t, 1, y.Data[1], 1e-12)
}
