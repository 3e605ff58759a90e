package diffusion

import (
	"fmt"

	"github.com/reeceomahoney/locodiff/pkg/dataset"
	"github.com/reeceomahoney/locodiff/pkg/nn"
)

// Scaling modes for the normalizer.
const (
	ScalingGaussian = "gaussian"
	ScalingMinMax   = "minmax"
)

// Normalizer scales observations (network conditioning input) and full
// obs+action trajectories (network output space) using dataset statistics.
// Gaussian mode standardizes to zero mean and unit variance, minmax maps the
// observed range to [-1, 1].
type Normalizer struct {
	scaling string
	stats   dataset.Stats
}

func NewNormalizer(stats dataset.Stats, scaling string) (*Normalizer, error) {
	switch scaling {
	case ScalingGaussian, ScalingMinMax:
	default:
		return nil, fmt.Errorf("diffusion: unknown scaling mode %q", scaling)
	}
	return &Normalizer{scaling: scaling, stats: stats}, nil
}

func (n *Normalizer) scale(x *nn.Tensor, mean, std, min, max []float64) *nn.Tensor {
	dim := len(mean)
	y := nn.New(x.Shape()...)
	for i := 0; i < x.Size(); i += dim {
		for j := 0; j < dim; j++ {
			v := x.Data[i+j]
			if n.scaling == ScalingGaussian {
				y.Data[i+j] = (v - mean[j]) / safeDiv(std[j])
			} else {
				y.Data[i+j] = 2*(v-min[j])/safeDiv(max[j]-min[j]) - 1
			}
		}
	}
	return y
}

func (n *Normalizer) inverse(x *nn.Tensor, mean, std, min, max []float64) *nn.Tensor {
	dim := len(mean)
	y := nn.New(x.Shape()...)
	for i := 0; i < x.Size(); i += dim {
		for j := 0; j < dim; j++ {
			v := x.Data[i+j]
			if n.scaling == ScalingGaussian {
				y.Data[i+j] = v*std[j] + mean[j]
			} else {
				y.Data[i+j] = (v+1)/2*(max[j]-min[j]) + min[j]
			}
		}
	}
	return y
}

// ScaleInput normalizes observation tensors whose last dimension is obs_dim.
func (n *Normalizer) ScaleInput(x *nn.Tensor) *nn.Tensor {
	return n.scale(x, n.stats.ObsMean, n.stats.ObsStd, n.stats.ObsMin, n.stats.ObsMax)
}

// InverseScaleInput undoes ScaleInput.
func (n *Normalizer) InverseScaleInput(x *nn.Tensor) *nn.Tensor {
	return n.inverse(x, n.stats.ObsMean, n.stats.ObsStd, n.stats.ObsMin, n.stats.ObsMax)
}

// ScaleOutput normalizes obs+action trajectories whose last dimension is
// obs_dim+act_dim.
func (n *Normalizer) ScaleOutput(x *nn.Tensor) *nn.Tensor {
	return n.scale(x, n.stats.OutMean, n.stats.OutStd, n.stats.OutMin, n.stats.OutMax)
}

// InverseScaleOutput undoes ScaleOutput.
func (n *Normalizer) InverseScaleOutput(x *nn.Tensor) *nn.Tensor {
	return n.inverse(x, n.stats.OutMean, n.stats.OutStd, n.stats.OutMin, n.stats.OutMax)
}

// ScalePos normalizes a raw observation prefix (e.g. a goal position) using
// the input statistics of its leading dimensions.
func (n *Normalizer) ScalePos(pos []float64) []float64 {
	out := make([]float64, len(pos))
	for j, v := range pos {
		if n.scaling == ScalingGaussian {
			out[j] = (v - n.stats.ObsMean[j]) / safeDiv(n.stats.ObsStd[j])
		} else {
			out[j] = 2*(v-n.stats.ObsMin[j])/safeDiv(n.stats.ObsMax[j]-n.stats.ObsMin[j]) - 1
		}
	}
	return out
}

// Clip clamps a sampled trajectory to the scaled bounds of the training
// data: [-1, 1] for minmax, the standardized min/max for gaussian.
func (n *Normalizer) Clip(x *nn.Tensor) *nn.Tensor {
	dim := len(n.stats.OutMean)
	y := nn.New(x.Shape()...)
	for i := 0; i < x.Size(); i += dim {
		for j := 0; j < dim; j++ {
			lo, hi := -1.0, 1.0
			if n.scaling == ScalingGaussian {
				lo = (n.stats.OutMin[j] - n.stats.OutMean[j]) / safeDiv(n.stats.OutStd[j])
				hi = (n.stats.OutMax[j] - n.stats.OutMean[j]) / safeDiv(n.stats.OutStd[j])
			}
			v := x.Data[i+j]
			if v < lo {
				v = lo
			} else if v > hi {
				v = hi
			}
			y.Data[i+j] = v
		}
	}
	return y
}

// StateDict exposes the statistics for checkpointing.
func (n *Normalizer) StateDict() dataset.Stats { return n.stats }

// LoadStateDict restores statistics from a checkpoint.
func (n *Normalizer) LoadStateDict(stats dataset.Stats) { n.stats = stats }

// Scaling reports the configured mode.
func (n *Normalizer) Scaling() string { return n.scaling }

// Constant dimensions produce zero ranges; treat them as unit scale so the
// normalizer stays finite.
func safeDiv(d float64) float64 {
	if d == 0 {
		return 1
	}
	return d
}
