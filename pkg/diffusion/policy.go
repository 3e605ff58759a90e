// Package diffusion implements the trajectory diffusion policy: noise
// schedules, samplers, normalization, EMA weight averaging and the policy
// object that ties a denoising model to training and control.
package diffusion

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/reeceomahoney/locodiff/pkg/config"
	"github.com/reeceomahoney/locodiff/pkg/dataset"
	"github.com/reeceomahoney/locodiff/pkg/diffusion/models"
	"github.com/reeceomahoney/locodiff/pkg/nn"
)

// Policy denoises obs+action trajectories conditioned on an observation
// history. Acting samples a trajectory and extracts the next action chunk;
// updating performs one optimizer step of denoising score matching.
type Policy struct {
	model      models.Denoiser
	normalizer *Normalizer
	sampler    Sampler
	ddpm       *DDPMScheduler
	rng        *rand.Rand

	obsDim, actDim int
	inputDim       int
	inputLen       int
	t, tCond       int
	numEnvs        int

	samplerType     string
	samplingSteps   int
	sigmaData       float64
	sigmaMin        float64
	sigmaMax        float64
	inpaintObs      bool
	inpaintFinalObs bool
	finalObsTarget  []float64
	gradClip        float64

	obsHist *nn.Tensor // [numEnvs, tCond, obsDim]

	optimizer *nn.AdamW
	schedule  *nn.CosineLR
	step      int
}

// ActResult is one control step: the action to execute and the predicted
// observation trajectory for diagnostics.
type ActResult struct {
	Action  *nn.Tensor // [numEnvs, actDim]
	ObsTraj *nn.Tensor // [numEnvs, inputLen, obsDim]
}

func NewPolicy(model models.Denoiser, normalizer *Normalizer, cfg *config.Config, rng *rand.Rand) (*Policy, error) {
	pc := cfg.Policy
	inputLen := cfg.T
	if pc.InpaintObs {
		inputLen = cfg.T + cfg.TCond - 1
	}
	if pc.InpaintFinalObs && len(pc.FinalObsTarget) != pc.ObsDim {
		return nil, fmt.Errorf("diffusion: final_obs_target needs %d values, got %d",
			pc.ObsDim, len(pc.FinalObsTarget))
	}

	sampler, err := NewSampler(pc.Sampler, pc.SamplingSteps, pc.SigmaMin, pc.SigmaMax,
		pc.ResamplingSteps, pc.JumpLength, rng)
	if err != nil {
		return nil, err
	}

	p := &Policy{
		model:           model,
		normalizer:      normalizer,
		sampler:         sampler,
		rng:             rng,
		obsDim:          pc.ObsDim,
		actDim:          pc.ActDim,
		inputDim:        pc.ObsDim + pc.ActDim,
		inputLen:        inputLen,
		t:               cfg.T,
		tCond:           cfg.TCond,
		numEnvs:         cfg.NumEnvs,
		samplerType:     pc.Sampler,
		samplingSteps:   pc.SamplingSteps,
		sigmaData:       pc.SigmaData,
		sigmaMin:        pc.SigmaMin,
		sigmaMax:        pc.SigmaMax,
		inpaintObs:      pc.InpaintObs,
		inpaintFinalObs: pc.InpaintFinalObs,
		finalObsTarget:  pc.FinalObsTarget,
		gradClip:        pc.GradClip,
		obsHist:         nn.New(cfg.NumEnvs, cfg.TCond, pc.ObsDim),
		optimizer:       nn.NewAdamW(model.Params(), pc.LR, pc.Betas[0], pc.Betas[1], pc.WeightDecay),
		schedule:        nn.NewCosineLR(pc.LR, 0, cfg.NumIters),
	}
	if d, ok := sampler.(*DDPMSampler); ok {
		p.ddpm = d.Scheduler
	}
	return p, nil
}

// Act appends the latest observations to the history, samples a trajectory
// conditioned on it and returns the next action for every environment.
func (p *Policy) Act(obs *nn.Tensor) *ActResult {
	p.updateHistory(obs)
	obsN := p.normalizer.ScaleInput(p.obsHist)
	x := p.sample(obsN, nil)

	actRow := 0
	if p.inpaintObs {
		actRow = p.tCond - 1
	}
	action := nn.New(p.numEnvs, p.actDim)
	obsTraj := nn.New(p.numEnvs, p.inputLen, p.obsDim)
	for b := 0; b < p.numEnvs; b++ {
		base := (b*p.inputLen + actRow) * p.inputDim
		copy(action.Data[b*p.actDim:], x.Data[base+p.obsDim:base+p.inputDim])
		for t := 0; t < p.inputLen; t++ {
			src := (b*p.inputLen + t) * p.inputDim
			copy(obsTraj.Data[(b*p.inputLen+t)*p.obsDim:], x.Data[src:src+p.obsDim])
		}
	}
	return &ActResult{Action: action, ObsTraj: obsTraj}
}

// Update performs one training step on a batch and returns the loss.
func (p *Policy) Update(batch *dataset.Batch) float64 {
	nn.ZeroGrads(p.model.Params())
	obsN, input := p.processTrain(batch)
	cond := &models.Condition{Obs: obsN}
	batchSize := input.Shape()[0]

	var loss float64
	if p.samplerType == SamplerDDPM {
		noise := p.randn(input.Shape()...)
		noised := nn.New(input.Shape()...)
		perSample := input.Size() / batchSize
		sigmas := make([]float64, batchSize)
		for b := 0; b < batchSize; b++ {
			t := p.rng.Intn(p.samplingSteps)
			sigmas[b] = float64(t + 1)
			for i := b * perSample; i < (b+1)*perSample; i++ {
				noised.Data[i] = p.ddpm.AddNoise(input.Data[i], noise.Data[i], t)
			}
		}
		pred := p.model.Forward(noised, sigmas, cond)
		n := float64(pred.Size())
		grad := nn.New(pred.Shape()...)
		for i := range pred.Data {
			diff := pred.Data[i] - noise.Data[i]
			loss += diff * diff
			grad.Data[i] = 2 * diff / n
		}
		loss /= n
		p.model.Backward(grad)
	} else {
		noise := p.randn(input.Shape()...)
		loc := math.Log(p.sigmaData)
		sigmas := make([]float64, batchSize)
		for b := range sigmas {
			sigmas[b] = RandLogLogistic(p.rng, loc, 0.5, p.sigmaMin, p.sigmaMax)
		}
		loss = p.model.Loss(input, noise, sigmas, cond)
	}

	if p.gradClip > 0 {
		nn.ClipGradNorm(p.model.Params(), p.gradClip)
	}
	p.optimizer.SetLR(p.schedule.At(p.step))
	p.optimizer.Step()
	p.step++
	return loss
}

// Test samples trajectories for a held-out batch and returns the MSE against
// the true trajectories in raw (unscaled) space.
func (p *Policy) Test(batch *dataset.Batch) float64 {
	obsN, input := p.processTrain(batch)
	x := p.sample(obsN, input)
	ref := p.normalizer.InverseScaleOutput(input)

	mse := 0.0
	for i := range x.Data {
		diff := x.Data[i] - ref.Data[i]
		mse += diff * diff
	}
	return mse / float64(x.Size())
}

// Reset clears the observation history, either for all environments or for
// the ones flagged done.
func (p *Policy) Reset(dones []bool) {
	rowLen := p.tCond * p.obsDim
	for b := 0; b < p.numEnvs; b++ {
		if dones != nil && !dones[b] {
			continue
		}
		for i := b * rowLen; i < (b+1)*rowLen; i++ {
			p.obsHist.Data[i] = 0
		}
	}
}

// sample draws noise, constrains it with the inpainting data and runs the
// configured sampler, returning an unscaled trajectory. input is the scaled
// reference trajectory during evaluation, nil when acting.
func (p *Policy) sample(obsN, input *nn.Tensor) *nn.Tensor {
	batch := obsN.Shape()[0]
	noise := p.randn(batch, p.inputLen, p.inputDim)
	if p.samplerType != SamplerDDPM {
		for i := range noise.Data {
			noise.Data[i] *= p.sigmaMax
		}
	}

	tgt, mask := p.inpaintingData(obsN, input, batch)
	cond := &models.Condition{Obs: obsN, Tgt: tgt, Mask: mask}
	x := p.sampler.Sample(p.model, noise, cond)
	x = p.normalizer.Clip(x)
	return p.normalizer.InverseScaleOutput(x)
}

// inpaintingData builds the known-value target and mask: the observation
// history at the trajectory head and, optionally, a goal observation at the
// tail.
func (p *Policy) inpaintingData(obsN, input *nn.Tensor, batch int) (tgt, mask *nn.Tensor) {
	if !p.inpaintObs && !p.inpaintFinalObs {
		return nil, nil
	}
	tgt = nn.New(batch, p.inputLen, p.inputDim)
	mask = nn.New(batch, p.inputLen, p.inputDim)

	if p.inpaintObs {
		for b := 0; b < batch; b++ {
			for t := 0; t < p.tCond; t++ {
				dst := (b*p.inputLen + t) * p.inputDim
				src := (b*p.tCond + t) * p.obsDim
				for d := 0; d < p.obsDim; d++ {
					tgt.Data[dst+d] = obsN.Data[src+d]
					mask.Data[dst+d] = 1
				}
			}
		}
	}
	if p.inpaintFinalObs {
		last := p.inputLen - 1
		var goal []float64
		if input == nil {
			goal = p.normalizer.ScalePos(p.finalObsTarget)
		}
		w := 0
		if input != nil {
			w = input.Shape()[1] - 1
		}
		for b := 0; b < batch; b++ {
			dst := (b*p.inputLen + last) * p.inputDim
			for d := 0; d < p.obsDim; d++ {
				if input == nil {
					tgt.Data[dst+d] = goal[d]
				} else {
					tgt.Data[dst+d] = input.Data[(b*input.Shape()[1]+w)*p.inputDim+d]
				}
				mask.Data[dst+d] = 1
			}
		}
	}
	return tgt, mask
}

// processTrain normalizes a training batch: the conditioning window and the
// obs+action trajectory the model learns to denoise.
func (p *Policy) processTrain(batch *dataset.Batch) (obsN, input *nn.Tensor) {
	obsN = p.normalizer.ScaleInput(timeSlice(batch.Obs, 0, p.tCond))

	inputObs, inputAct := batch.Obs, batch.Action
	if !p.inpaintObs {
		inputObs = timeSlice(batch.Obs, p.tCond-1, p.tCond+p.t-1)
		inputAct = timeSlice(batch.Action, p.tCond-1, p.tCond+p.t-1)
	}
	input = p.normalizer.ScaleOutput(catLastDim(inputObs, inputAct))
	return obsN, input
}

// updateHistory shifts the ring one step and appends the new observations.
func (p *Policy) updateHistory(obs *nn.Tensor) {
	for b := 0; b < p.numEnvs; b++ {
		base := b * p.tCond * p.obsDim
		copy(p.obsHist.Data[base:], p.obsHist.Data[base+p.obsDim:base+p.tCond*p.obsDim])
		copy(p.obsHist.Data[base+(p.tCond-1)*p.obsDim:], obs.Data[b*p.obsDim:(b+1)*p.obsDim])
	}
}

func (p *Policy) randn(shape ...int) *nn.Tensor {
	x := nn.New(shape...)
	for i := range x.Data {
		x.Data[i] = p.rng.NormFloat64()
	}
	return x
}

// Train switches the model to training mode (conditioning dropout active).
func (p *Policy) Train() { p.model.SetTraining(true) }

// Eval switches the model to evaluation mode (guided sampling active).
func (p *Policy) Eval() { p.model.SetTraining(false) }

// Params exposes the model parameters for EMA tracking.
func (p *Policy) Params() []*nn.Tensor { return p.model.Params() }

// StateDict snapshots the model weights.
func (p *Policy) StateDict() (map[string][]float64, error) {
	return nn.StateDict(p.model.Params())
}

// LoadStateDict restores model weights from a checkpoint.
func (p *Policy) LoadStateDict(state map[string][]float64) error {
	return nn.LoadStateDict(p.model.Params(), state)
}

// Optimizer exposes the optimizer for checkpointing.
func (p *Policy) Optimizer() *nn.AdamW { return p.optimizer }

// SetStep aligns the learning-rate schedule after resuming.
func (p *Policy) SetStep(step int) { p.step = step }

// InputLen reports the modeled trajectory length.
func (p *Policy) InputLen() int { return p.inputLen }

// timeSlice copies rows [from, to) of a [batch, window, dim] tensor.
func timeSlice(x *nn.Tensor, from, to int) *nn.Tensor {
	dims := x.Shape()
	batch, window, dim := dims[0], dims[1], dims[2]
	out := nn.New(batch, to-from, dim)
	for b := 0; b < batch; b++ {
		src := (b*window + from) * dim
		copy(out.Data[b*(to-from)*dim:], x.Data[src:src+(to-from)*dim])
	}
	return out
}

// catLastDim concatenates two [batch, window, *] tensors along the last
// dimension.
func catLastDim(a, b *nn.Tensor) *nn.Tensor {
	ad, bd := a.Shape(), b.Shape()
	batch, window, da, db := ad[0], ad[1], ad[2], bd[2]
	out := nn.New(batch, window, da+db)
	for r := 0; r < batch*window; r++ {
		copy(out.Data[r*(da+db):], a.Data[r*da:(r+1)*da])
		copy(out.Data[r*(da+db)+da:], b.Data[r*db:(r+1)*db])
	}
	return out
}
