package diffusion

import (
	"math"
	"math/rand"
)

// SigmasExponential returns n noise levels spaced uniformly in log space
// from sigmaMax down to sigmaMin, with a trailing zero so the final sampler
// step lands on the clean estimate.
func SigmasExponential(n int, sigmaMin, sigmaMax float64) []float64 {
	sigmas := make([]float64, n+1)
	logMax, logMin := math.Log(sigmaMax), math.Log(sigmaMin)
	for i := 0; i < n; i++ {
		frac := 0.0
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		sigmas[i] = math.Exp(logMax + frac*(logMin-logMax))
	}
	return sigmas
}

// SigmasLinear returns n noise levels spaced uniformly from sigmaMax down to
// sigmaMin, with a trailing zero.
func SigmasLinear(n int, sigmaMin, sigmaMax float64) []float64 {
	sigmas := make([]float64, n+1)
	for i := 0; i < n; i++ {
		frac := 0.0
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		sigmas[i] = sigmaMax + frac*(sigmaMin-sigmaMax)
	}
	return sigmas
}

// RandLogLogistic draws a training noise level from a log-logistic
// distribution centered on loc, truncated to [minValue, maxValue] by
// inverse-CDF sampling.
func RandLogLogistic(rng *rand.Rand, loc, scale, minValue, maxValue float64) float64 {
	cdf := func(x float64) float64 {
		return 1 / (1 + math.Exp(-(math.Log(x)-loc)/scale))
	}
	lo, hi := cdf(minValue), cdf(maxValue)
	u := lo + rng.Float64()*(hi-lo)
	return math.Exp(loc + scale*math.Log(u/(1-u)))
}

// DDPMScheduler implements the discrete denoising schedule with a squared
// cosine beta ramp, epsilon prediction and the small fixed posterior
// variance.
type DDPMScheduler struct {
	Timesteps int

	betas    []float64
	alphas   []float64
	alphaBar []float64
}

func NewDDPMScheduler(timesteps int) *DDPMScheduler {
	s := &DDPMScheduler{
		Timesteps: timesteps,
		betas:     make([]float64, timesteps),
		alphas:    make([]float64, timesteps),
		alphaBar:  make([]float64, timesteps),
	}
	alphaBarFn := func(t float64) float64 {
		v := math.Cos((t + 0.008) / 1.008 * math.Pi / 2)
		return v * v
	}
	prod := 1.0
	for i := 0; i < timesteps; i++ {
		t1 := float64(i) / float64(timesteps)
		t2 := float64(i+1) / float64(timesteps)
		beta := math.Min(1-alphaBarFn(t2)/alphaBarFn(t1), 0.999)
		s.betas[i] = beta
		s.alphas[i] = 1 - beta
		prod *= s.alphas[i]
		s.alphaBar[i] = prod
	}
	return s
}

// AddNoise diffuses a clean value to timestep t:
// sqrt(abar_t)*x0 + sqrt(1-abar_t)*noise.
func (s *DDPMScheduler) AddNoise(x0, noise float64, t int) float64 {
	ab := s.alphaBar[t]
	return math.Sqrt(ab)*x0 + math.Sqrt(1-ab)*noise
}

// Step reverses one timestep given the predicted noise. The clean estimate
// is clipped to [-1, 1] before computing the posterior mean; z is a standard
// normal draw (ignored at t == 0).
func (s *DDPMScheduler) Step(xt, epsPred float64, t int, z float64) float64 {
	ab := s.alphaBar[t]
	abPrev := 1.0
	if t > 0 {
		abPrev = s.alphaBar[t-1]
	}
	beta := s.betas[t]

	x0 := (xt - math.Sqrt(1-ab)*epsPred) / math.Sqrt(ab)
	if x0 > 1 {
		x0 = 1
	} else if x0 < -1 {
		x0 = -1
	}

	coefX0 := math.Sqrt(abPrev) * beta / (1 - ab)
	coefXt := math.Sqrt(s.alphas[t]) * (1 - abPrev) / (1 - ab)
	mean := coefX0*x0 + coefXt*xt

	if t == 0 {
		return mean
	}
	variance := (1 - abPrev) / (1 - ab) * beta
	if variance < 1e-20 {
		variance = 1e-20
	}
	return mean + math.Sqrt(variance)*z
}
