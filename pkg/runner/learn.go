package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reeceomahoney/locodiff/pkg/observability"
)

// RolloutStats summarizes the episodes completed during one rollout.
type RolloutStats struct {
	MeanReward float64
	MeanLength float64
	Episodes   int
}

// Learn runs the training loop for Experiment.NumIters iterations (on top of
// any restored iteration count):
//   - every SimInterval iterations, a rollout with the EMA weights;
//   - every EvalInterval iterations, the test-set denoising MSE;
//   - every iteration, one batch update and an EMA update;
//   - every LogInterval iterations, the console block and progress report;
//   - checkpoints per the checkpoint policy, plus a final one.
//
// Cancelling the context stops the loop after the current iteration and
// saves a checkpoint.
func (r *Runner) Learn(ctx context.Context) error {
	if _, err := r.env.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset environment: %w", err)
	}
	r.policy.Reset(nil)
	r.policy.Train()

	start := r.iter
	total := start + r.cfg.NumIters
	var testMSE float64
	hasEval := false

	for it := start; it < total; it++ {
		if ctx.Err() != nil {
			return r.stopEarly(ctx)
		}
		iterStart := time.Now()

		if it%r.cfg.SimInterval == 0 {
			stats, err := r.Rollout(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return r.stopEarly(ctx)
				}
				return fmt.Errorf("rollout failed at iteration %d: %w", it, err)
			}
			r.lastRollout = stats
			r.trackBest(ctx, stats, it > start)
		}

		if it%r.cfg.EvalInterval == 0 {
			mse, err := r.evaluate(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return r.stopEarly(ctx)
				}
				return fmt.Errorf("evaluation failed at iteration %d: %w", it, err)
			}
			testMSE, hasEval = mse, true
			r.recorder.RecordEval(ctx, mse)
		}

		batch, err := r.trainLoader.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return r.stopEarly(ctx)
			}
			return err
		}
		loss := r.policy.Update(batch)
		r.ema.Update(r.policy.Params())
		r.iter = it

		iterDur := time.Since(iterStart)
		r.totTime += iterDur
		r.sessionIters++
		r.recorder.RecordIteration(ctx, loss, iterDur)

		if it%r.cfg.LogInterval == 0 {
			r.logProgress(it, total, loss, testMSE, hasEval)
			r.reportProgress(ctx, it, loss)
		}
		if r.checkpoints != nil && r.checkpoints.ShouldCheckpointAtIteration(it) {
			if err := r.saveCheckpoint(ctx); err != nil {
				slog.Warn("Failed to save checkpoint", "iter", it, "error", err)
			}
		}
	}

	if r.checkpoints != nil && r.checkpoints.IsEnabled() {
		if err := r.saveCheckpoint(ctx); err != nil {
			return fmt.Errorf("failed to save final checkpoint: %w", err)
		}
	}
	return nil
}

// Rollout resets the environment and rolls the policy out for one episode
// horizon, acting with the EMA weights when EMA is enabled. Episode rewards
// and lengths are recorded per completed episode.
func (r *Runner) Rollout(ctx context.Context) (RolloutStats, error) {
	ctx, span := r.tracer.Start(ctx, observability.SpanRollout)
	defer span.End()

	restore := r.inferenceMode()
	defer restore()

	obs, err := r.env.Reset(ctx)
	if err != nil {
		return RolloutStats{}, err
	}
	r.policy.Reset(nil)

	numEnvs := r.env.NumEnvs()
	rewardSum := make([]float64, numEnvs)
	lengths := make([]int, numEnvs)

	var stats RolloutStats
	for step := 0; step < r.cfg.EpisodeLength; step++ {
		res := r.policy.Act(r.obsTensor(obs))
		sr, err := r.env.Step(ctx, actionRows(res.Action))
		if err != nil {
			return RolloutStats{}, err
		}
		obs = sr.Obs

		for i := range sr.Dones {
			rewardSum[i] += sr.Rewards[i]
			lengths[i]++
			if sr.Dones[i] {
				stats.MeanReward += rewardSum[i]
				stats.MeanLength += float64(lengths[i])
				stats.Episodes++
				r.recorder.RecordRollout(ctx, rewardSum[i], float64(lengths[i]))
				rewardSum[i], lengths[i] = 0, 0
			}
		}
		r.policy.Reset(sr.Dones)
	}
	if stats.Episodes > 0 {
		stats.MeanReward /= float64(stats.Episodes)
		stats.MeanLength /= float64(stats.Episodes)
	}
	return stats, nil
}

// evaluate computes the mean sampled-trajectory MSE over one test epoch.
func (r *Runner) evaluate(ctx context.Context) (float64, error) {
	ctx, span := r.tracer.Start(ctx, observability.SpanEvaluation)
	defer span.End()

	restore := r.inferenceMode()
	defer restore()

	n := r.testLoader.Len()
	sum := 0.0
	for i := 0; i < n; i++ {
		batch, err := r.testLoader.Next(ctx)
		if err != nil {
			return 0, err
		}
		sum += r.policy.Test(batch)
	}
	return sum / float64(n), nil
}

// inferenceMode switches to evaluation mode with the EMA weights swapped in
// and returns the function that undoes both.
func (r *Runner) inferenceMode() func() {
	r.policy.Eval()
	if !r.cfg.EMAEnabled() {
		return func() { r.policy.Train() }
	}
	params := r.policy.Params()
	r.ema.Store(params)
	r.ema.CopyTo(params)
	return func() {
		r.ema.Restore(params)
		r.policy.Train()
	}
}

// trackBest records a new best mean rollout reward and fires an event
// checkpoint for it. The first rollout of a session only sets the baseline.
func (r *Runner) trackBest(ctx context.Context, stats RolloutStats, save bool) {
	if stats.Episodes == 0 {
		return
	}
	if r.hasBest && stats.MeanReward <= r.bestReward {
		return
	}
	r.bestReward = stats.MeanReward
	r.hasBest = true

	if save && r.checkpoints != nil && r.checkpoints.ShouldCheckpointOnEvent() {
		slog.Info("New best mean reward", "reward", fmt.Sprintf("%.2f", stats.MeanReward), "iter", r.iter)
		if err := r.saveCheckpoint(ctx); err != nil {
			slog.Warn("Failed to save best-reward checkpoint", "error", err)
		}
	}
}

func (r *Runner) stopEarly(ctx context.Context) error {
	slog.Info("Training interrupted", "iter", r.iter)
	if r.checkpoints != nil && r.checkpoints.IsEnabled() {
		if err := r.saveCheckpoint(ctx); err != nil {
			slog.Warn("Failed to save interrupt checkpoint", "error", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) reportProgress(ctx context.Context, it int, loss float64) {
	if r.progress == nil {
		return
	}
	if err := r.progress.UpdateProgress(ctx, it, loss); err != nil {
		slog.Warn("Failed to update run registry", "error", err)
	}
}

// logProgress prints the training console block.
func (r *Runner) logProgress(it, total int, loss, testMSE float64, hasEval bool) {
	const width, pad = 80, 35

	var b strings.Builder
	b.WriteString(strings.Repeat("#", width) + "\n")
	b.WriteString(centerText(fmt.Sprintf("Learning iteration %d/%d", it, total), width) + "\n\n")
	if r.lastRollout.Episodes > 0 {
		fmt.Fprintf(&b, "%*s %.2f\n", pad, "Mean reward:", r.lastRollout.MeanReward)
		fmt.Fprintf(&b, "%*s %.2f\n", pad, "Mean episode length:", r.lastRollout.MeanLength)
	}
	fmt.Fprintf(&b, "%*s %.4f\n", pad, "Loss:", loss)
	if hasEval {
		fmt.Fprintf(&b, "%*s %.4f\n", pad, "Test MSE:", testMSE)
	}
	b.WriteString(strings.Repeat("-", width) + "\n")
	if r.sessionIters > 0 {
		avg := r.totTime / time.Duration(r.sessionIters)
		fmt.Fprintf(&b, "%*s %.2fs\n", pad, "Iteration time:", avg.Seconds())
		fmt.Fprintf(&b, "%*s %.2fs\n", pad, "Total time:", r.totTime.Seconds())

		eta := time.Duration(total-it-1) * avg
		h := int(eta.Hours())
		m := int(eta.Minutes()) % 60
		s := int(eta.Seconds()) % 60
		fmt.Fprintf(&b, "%*s %02d:%02d:%02d\n", pad, "ETA:", h, m, s)
	}
	fmt.Fprint(r.output, b.String())
}

func centerText(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-len(s)-left)
}
