// Package locodiff is a configuration and training harness for diffusion
// based robot control policies.
//
// Experiments are described by declarative YAML documents: a run section
// (task, seed, horizons, intervals), a policy section (sampler, noise
// schedule, guidance), a dataset section (expert episode archive, split,
// batching) and a model preset composed through a defaults list. Documents
// support ${dotted.path} interpolation and ${now:...} timestamped run
// directories; see pkg/config.
//
// The harness trains a denoising policy (UNet or transformer backbone) on
// recorded expert trajectories and rolls it out in a vectorized environment,
// either the built-in cartpole/reacher dynamics or an external simulator
// reached over HTTP.
//
// Start a run:
//
//	locodiff collect --config configs/cartpole.yaml --episodes 200
//	locodiff train --config configs/cartpole.yaml
//	locodiff play --config configs/cartpole.yaml
//
// Key packages:
//
//	pkg/config     experiment configuration: providers, composition,
//	               interpolation, typed schema
//	pkg/dataset    episode archives, windowed expert dataset, batch loaders
//	pkg/diffusion  policy, samplers, normalizer, EMA
//	pkg/envs       vectorized environments and scripted experts
//	pkg/runner     the training loop
//	pkg/server     optional status server (health, metrics, run registry)
package locodiff
