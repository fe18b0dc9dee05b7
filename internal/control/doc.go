// Package control holds the per-epoch training controllers that watch the
// validation loss:
//
//   - LRScheduler scales the optimizer learning rate down after the loss has
//     plateaued for a number of epochs.
//   - EarlyStopping raises a stop flag after the loss has failed to improve
//     for a number of epochs. The flag never resets within a run.
//
// Both controllers are plain state objects driven by a single Observe call per
// epoch from the training loop. They are not safe for concurrent use.
package control
