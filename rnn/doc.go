// Package rnn implements the bidirectional LSTM stacks behind the
// speech encoder.
//
// Five interchangeable implementations are provided, mirroring the
// recipe-selectable cell variants of the original system:
//
//   - BasicCell: plain LSTM, no peephole connections
//   - PeepholeCell: peepholes, optional projection, cell clipping
//   - BlockCell: same math as PeepholeCell, single fused gate gemm per
//     step with reused scratch buffers
//   - fused runner: additionally hoists the input projections of all
//     timesteps into one gemm before the recurrence
//   - PackedCell: canonical cell with all weights in one flat buffer,
//     the layout accelerator libraries use; directions run concurrently
//
// A Stack chains bidirectional layers of one of these variants, handles
// ragged batches via per-example sequence lengths (outputs are zero and
// state is frozen past the valid length), applies output dropout
// between layers, and concatenates the two direction outputs.
package rnn
