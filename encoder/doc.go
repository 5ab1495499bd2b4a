// Package encoder implements the VGG-BLSTM acoustic encoder: a small
// VGG-style convolutional front-end over (static, delta, delta-delta)
// filterbank features feeding a stacked bidirectional LSTM.
//
// The encoder is a one-shot graph assembly: construct it once with a
// Config, then call Forward with a feature batch, per-example sequence
// lengths and a dropout keep probability. The recurrent backend is
// selected by the LSTMImpl string, keeping the selector values of the
// original training recipes.
package encoder
