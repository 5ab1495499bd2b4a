// Package nn implements the neural network layers used by the speech
// encoder:
//
//   - Module interface and trainable Parameter
//   - Conv2D, MaxPool2D, BatchNorm2D for the VGG front-end
//   - Linear for the bridge layer
//   - Dropout, ReLU
//   - weight initializers (Xavier, uniform, truncated normal)
//
// Layers are generic over the compute backend (see tensor.Backend).
// Construction validates hyperparameters; Forward panics on shape
// mismatches, which are programming errors rather than user input.
package nn
