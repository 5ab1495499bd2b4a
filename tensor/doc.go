// Package tensor provides the core tensor types used by the speech
// encoder: shapes, runtime data types, raw storage, and a generic
// Tensor parameterized by element type and compute backend.
//
// The actual math lives in backend implementations (see backend/cpu);
// this package only does bookkeeping and dispatch.
package tensor
