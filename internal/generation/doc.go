// Package generation defines the port between the task pipeline and the
// remote language model that scores a resume against a job description. It
// owns the wire format of the combined input, the analysis modes, and the
// error taxonomy the worker uses to tell transient from permanent failures.
package generation
