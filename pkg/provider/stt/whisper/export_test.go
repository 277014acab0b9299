package whisper

// NewNativeWithInference returns a NativeProvider whose model is replaced by
// infer.
func NewNativeWithInference(infer func(samples []float32, lang, prompt string) (string, error), opts ...NativeOption) *NativeProvider {
	p := newNative(opts...)
	p.infer = infer
	return p
}
