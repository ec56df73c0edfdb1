package audio

import "math"

// fullScale is the maximum absolute amplitude of a 16-bit PCM sample,
// used to normalize RMS energy into [0, 1].
const fullScale = 32768.0

// VADResult is the outcome of the voice activity heuristic for one chunk.
type VADResult struct {
	// Speech reports whether the chunk is classified as containing speech.
	Speech bool

	// Confidence is the detection confidence in [0, 1].
	Confidence float64
}

// ApplyVAD runs the energy-based voice activity heuristic over one chunk of
// 16-bit little-endian PCM.
//
// When VAD is disabled by configuration, the result is always
// {Speech: true, Confidence: 1.0}: audio the pipeline cannot evaluate is
// never suppressed. When enabled, the root-mean-square energy of the chunk
// is normalized by full-scale amplitude and compared against the configured
// threshold; confidence is the normalized energy scaled against twice the
// threshold, capped at 1.0.
func (p *Pipeline) ApplyVAD(chunk []byte) VADResult {
	if !p.cfg.VADEnabled {
		return VADResult{Speech: true, Confidence: 1.0}
	}

	energy := normalizedRMS(chunk)
	confidence := energy / (2 * p.cfg.VADThreshold)
	if confidence > 1.0 {
		confidence = 1.0
	}
	return VADResult{
		Speech:     energy > p.cfg.VADThreshold,
		Confidence: confidence,
	}
}

// normalizedRMS computes the RMS energy of 16-bit little-endian PCM samples,
// normalized by full-scale amplitude. Returns 0 for chunks shorter than one
// sample. A trailing odd byte is ignored.
func normalizedRMS(pcm []byte) float64 {
	samples := len(pcm) / bytesPerSample
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum/float64(samples)) / fullScale
}
