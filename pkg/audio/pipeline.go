// Package audio implements the real-time audio buffering pipeline that sits
// between a streaming transport and a voice AI provider.
//
// The central type is [Pipeline]: it ingests raw PCM chunks while streaming,
// accumulates them in an in-memory buffer, and emits a combined buffer to
// registered observers once a configurable duration window of audio has been
// collected. A lightweight energy-based voice activity heuristic ([Pipeline.ApplyVAD])
// and the JSON wire envelope helpers ([NewAudioMessage], [ParseAudioMessage])
// round out the package.
//
// The pipeline performs no transcoding — see [ConvertFormat] for the
// documented passthrough seam.
//
// All exported methods are safe for concurrent use. Observer callbacks are
// invoked synchronously, in registration order, outside the pipeline's lock.
package audio

import (
	"log/slog"
	"sync"
	"time"
)

// Default pipeline parameters.
const (
	defaultSampleRate   = 16000
	defaultBufferWindow = 100 * time.Millisecond
	defaultVADThreshold = 0.01
)

// bytesPerSample is fixed: the pipeline assumes 16-bit little-endian PCM.
const bytesPerSample = 2

// Config holds the parameters for a [Pipeline].
type Config struct {
	// SampleRate is the PCM sample rate in Hz. Defaults to 16000 if zero.
	SampleRate int

	// BufferWindow is the duration of audio accumulated before an automatic
	// flush. Defaults to 100ms if zero.
	BufferWindow time.Duration

	// VADEnabled turns on the energy-based voice activity heuristic.
	// When false, [Pipeline.ApplyVAD] always reports speech with full
	// confidence so that no audio is ever suppressed unevaluated.
	VADEnabled bool

	// VADThreshold is the normalized RMS energy above which a chunk is
	// classified as speech. Range (0, 1]. Defaults to 0.01 if zero.
	VADThreshold float64
}

// withDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.BufferWindow <= 0 {
		c.BufferWindow = defaultBufferWindow
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = defaultVADThreshold
	}
	return c
}

// Pipeline buffers raw audio chunks from a live stream and signals when a
// buffer-worth of audio is ready for downstream consumption.
//
// Chunks processed while the pipeline is not streaming are dropped silently
// (logged at debug level): audio arriving outside an active session is
// discarded by policy, never queued.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	streaming     bool
	chunks        [][]byte
	bufferedBytes int

	onStarted []func()
	onStopped []func()
	onChunk   []func(chunk []byte)
	onBuffer  []func(buf []byte)
}

// NewPipeline creates a [Pipeline] with the given configuration. The logger
// is used for per-chunk diagnostics; pass nil to use [slog.Default].
func NewPipeline(cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "audio.pipeline"),
	}
}

// OnStarted registers fn to be invoked whenever the pipeline starts streaming.
func (p *Pipeline) OnStarted(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStarted = append(p.onStarted, fn)
}

// OnStopped registers fn to be invoked whenever the pipeline stops streaming.
// A final buffer flush, if any, is delivered to [Pipeline.OnBuffer] observers
// before the stopped notification fires.
func (p *Pipeline) OnStopped(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStopped = append(p.onStopped, fn)
}

// OnChunk registers fn to be invoked synchronously for every chunk accepted
// while streaming. Intended for real-time observers such as live waveform
// displays or VAD consumers; fn must not block.
func (p *Pipeline) OnChunk(fn func(chunk []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChunk = append(p.onChunk, fn)
}

// OnBuffer registers fn to be invoked with the combined buffer bytes on every
// flush, whether automatic (window reached), explicit ([Pipeline.FlushBuffer])
// or final ([Pipeline.Stop]).
func (p *Pipeline) OnBuffer(fn func(buf []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onBuffer = append(p.onBuffer, fn)
}

// Start transitions the pipeline to streaming and resets the buffer.
// Calling Start on an already-streaming pipeline is safe; it simply
// re-clears the buffered state.
func (p *Pipeline) Start() {
	p.mu.Lock()
	p.streaming = true
	p.chunks = nil
	p.bufferedBytes = 0
	started := snapshot(p.onStarted)
	p.mu.Unlock()

	for _, fn := range started {
		fn()
	}
}

// Stop transitions the pipeline out of streaming. If buffered audio remains,
// it is flushed (delivered to OnBuffer observers) before the stopped
// notification fires.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.streaming = false
	combined := p.drainLocked()
	buffer := snapshot(p.onBuffer)
	stopped := snapshot(p.onStopped)
	p.mu.Unlock()

	if combined != nil {
		for _, fn := range buffer {
			fn(combined)
		}
	}
	for _, fn := range stopped {
		fn()
	}
}

// ProcessChunk ingests one chunk of raw PCM audio.
//
// When the pipeline is not streaming, the chunk is dropped: this is the
// deliberate backpressure policy for audio arriving outside an active
// session (a client's trailing frames after it has been told to stop).
//
// While streaming, the chunk is appended to the buffer, OnChunk observers
// fire synchronously, and the buffer auto-flushes once the accumulated
// duration meets or exceeds the configured window.
func (p *Pipeline) ProcessChunk(chunk []byte) {
	p.mu.Lock()
	if !p.streaming {
		p.mu.Unlock()
		p.logger.Debug("chunk dropped: pipeline not streaming", "bytes", len(chunk))
		return
	}

	p.chunks = append(p.chunks, chunk)
	p.bufferedBytes += len(chunk)

	chunkObs := snapshot(p.onChunk)

	var combined []byte
	var bufferObs []func([]byte)
	if p.bufferedDurationLocked() >= p.cfg.BufferWindow {
		combined = p.drainLocked()
		bufferObs = snapshot(p.onBuffer)
	}
	p.mu.Unlock()

	for _, fn := range chunkObs {
		fn(chunk)
	}
	if combined != nil {
		for _, fn := range bufferObs {
			fn(combined)
		}
	}
}

// FlushBuffer concatenates all buffered chunks in arrival order, clears the
// buffer, notifies OnBuffer observers, and returns the combined bytes.
//
// It returns nil when the buffer is empty — callers must treat nil as
// "nothing to send", not as an error.
func (p *Pipeline) FlushBuffer() []byte {
	p.mu.Lock()
	combined := p.drainLocked()
	buffer := snapshot(p.onBuffer)
	p.mu.Unlock()

	if combined == nil {
		return nil
	}
	for _, fn := range buffer {
		fn(combined)
	}
	return combined
}

// Config returns the pipeline's effective configuration (defaults applied).
func (p *Pipeline) Config() Config {
	return p.cfg
}

// IsStreaming reports whether the pipeline is currently accepting chunks.
func (p *Pipeline) IsStreaming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streaming
}

// BufferedDuration returns the duration of audio currently buffered.
func (p *Pipeline) BufferedDuration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufferedDurationLocked()
}

// bufferedDurationLocked computes the buffered duration assuming 16-bit
// samples. Must be called with p.mu held.
func (p *Pipeline) bufferedDurationLocked() time.Duration {
	samples := p.bufferedBytes / bytesPerSample
	ms := float64(samples) / float64(p.cfg.SampleRate) * 1000
	return time.Duration(ms * float64(time.Millisecond))
}

// drainLocked concatenates and clears the buffer. Returns nil when empty.
// Must be called with p.mu held.
func (p *Pipeline) drainLocked() []byte {
	if p.bufferedBytes == 0 {
		return nil
	}
	combined := make([]byte, 0, p.bufferedBytes)
	for _, c := range p.chunks {
		combined = append(combined, c...)
	}
	p.chunks = nil
	p.bufferedBytes = 0
	return combined
}

// snapshot copies a handler list so it can be invoked outside the lock.
func snapshot[T any](fns []T) []T {
	if len(fns) == 0 {
		return nil
	}
	out := make([]T, len(fns))
	copy(out, fns)
	return out
}

// ConvertFormat returns pcm unchanged. The transport negotiates a single PCM
// format end to end, so no transcoding happens in the current design; this
// function marks the seam where resampling would be inserted if a client
// ever streamed at a different rate.
func ConvertFormat(pcm []byte, srcRate, dstRate int) []byte {
	return pcm
}
