package audio

import (
	"bytes"
	"testing"
	"time"
)

// testConfig returns a config with a window large enough that auto-flush
// never triggers unless a test wants it to.
func testConfig() Config {
	return Config{SampleRate: 16000, BufferWindow: time.Hour}
}

func TestPipeline_FlushBuffer(t *testing.T) {
	t.Run("returns exact concatenation in arrival order", func(t *testing.T) {
		p := NewPipeline(testConfig(), nil)
		p.Start()

		chunks := [][]byte{
			{0x01, 0x02},
			{0x03, 0x04, 0x05, 0x06},
			{0x07, 0x08},
		}
		for _, c := range chunks {
			p.ProcessChunk(c)
		}

		got := p.FlushBuffer()
		want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
		if !bytes.Equal(got, want) {
			t.Errorf("FlushBuffer() = %v, want %v", got, want)
		}
	})

	t.Run("second flush returns nil", func(t *testing.T) {
		p := NewPipeline(testConfig(), nil)
		p.Start()
		p.ProcessChunk([]byte{1, 2, 3, 4})

		if got := p.FlushBuffer(); got == nil {
			t.Fatal("first flush returned nil, want data")
		}
		if got := p.FlushBuffer(); got != nil {
			t.Errorf("second flush = %v, want nil", got)
		}
	})

	t.Run("empty buffer returns nil without buffer event", func(t *testing.T) {
		p := NewPipeline(testConfig(), nil)
		p.Start()

		fired := 0
		p.OnBuffer(func([]byte) { fired++ })

		if got := p.FlushBuffer(); got != nil {
			t.Errorf("FlushBuffer() on empty buffer = %v, want nil", got)
		}
		if fired != 0 {
			t.Errorf("buffer event fired %d times on empty flush, want 0", fired)
		}
	})
}

func TestPipeline_ProcessChunk(t *testing.T) {
	t.Run("drops chunks while not streaming", func(t *testing.T) {
		p := NewPipeline(testConfig(), nil)

		chunkEvents := 0
		bufferEvents := 0
		p.OnChunk(func([]byte) { chunkEvents++ })
		p.OnBuffer(func([]byte) { bufferEvents++ })

		p.ProcessChunk([]byte{1, 2, 3, 4})
		p.ProcessChunk(nil)

		if chunkEvents != 0 || bufferEvents != 0 {
			t.Errorf("events fired while not streaming: chunk=%d buffer=%d, want 0/0", chunkEvents, bufferEvents)
		}
		if got := p.FlushBuffer(); got != nil {
			t.Errorf("buffer contains %v after dropped chunks, want nil", got)
		}
	})

	t.Run("emits chunk event synchronously while streaming", func(t *testing.T) {
		p := NewPipeline(testConfig(), nil)
		p.Start()

		var seen [][]byte
		p.OnChunk(func(c []byte) { seen = append(seen, c) })

		p.ProcessChunk([]byte{1, 2})
		p.ProcessChunk([]byte{3, 4})

		if len(seen) != 2 {
			t.Fatalf("chunk events = %d, want 2", len(seen))
		}
		if !bytes.Equal(seen[0], []byte{1, 2}) || !bytes.Equal(seen[1], []byte{3, 4}) {
			t.Errorf("chunk events carried %v, want originals", seen)
		}
	})

	t.Run("auto-flushes once buffer window is reached", func(t *testing.T) {
		// 100ms at 16kHz 16-bit mono is 3200 bytes.
		p := NewPipeline(Config{SampleRate: 16000, BufferWindow: 100 * time.Millisecond}, nil)
		p.Start()

		var flushed [][]byte
		p.OnBuffer(func(b []byte) { flushed = append(flushed, b) })

		half := make([]byte, 1600)
		p.ProcessChunk(half)
		if len(flushed) != 0 {
			t.Fatalf("flushed after 50ms of audio, want no flush")
		}
		p.ProcessChunk(half)
		if len(flushed) != 1 {
			t.Fatalf("flush events = %d after 100ms of audio, want 1", len(flushed))
		}
		if len(flushed[0]) != 3200 {
			t.Errorf("flushed %d bytes, want 3200", len(flushed[0]))
		}

		// Buffer is empty again after the auto-flush.
		if got := p.FlushBuffer(); got != nil {
			t.Errorf("buffer contains %v after auto-flush, want nil", got)
		}
	})
}

func TestPipeline_Lifecycle(t *testing.T) {
	t.Run("start resets buffered state", func(t *testing.T) {
		p := NewPipeline(testConfig(), nil)
		p.Start()
		p.ProcessChunk([]byte{1, 2, 3, 4})

		p.Start()
		if got := p.FlushBuffer(); got != nil {
			t.Errorf("buffer after re-Start = %v, want nil", got)
		}
		if !p.IsStreaming() {
			t.Error("IsStreaming() = false after Start")
		}
	})

	t.Run("stop flushes remaining audio before stopped event", func(t *testing.T) {
		p := NewPipeline(testConfig(), nil)
		p.Start()

		var order []string
		p.OnBuffer(func(b []byte) { order = append(order, "buffer") })
		p.OnStopped(func() { order = append(order, "stopped") })

		p.ProcessChunk([]byte{1, 2, 3, 4})
		p.Stop()

		if len(order) != 2 || order[0] != "buffer" || order[1] != "stopped" {
			t.Errorf("event order = %v, want [buffer stopped]", order)
		}
		if p.IsStreaming() {
			t.Error("IsStreaming() = true after Stop")
		}
	})

	t.Run("stop with empty buffer emits no buffer event", func(t *testing.T) {
		p := NewPipeline(testConfig(), nil)
		p.Start()

		buffers := 0
		p.OnBuffer(func([]byte) { buffers++ })
		p.Stop()

		if buffers != 0 {
			t.Errorf("buffer events on empty stop = %d, want 0", buffers)
		}
	})
}

func TestPipeline_BufferedDuration(t *testing.T) {
	p := NewPipeline(Config{SampleRate: 16000, BufferWindow: time.Hour}, nil)
	p.Start()

	// 320 bytes = 160 samples = 10ms at 16kHz.
	p.ProcessChunk(make([]byte, 320))

	if got := p.BufferedDuration(); got != 10*time.Millisecond {
		t.Errorf("BufferedDuration() = %v, want 10ms", got)
	}
}

func TestConvertFormat_Passthrough(t *testing.T) {
	in := []byte{1, 2, 3, 4}
	out := ConvertFormat(in, 48000, 16000)
	if !bytes.Equal(out, in) {
		t.Errorf("ConvertFormat changed data: %v != %v", out, in)
	}
}
