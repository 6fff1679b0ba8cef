package player

import (
	"github.com/rs/zerolog/log"
	"github.com/tosone/minimp3"
)

const (
	// maxBufferBytes triggers a trim once the rolling compressed buffer
	// grows past it; keepBufferBytes is retained for frame continuity.
	maxBufferBytes  = 5 * 1024 * 1024
	keepBufferBytes = 2 * 1024 * 1024
)

// decodeFunc decodes every complete frame in buf and returns the PCM as
// interleaved 16-bit stereo. A trailing incomplete frame is not an error,
// it simply produces no samples until more bytes arrive.
type decodeFunc func(buf []byte) []int16

// decodeFrames is the production decoder, backed by minimp3. Mono input
// is duplicated into both channels; the output format is otherwise
// assumed to be 44.1kHz stereo and is not read from container metadata.
func decodeFrames(buf []byte) []int16 {
	dec, data, err := minimp3.DecodeFull(buf)
	if err != nil || len(data) < 2 {
		return nil
	}

	n := len(data) / 2
	if dec.Channels == 1 {
		out := make([]int16, 0, n*2)
		for i := 0; i < n; i++ {
			s := int16(data[i*2]) | int16(data[i*2+1])<<8
			out = append(out, s, s)
		}
		return out
	}

	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out
}

// streamBuffer is the rolling buffer of not-yet-fully-decoded compressed
// bytes. It is owned exclusively by the pipeline goroutine. The emitted
// mark tracks how much decoded PCM has already been forwarded from the
// buffer's current state, so growing the buffer and re-decoding it never
// re-forwards a frame.
type streamBuffer struct {
	data    []byte
	emitted int // decoded samples already forwarded, relative to data's start
	decode  decodeFunc
}

func newStreamBuffer(decode decodeFunc) *streamBuffer {
	if decode == nil {
		decode = decodeFrames
	}
	return &streamBuffer{decode: decode}
}

func (b *streamBuffer) append(chunk []byte) {
	b.data = append(b.data, chunk...)
}

func (b *streamBuffer) len() int {
	return len(b.data)
}

// drainNew decodes all complete frames from the buffer start and returns
// only the samples past the emitted mark, advancing it.
func (b *streamBuffer) drainNew() []int16 {
	pcm := b.decode(b.data)
	if len(pcm) <= b.emitted {
		return nil
	}
	fresh := pcm[b.emitted:]
	b.emitted = len(pcm)

	out := make([]int16, len(fresh))
	copy(out, fresh)
	return out
}

// trim enforces the buffer bound: past maxBufferBytes only the last
// keepBufferBytes are kept. The emitted mark is re-derived against the
// kept tail, so indices become relative to the new buffer start without
// re-forwarding any frame that already went out.
func (b *streamBuffer) trim() {
	if len(b.data) <= maxBufferBytes {
		return
	}

	trimmed := len(b.data) - keepBufferBytes
	tail := make([]byte, keepBufferBytes)
	copy(tail, b.data[trimmed:])
	b.data = tail

	b.emitted = len(b.decode(b.data))
	log.Debug().Msgf("Trimmed %d KB from stream buffer, %d KB kept", trimmed/1024, len(b.data)/1024)
}
