package audioio

import "time"

// AudioChunk represents one bounded frame of audio samples at a fixed rate.
type AudioChunk struct {
	// Samples contains PCM16 audio samples (little-endian on the wire).
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int
}

// Bytes returns the raw little-endian PCM16 bytes of the chunk.
func (c *AudioChunk) Bytes() []byte {
	buf := make([]byte, len(c.Samples)*2)
	for i, s := range c.Samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

// FromBytes populates the chunk from raw PCM16 bytes.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = make([]int16, len(data)/2)
	for i := range c.Samples {
		c.Samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
}

// FromFloat32 encodes a float sample buffer (range [-1, 1]) into PCM16.
// Out-of-range samples are clamped rather than wrapped.
func (c *AudioChunk) FromFloat32(samples []float32, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = make([]int16, len(samples))
	for i, f := range samples {
		switch {
		case f >= 1.0:
			c.Samples[i] = 32767
		case f <= -1.0:
			c.Samples[i] = -32768
		default:
			c.Samples[i] = int16(f * 32767)
		}
	}
}

// Duration returns the playback duration of this chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(float64(frames) / float64(c.SampleRate) * float64(time.Second))
}

// PCMDuration returns the duration of raw PCM16 bytes at the given rate.
func PCMDuration(data []byte, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := len(data) / 2 / channels
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}
