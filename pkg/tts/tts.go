// Package tts turns assistant replies into audio.
//
// Two HTTP backends are provided, ElevenLabs and OpenAI, plus a Mock for
// tests. Every provider makes exactly one attempt per call and is bounded by
// its configured timeout; callers treat a failure as "no audio" and move on.
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithVoice(tts.ResolveElevenLabsVoice("rachel")),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Hello world")
package tts

import (
	"context"
	"time"
)

// Provider synthesizes speech from text.
type Provider interface {
	// Synthesize converts text to audio, returning the complete buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult is a complete synthesized clip.
type AudioResult struct {
	Audio  []byte
	Format AudioFormat

	// Duration is estimated from the byte count and encoding.
	Duration time.Duration

	CharCount int
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// MIME returns the content type matching the encoding.
func (f AudioFormat) MIME() string {
	switch f.Encoding {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return "audio/pcm"
	case EncodingOpus:
		return "audio/opus"
	case EncodingULaw:
		return "audio/basic"
	default:
		return "audio/mpeg"
	}
}

// Encoding names an output format. Values match the ElevenLabs
// output_format query parameter.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"

	EncodingMP3  Encoding = "mp3_44100_128"
	EncodingOpus Encoding = "opus"
	EncodingULaw Encoding = "ulaw_8000"
)

// IsPCM reports whether the encoding is raw 16-bit PCM.
func (e Encoding) IsPCM() bool {
	switch e {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return true
	}
	return false
}

// VoiceSettings controls voice characteristics for providers that support it.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	// Lower values are more expressive, higher are more consistent.
	Stability float64

	// SimilarityBoost controls how closely the voice matches the sample (0.0-1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0-1.0). ElevenLabs v2 models only.
	Style float64

	SpeakerBoost bool
}

// DefaultVoiceSettings returns a balanced, conversational voice.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.5,
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	case EncodingULaw:
		return 8000
	default:
		return 24000
	}
}

// EstimateDuration estimates playback length of n bytes of audio.
func EstimateDuration(enc Encoding, n int) time.Duration {
	var seconds float64
	switch {
	case enc.IsPCM():
		seconds = float64(n/2) / float64(SampleRateFromEncoding(enc))
	case enc == EncodingULaw:
		seconds = float64(n) / 8000
	default:
		// 128 kbps covers both the mp3 and opus defaults closely enough.
		seconds = float64(n*8) / 128000
	}
	return time.Duration(seconds * float64(time.Second))
}
