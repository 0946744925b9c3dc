package tts

// ElevenLabsVoices maps friendly preset names to ElevenLabs voice IDs.
var ElevenLabsVoices = map[string]string{
	"rachel":    "21m00Tcm4TlvDq8ikWAM", // American female, calm
	"charlotte": "XB0fDUnXU5powFXDhCwa", // British female, warm
	"aria":      "9BWtsMINqrJLrRacOk9x", // American female, expressive
	"sarah":     "EXAVITQu4vr4xnSDxMaL", // American female, soft
	"domi":      "AZnzlk1XvdvUeBnXmlld", // American female, strong
	"josh":      "TxGEqnHWrfWFTfGW9XjX", // American male, deep
	"adam":      "pNInz6obpgDQGcFmaJgB", // American male, deep
}

// DefaultElevenLabsVoiceID is the "rachel" preset.
const DefaultElevenLabsVoiceID = "21m00Tcm4TlvDq8ikWAM"

// ResolveElevenLabsVoice returns the voice ID for a preset name,
// or the input unchanged if it's already a voice ID.
func ResolveElevenLabsVoice(name string) string {
	if id, ok := ElevenLabsVoices[name]; ok {
		return id
	}
	return name
}
