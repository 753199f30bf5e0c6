package queue

const TypeAudioGenerate = "audio:generate"

type AudioGeneratePayload struct {
	AudioID string `json:"audio_id"`
}
