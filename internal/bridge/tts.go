package bridge

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/codec"
)

// synthesizer renders one text segment as telephony-rate PCM.
type synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]int16, error)
}

// openaiSynth speaks through the provider's TTS endpoint, which emits
// 24 kHz PCM. Decimation to the telephony rate happens here so callers
// only ever see 8 kHz samples.
type openaiSynth struct {
	client *openai.Client
	model  openai.SpeechModel
}

func newOpenAISynth(apiKey string) *openaiSynth {
	return &openaiSynth{
		client: openai.NewClient(apiKey),
		model:  openai.TTSModel1,
	}
}

func (s *openaiSynth) Synthesize(ctx context.Context, text, voice string) ([]int16, error) {
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	defer resp.Close()

	raw, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}

	samples := codec.BytesToPCM(raw)
	return codec.Downsample(samples, codec.SynthesisRate/codec.TelephonyRate), nil
}
