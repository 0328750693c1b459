package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-voice-gateway/backend/pkg/logger"
	"ai-voice-gateway/backend/pkg/resilience"
)

// TTSClient calls the speech synthesis provider and returns MP3 audio.
type TTSClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	config     SpeechConfig
	breaker    *resilience.CircuitBreaker
	log        *logger.Logger
}

func NewTTSClient(baseURL, apiKey string, config SpeechConfig, breaker *resilience.CircuitBreaker, log *logger.Logger) *TTSClient {
	return &TTSClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		config:     config,
		breaker:    breaker,
		log:        log,
	}
}

// Synthesize converts the answer text to MP3 bytes.
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	type synthesisInput struct {
		Text string `json:"text"`
	}
	type voiceSelection struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name,omitempty"`
		SsmlGender   string `json:"ssmlGender,omitempty"`
	}
	type audioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate"`
		Pitch         float64 `json:"pitch"`
		VolumeGainDb  float64 `json:"volumeGainDb"`
	}
	type synthesizeRequest struct {
		Input       synthesisInput `json:"input"`
		Voice       voiceSelection `json:"voice"`
		AudioConfig audioConfig    `json:"audioConfig"`
	}

	requestBody := synthesizeRequest{
		Input: synthesisInput{Text: text},
		Voice: voiceSelection{
			LanguageCode: c.config.LanguageCode,
			Name:         c.config.VoiceName,
			SsmlGender:   c.config.VoiceGender,
		},
		AudioConfig: audioConfig{
			AudioEncoding: "MP3",
			SpeakingRate:  c.config.SpeakingRate,
			Pitch:         0.0,
			VolumeGainDb:  1.0,
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling synthesize request: %w", err)
	}

	var audioData []byte
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/text:synthesize", bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("error creating synthesize request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Goog-Api-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("error making synthesize request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("synthesize request failed with status code %d: %s", resp.StatusCode, string(bodyBytes))
		}

		var synthesizeResponse struct {
			AudioContent string `json:"audioContent"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&synthesizeResponse); err != nil {
			return fmt.Errorf("error decoding synthesize response: %w", err)
		}

		if synthesizeResponse.AudioContent == "" {
			return fmt.Errorf("synthesize response contained no audio")
		}

		audioData, err = base64.StdEncoding.DecodeString(synthesizeResponse.AudioContent)
		if err != nil {
			return fmt.Errorf("error decoding synthesized audio: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return audioData, nil
}
