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

// STTClient calls the speech recognition provider. One request carries
// one complete utterance as LINEAR16 WAV audio.
type STTClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	config     SpeechConfig
	breaker    *resilience.CircuitBreaker
	log        *logger.Logger
}

func NewSTTClient(baseURL, apiKey string, config SpeechConfig, breaker *resilience.CircuitBreaker, log *logger.Logger) *STTClient {
	return &STTClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		config:     config,
		breaker:    breaker,
		log:        log,
	}
}

// Transcribe sends the audio for recognition and returns the combined
// transcript. An empty transcript means the provider heard no speech.
func (c *STTClient) Transcribe(ctx context.Context, audio []byte) (*Transcription, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	type recognitionConfig struct {
		Encoding        string `json:"encoding"`
		SampleRateHertz int    `json:"sampleRateHertz"`
		LanguageCode    string `json:"languageCode"`
	}
	type recognitionAudio struct {
		Content string `json:"content"`
	}
	type recognizeRequest struct {
		Config recognitionConfig `json:"config"`
		Audio  recognitionAudio  `json:"audio"`
	}

	requestBody := recognizeRequest{
		Config: recognitionConfig{
			Encoding:        "LINEAR16",
			SampleRateHertz: c.config.SampleRateHz,
			LanguageCode:    c.config.LanguageCode,
		},
		Audio: recognitionAudio{
			Content: base64.StdEncoding.EncodeToString(audio),
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling recognize request: %w", err)
	}

	var result Transcription
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/speech:recognize", bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("error creating recognize request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Goog-Api-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("error making recognize request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("recognize request failed with status code %d: %s", resp.StatusCode, string(bodyBytes))
		}

		var recognizeResponse struct {
			Results []struct {
				Alternatives []struct {
					Transcript string  `json:"transcript"`
					Confidence float64 `json:"confidence"`
				} `json:"alternatives"`
			} `json:"results"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&recognizeResponse); err != nil {
			return fmt.Errorf("error decoding recognize response: %w", err)
		}

		var parts []string
		for _, r := range recognizeResponse.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			parts = append(parts, r.Alternatives[0].Transcript)
			if result.Confidence == 0 {
				result.Confidence = r.Alternatives[0].Confidence
			}
		}
		result.Text = strings.TrimSpace(strings.Join(parts, " "))

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}
