// Package ai holds the HTTP adapters for the external speech and query
// resolution providers.
package ai

import "errors"

// Intent labels recognised in resolver metadata
const (
	IntentWeather = "WEATHER_QUERY"
	IntentTime    = "TIME_QUERY"
	IntentAccount = "ACCOUNT_QUERY"
	IntentHelp    = "HELP_REQUEST"
	IntentUnknown = "UNKNOWN"
)

// ErrNotConfigured is returned when an adapter is missing its endpoint.
// Callers surface it as a service_unavailable condition rather than a
// per-turn provider failure.
var ErrNotConfigured = errors.New("provider endpoint not configured")

// Transcription is the outcome of one speech recognition request.
// Text is empty when the provider recognised no speech, which is a
// legal outcome and not an error.
type Transcription struct {
	Text       string
	Confidence float64
}

// QueryResult is the resolver's answer to one user utterance
type QueryResult struct {
	Response   string
	Intent     string
	Confidence float64
}

// SpeechConfig carries the fixed recognition and synthesis parameters
type SpeechConfig struct {
	LanguageCode string
	SampleRateHz int
	VoiceName    string
	VoiceGender  string
	SpeakingRate float64
}

// NormalizeIntent maps a provider-supplied label onto the recognised
// taxonomy, defaulting to UNKNOWN.
func NormalizeIntent(label string) string {
	switch label {
	case IntentWeather, IntentTime, IntentAccount, IntentHelp:
		return label
	default:
		return IntentUnknown
	}
}
