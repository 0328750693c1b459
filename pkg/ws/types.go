// Package ws defines the wire-level frame shapes shared by the gateway,
// the probe CLI, and tests. Control frames travel as JSON text frames;
// utterance audio travels as a single binary frame per turn.
package ws

// Inbound control frame types.
const (
	TypeAuth         = "auth"
	TypeUserInfo     = "user_info"
	TypeSetChatID    = "set_chat_id"
	TypeStartStream  = "start_stream"
	TypeEndStream    = "end_stream"
	TypeTextMessage  = "text_message"
	TypeClearContext = "clear_context"
)

// Outbound frame types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeAuthSuccess           = "auth_success"
	TypeAuthError             = "auth_error"
	TypeSpeechResponse        = "speech_response"
	TypeAudioContent          = "audio_content"
	TypeError                 = "error"
)

// Failure reasons carried by an unsuccessful speech_response.
const (
	ReasonNoSpeech     = "no_speech"
	ReasonSTTFailed    = "stt_failed"
	ReasonPersistError = "persist_failed"
)

// ControlFrame is the envelope for every inbound text frame. Type is the
// discriminator; the remaining fields are populated per type.
type ControlFrame struct {
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	UserID string `json:"userId,omitempty"`
	ChatID string `json:"chatId,omitempty"`
	Text   string `json:"text,omitempty"`
}

// ConnectionEstablished is sent once, immediately after a successful upgrade.
type ConnectionEstablished struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	Authenticated bool   `json:"authenticated"`
}

// AuthSuccess acknowledges a mid-connection auth frame.
type AuthSuccess struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// AuthError rejects a mid-connection auth frame.
type AuthError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// QueryMetadata is the resolver classification attached to a successful turn.
type QueryMetadata struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// SpeechResponse closes a turn. Success carries the transcription, the
// resolved answer, and its metadata; failure carries only a reason.
type SpeechResponse struct {
	Type          string         `json:"type"`
	Success       bool           `json:"success"`
	Transcription string         `json:"transcription,omitempty"`
	TextResponse  string         `json:"textResponse,omitempty"`
	Metadata      *QueryMetadata `json:"metadata,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

// AudioContent carries the synthesized reply as base64 MP3. Sent after the
// turn's SpeechResponse and only when synthesis produced audio.
type AudioContent struct {
	Type         string `json:"type"`
	AudioContent string `json:"audioContent"`
}

// ErrorFrame reports protocol, guard, and pipeline errors without closing
// the connection.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewConnectionEstablished builds the post-upgrade hello frame.
func NewConnectionEstablished(message string, authenticated bool) ConnectionEstablished {
	return ConnectionEstablished{Type: TypeConnectionEstablished, Message: message, Authenticated: authenticated}
}

// NewAuthSuccess builds an auth_success frame.
func NewAuthSuccess(userID string) AuthSuccess {
	return AuthSuccess{Type: TypeAuthSuccess, UserID: userID}
}

// NewAuthError builds an auth_error frame.
func NewAuthError(msg string) AuthError {
	return AuthError{Type: TypeAuthError, Error: msg}
}

// NewSpeechResponse builds the success variant of speech_response.
func NewSpeechResponse(transcription, textResponse string, metadata *QueryMetadata) SpeechResponse {
	return SpeechResponse{
		Type:          TypeSpeechResponse,
		Success:       true,
		Transcription: transcription,
		TextResponse:  textResponse,
		Metadata:      metadata,
	}
}

// NewSpeechFailure builds the failure variant of speech_response.
func NewSpeechFailure(reason string) SpeechResponse {
	return SpeechResponse{Type: TypeSpeechResponse, Success: false, Reason: reason}
}

// NewAudioContent builds an audio_content frame from already-encoded base64.
func NewAudioContent(b64 string) AudioContent {
	return AudioContent{Type: TypeAudioContent, AudioContent: b64}
}

// NewErrorFrame builds an error frame.
func NewErrorFrame(msg string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Error: msg}
}
