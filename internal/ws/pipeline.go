package ws

import (
	"context"
	"encoding/base64"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"ai-voice-gateway/backend/internal/models"
	wirews "ai-voice-gateway/backend/pkg/ws"
)

const (
	errForbiddenMsg   = "forbidden"
	errUnavailableMsg = "service_unavailable"
	errInternalMsg    = "Internal server error"

	// apologyText is persisted and sent when the resolver fails, so the
	// stored transcript matches what the user was told.
	apologyText = "I'm sorry, I couldn't understand your query"
)

// runTurn executes one turn against the external adapters: recognise,
// persist the user message, resolve, synthesise, persist the assistant
// message, emit the replies. Each phase has its own deadline and failure
// policy. Whatever happens, the session returns to Idle via completeTurn.
func (s *Session) runTurn(ctx context.Context, in turnInput, chatID, userID string) {
	c := s.client
	cfg := c.Hub.config
	log := c.log.WithChatID(chatID).WithUserID(userID).With("source", in.source)

	started := time.Now()
	outcome := "success"
	defer func() {
		if r := recover(); r != nil {
			log.Error("Turn pipeline panic", "panic", r, "stack", string(debug.Stack()))
			c.sendError(errInternalMsg)
			outcome = "panic"
		}
		s.completeTurn()
		turnDuration.WithLabelValues(in.source).Observe(time.Since(started).Seconds())
		turnsTotal.WithLabelValues(in.source, outcome).Inc()
	}()

	// Ownership gate. set_chat_id accepted the id unchecked; a turn may
	// only persist into a chat the caller owns. Foreign and unknown
	// chats get the same answer.
	ownStart := time.Now()
	ownCtx, cancelOwn := context.WithTimeout(ctx, cfg.StoreTimeout)
	err := c.Hub.store.ValidateOwnership(ownCtx, chatID, userID)
	cancelOwn()
	phaseDuration.WithLabelValues("ownership").Observe(time.Since(ownStart).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			outcome = "cancelled"
			return
		}
		switch {
		case errors.Is(err, ErrForbidden):
			log.Warn("Rejected turn against foreign chat")
			c.sendError(errForbiddenMsg)
			outcome = "forbidden"
		case errors.Is(err, ErrUnavailable):
			log.Error("Session store unavailable", "error", err)
			c.sendError(errUnavailableMsg)
			outcome = "unavailable"
		default:
			log.Error("Ownership check failed", "error", err)
			c.sendError(wirews.ReasonPersistError)
			outcome = "persist_failed"
		}
		return
	}

	// Recognise. Voice turns only; text turns arrive transcribed.
	transcript := strings.TrimSpace(in.text)
	if in.source == models.SourceVoice {
		sttStart := time.Now()
		sttCtx, cancelSTT := context.WithTimeout(ctx, cfg.STTTimeout)
		tr, err := c.Hub.stt.Transcribe(sttCtx, in.audio)
		cancelSTT()
		phaseDuration.WithLabelValues("stt").Observe(time.Since(sttStart).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				outcome = "cancelled"
				return
			}
			if errors.Is(err, ErrUnavailable) {
				log.Error("STT adapter unavailable", "error", err)
				c.sendError(errUnavailableMsg)
				outcome = "unavailable"
				return
			}
			log.Warn("Transcription failed", "error", err)
			c.sendFrame(wirews.NewSpeechFailure(wirews.ReasonSTTFailed))
			outcome = "stt_failed"
			return
		}
		transcript = strings.TrimSpace(tr.Text)
		if transcript == "" {
			c.sendFrame(wirews.NewSpeechFailure(wirews.ReasonNoSpeech))
			outcome = "no_speech"
			return
		}
	}

	// Persist the user message before resolving. An assistant reply
	// without a durable user utterance would corrupt the transcript.
	userStart := time.Now()
	userCtx, cancelUser := context.WithTimeout(ctx, cfg.StoreTimeout)
	_, err = c.Hub.store.AppendMessage(userCtx, chatID, models.RoleUser, transcript, in.source)
	cancelUser()
	phaseDuration.WithLabelValues("persist_user").Observe(time.Since(userStart).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			outcome = "cancelled"
			return
		}
		log.Error("Failed to persist user message", "error", err)
		c.sendError(wirews.ReasonPersistError)
		outcome = "persist_failed"
		return
	}

	// Resolve.
	var reply string
	var meta *wirews.QueryMetadata
	queryStart := time.Now()
	queryCtx, cancelQuery := context.WithTimeout(ctx, cfg.QueryTimeout)
	answer, err := c.Hub.resolver.Resolve(queryCtx, userID, transcript)
	cancelQuery()
	phaseDuration.WithLabelValues("resolve").Observe(time.Since(queryStart).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			outcome = "cancelled"
			return
		}
		if errors.Is(err, ErrUnavailable) {
			log.Error("Query resolver unavailable", "error", err)
			c.sendError(errUnavailableMsg)
			outcome = "unavailable"
			return
		}
		// Resolver trouble must not leave the user hanging: apologise,
		// keep the transcript consistent, skip synthesis.
		log.Warn("Query resolution failed, sending apology", "error", err)
		reply = apologyText
		apologyCtx, cancelApology := context.WithTimeout(ctx, cfg.StoreTimeout)
		if _, perr := c.Hub.store.AppendMessage(apologyCtx, chatID, models.RoleAssistant, reply, models.SourceText); perr != nil {
			log.Error("Failed to persist assistant message", "error", perr)
			assistantPersistFailures.Inc()
		}
		cancelApology()
		c.sendFrame(wirews.NewSpeechResponse(transcript, reply, nil))
		outcome = "resolver_fallback"
		return
	}
	reply = answer.Text
	meta = &wirews.QueryMetadata{Intent: answer.Intent, Confidence: answer.Confidence}

	// Synthesise. The answer still stands without audio, so any failure
	// here only drops the audio_content frame.
	var audioB64 string
	ttsStart := time.Now()
	ttsCtx, cancelTTS := context.WithTimeout(ctx, cfg.TTSTimeout)
	audio, terr := c.Hub.tts.Synthesize(ttsCtx, reply)
	cancelTTS()
	phaseDuration.WithLabelValues("synthesize").Observe(time.Since(ttsStart).Seconds())
	if terr != nil {
		if ctx.Err() != nil {
			outcome = "cancelled"
			return
		}
		log.Warn("Synthesis failed, replying without audio", "error", terr)
	} else if len(audio) > 0 {
		audioB64 = base64.StdEncoding.EncodeToString(audio)
	}

	// Persist the assistant message. Failure is not surfaced: the user
	// is about to get their answer, and the counter is the operator's
	// signal that the stored transcript diverged.
	assistantStart := time.Now()
	assistantCtx, cancelAssistant := context.WithTimeout(ctx, cfg.StoreTimeout)
	if _, perr := c.Hub.store.AppendMessage(assistantCtx, chatID, models.RoleAssistant, reply, models.SourceText); perr != nil {
		log.Error("Failed to persist assistant message", "error", perr)
		assistantPersistFailures.Inc()
	}
	cancelAssistant()
	phaseDuration.WithLabelValues("persist_assistant").Observe(time.Since(assistantStart).Seconds())
	if ctx.Err() != nil {
		outcome = "cancelled"
		return
	}

	// Emit, in this order and with nothing in between: the reply pair for
	// one turn is contiguous on the wire. Guard replies go out under the
	// session lock, so holding it here keeps them from landing between
	// the two frames. Neither send blocks.
	s.mu.Lock()
	c.sendFrame(wirews.NewSpeechResponse(transcript, reply, meta))
	if audioB64 != "" {
		c.sendFrame(wirews.NewAudioContent(audioB64))
	}
	s.mu.Unlock()
}
