// Command providersim is a local stand-in for the three external
// providers the gateway calls: speech recognition, speech synthesis,
// and query resolution. It answers the same request shapes the real
// providers use, so the gateway runs end to end with no cloud
// credentials.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ai-voice-gateway/backend/ai"
)

const (
	defaultSpeechPort   = "5001"
	defaultResolverPort = "5002"
)

// cannedTranscripts is what "recognition" picks from; the choice is a
// stable function of the audio bytes so repeated requests agree.
var cannedTranscripts = []string{
	"what's the weather like today",
	"what time is it",
	"what is my account balance",
	"help me with my settings",
	"tell me something interesting",
}

func main() {
	speechPortPtr := flag.String("speech-port", defaultSpeechPort, "Port for the recognize and synthesize endpoints")
	resolverPortPtr := flag.String("resolver-port", defaultResolverPort, "Port for the query resolution endpoints")
	apiKeyPtr := flag.String("api-key", "", "When set, requests must carry this key or they are rejected")
	latencyPtr := flag.Duration("latency", 0, "Artificial delay added to every response")

	flag.Parse()

	gin.SetMode(gin.ReleaseMode)

	sim := &simulator{
		apiKey:  *apiKeyPtr,
		latency: *latencyPtr,
		context: make(map[string][]string),
	}

	speechSrv := &http.Server{Addr: ":" + *speechPortPtr, Handler: sim.speechEngine()}
	resolverSrv := &http.Server{Addr: ":" + *resolverPortPtr, Handler: sim.resolverEngine()}

	go func() {
		log.Printf("Speech provider listening on :%s", *speechPortPtr)
		if err := speechSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Speech provider failed: %v", err)
		}
	}()
	go func() {
		log.Printf("Resolver provider listening on :%s", *resolverPortPtr)
		if err := resolverSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Resolver provider failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down providers...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = speechSrv.Shutdown(ctx)
	_ = resolverSrv.Shutdown(ctx)
}

type simulator struct {
	apiKey  string
	latency time.Duration

	mu      sync.Mutex
	context map[string][]string
}

func (s *simulator) speechEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.delay())

	engine.POST("/v1/speech:recognize", s.requireKey("X-Goog-Api-Key"), s.recognize)
	engine.POST("/v1/text:synthesize", s.requireKey("X-Goog-Api-Key"), s.synthesize)
	engine.GET("/health", s.health)

	return engine
}

func (s *simulator) resolverEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.delay())

	engine.POST("/query", s.requireKey("X-Api-Key"), s.resolve)
	engine.POST("/clear-context", s.requireKey("X-Api-Key"), s.clearContext)
	engine.GET("/health", s.health)

	return engine
}

// delay injects the configured latency, for exercising the gateway's
// per-phase deadlines.
func (s *simulator) delay() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		c.Next()
	}
}

func (s *simulator) requireKey(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiKey != "" && c.GetHeader(header) != s.apiKey {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

func (s *simulator) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// recognize mimics the cloud speech API: audio comes in base64, the
// transcript goes out under results[].alternatives[]. Empty audio yields
// an empty result set, which the gateway treats as silence.
func (s *simulator) recognize(c *gin.Context) {
	var req struct {
		Config struct {
			Encoding        string `json:"encoding"`
			SampleRateHertz int    `json:"sampleRateHertz"`
			LanguageCode    string `json:"languageCode"`
		} `json:"config"`
		Audio struct {
			Content string `json:"content"`
		} `json:"audio"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	audio, err := base64.StdEncoding.DecodeString(req.Audio.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio content is not valid base64"})
		return
	}

	if len(audio) == 0 {
		c.JSON(http.StatusOK, gin.H{"results": []gin.H{}})
		return
	}

	h := fnv.New32a()
	h.Write(audio)
	transcript := cannedTranscripts[int(h.Sum32())%len(cannedTranscripts)]

	c.JSON(http.StatusOK, gin.H{
		"results": []gin.H{
			{
				"alternatives": []gin.H{
					{"transcript": transcript, "confidence": 0.93},
				},
			},
		},
	})
}

// synthesize returns a minimal MP3 payload derived from the input text.
// The bytes carry a valid ID3 header so saved files are recognisable,
// but no player output is intended.
func (s *simulator) synthesize(c *gin.Context) {
	var req struct {
		Input struct {
			Text string `json:"text"`
		} `json:"input"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Input.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input text is required"})
		return
	}

	audio := make([]byte, 0, 12+len(req.Input.Text))
	audio = append(audio, 'I', 'D', '3', 3, 0, 0, 0, 0, 0, 0)
	audio = append(audio, 0xFF, 0xFB)
	audio = append(audio, []byte(req.Input.Text)...)

	c.JSON(http.StatusOK, gin.H{
		"audioContent": base64.StdEncoding.EncodeToString(audio),
	})
}

// resolve classifies the query by keyword and answers it, remembering
// the query for the user until clear-context.
func (s *simulator) resolve(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
		Query  string `json:"query"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	s.mu.Lock()
	s.context[req.UserID] = append(s.context[req.UserID], req.Query)
	s.mu.Unlock()

	intent, confidence, response := classify(req.Query)

	c.JSON(http.StatusOK, gin.H{
		"userId":    req.UserID,
		"query":     req.Query,
		"response":  response,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"metadata": gin.H{
			"intent":     intent,
			"confidence": confidence,
		},
	})
}

func (s *simulator) clearContext(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.mu.Lock()
	delete(s.context, req.UserID)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func classify(query string) (intent string, confidence float64, response string) {
	q := strings.ToLower(query)

	switch {
	case containsAny(q, "weather", "rain", "sunny", "temperature"):
		return ai.IntentWeather, 0.92, "It's 72 degrees and sunny right now."
	case containsAny(q, "time", "clock", "hour"):
		return ai.IntentTime, 0.95, fmt.Sprintf("It's %s.", time.Now().Format("3:04 PM"))
	case containsAny(q, "account", "balance", "billing"):
		return ai.IntentAccount, 0.88, "Your account balance is $1,234.56."
	case containsAny(q, "help", "how do", "settings"):
		return ai.IntentHelp, 0.90, "You can ask me about the weather, the time, or your account."
	default:
		return ai.IntentUnknown, 0.40, "I'm not sure about that, but I'm learning new things every day."
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
