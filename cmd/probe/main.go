// Command probe exercises a running gateway end to end: it creates a
// chat over REST, dials the WebSocket endpoint, sends one text or voice
// turn, and prints every frame the server replies with.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"ai-voice-gateway/backend/pkg/jwt"
	wirews "ai-voice-gateway/backend/pkg/ws"
)

const (
	defaultAddr  = "localhost:7000"
	defaultTitle = "probe session"
)

// serverFrame is a loose union of every outbound frame shape, decoded by type.
type serverFrame struct {
	Type          string                `json:"type"`
	Message       string                `json:"message"`
	Authenticated bool                  `json:"authenticated"`
	UserID        string                `json:"userId"`
	Error         string                `json:"error"`
	Success       bool                  `json:"success"`
	Transcription string                `json:"transcription"`
	TextResponse  string                `json:"textResponse"`
	Metadata      *wirews.QueryMetadata `json:"metadata"`
	Reason        string                `json:"reason"`
	AudioContent  string                `json:"audioContent"`
}

func main() {
	addrPtr := flag.String("addr", defaultAddr, "Gateway host:port")
	tokenPtr := flag.String("token", "", "JWT for the token query parameter; empty dials anonymously")
	userPtr := flag.String("user", "", "Mint a token for this user id with the JWT_SECRET environment secret")
	chatPtr := flag.String("chat", "", "Existing chat id; empty creates a new chat first")
	titlePtr := flag.String("title", defaultTitle, "Title for a newly created chat")
	textPtr := flag.String("text", "", "Send one text turn with this content")
	audioPtr := flag.String("audio", "", "Send one voice turn from this audio file")
	outPtr := flag.String("out", "./replies", "Directory for saved reply audio")
	waitPtr := flag.Duration("wait", 10*time.Second, "How long to wait for the reply before disconnecting")
	helpPtr := flag.Bool("help", false, "Show usage information")

	flag.Parse()

	if *helpPtr || (*textPtr == "" && *audioPtr == "") {
		fmt.Println("Gateway probe usage:")
		fmt.Println("  -addr    Gateway host:port (default localhost:7000)")
		fmt.Println("  -token   JWT passed as the token query parameter")
		fmt.Println("  -user    Mint a token for this user id (uses JWT_SECRET)")
		fmt.Println("  -chat    Existing chat id; omit to create a new chat via /api/chat/new")
		fmt.Println("  -text    Send a text turn")
		fmt.Println("  -audio   Send a voice turn from an audio file")
		fmt.Println("  -out     Directory for saved reply audio (default ./replies)")
		fmt.Println("  -wait    Reply wait before disconnecting (default 10s)")
		os.Exit(0)
	}

	token := *tokenPtr
	if token == "" && *userPtr != "" {
		minted, err := jwt.GenerateToken(*userPtr, jwt.RoleUser)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		log.Printf("Minted token for %s", *userPtr)
		token = minted
	}

	chatID := *chatPtr
	if chatID == "" {
		if token == "" {
			log.Fatal("Creating a chat requires -token or -user; pass -chat to reuse an existing one")
		}
		created, err := createChat(*addrPtr, token, *titlePtr)
		if err != nil {
			log.Fatalf("Failed to create chat: %v", err)
		}
		log.Printf("Created chat %s", created)
		chatID = created
	}

	if err := os.MkdirAll(*outPtr, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	wsURL := url.URL{Scheme: "ws", Host: *addrPtr, Path: "/"}
	if token != "" {
		wsURL.RawQuery = "token=" + url.QueryEscape(token)
	}

	log.Printf("Dialing %s", wsURL.Host)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Fatalf("Error connecting to WebSocket: %v", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		readFrames(conn, *outPtr)
	}()

	if err := conn.WriteJSON(wirews.ControlFrame{Type: wirews.TypeSetChatID, ChatID: chatID}); err != nil {
		log.Fatalf("Error sending set_chat_id: %v", err)
	}

	if *textPtr != "" {
		if err := conn.WriteJSON(wirews.ControlFrame{Type: wirews.TypeTextMessage, Text: *textPtr}); err != nil {
			log.Fatalf("Error sending text_message: %v", err)
		}
		log.Printf("Sent text turn (%d bytes)", len(*textPtr))
	} else {
		if err := sendVoiceTurn(conn, *audioPtr); err != nil {
			log.Fatalf("Error sending voice turn: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(*waitPtr):
		log.Println("Wait elapsed, disconnecting...")
		closeGracefully(conn, done)
	case <-interrupt:
		log.Println("Interrupt received, shutting down...")
		closeGracefully(conn, done)
	}
}

// sendVoiceTurn frames one utterance the way a browser client does: a
// start_stream marker, the audio as a single binary frame, then end_stream.
func sendVoiceTurn(conn *websocket.Conn, path string) error {
	audio, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading audio file: %w", err)
	}

	if err := conn.WriteJSON(wirews.ControlFrame{Type: wirews.TypeStartStream}); err != nil {
		return fmt.Errorf("error sending start_stream: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("error sending audio frame: %w", err)
	}
	if err := conn.WriteJSON(wirews.ControlFrame{Type: wirews.TypeEndStream}); err != nil {
		return fmt.Errorf("error sending end_stream: %w", err)
	}

	log.Printf("Sent voice turn from %s (%d bytes)", filepath.Base(path), len(audio))
	return nil
}

// readFrames logs every server frame until the connection closes, saving
// reply audio to outputDir as it arrives.
func readFrames(conn *websocket.Conn, outputDir string) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Printf("Error unmarshaling frame: %v", err)
			continue
		}

		switch frame.Type {
		case wirews.TypeConnectionEstablished:
			log.Printf("Connected: %s (authenticated=%v)", frame.Message, frame.Authenticated)
		case wirews.TypeAuthSuccess:
			log.Printf("Authenticated as %s", frame.UserID)
		case wirews.TypeAuthError:
			log.Printf("Auth rejected: %s", frame.Error)
		case wirews.TypeSpeechResponse:
			if frame.Success {
				log.Printf("Transcription: %q", frame.Transcription)
				log.Printf("Response: %q", frame.TextResponse)
				if frame.Metadata != nil {
					log.Printf("Intent: %s (confidence %.2f)", frame.Metadata.Intent, frame.Metadata.Confidence)
				}
			} else {
				log.Printf("Turn failed: %s", frame.Reason)
			}
		case wirews.TypeAudioContent:
			saveReplyAudio(frame.AudioContent, outputDir)
		case wirews.TypeError:
			log.Printf("Server error: %s", frame.Error)
		default:
			log.Printf("Unhandled frame: %s", string(message))
		}
	}
}

// saveReplyAudio decodes the base64 MP3 payload and writes it to disk.
func saveReplyAudio(b64 string, outputDir string) {
	audio, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		log.Printf("Error decoding reply audio: %v", err)
		return
	}

	filename := filepath.Join(outputDir, fmt.Sprintf("reply-%d.mp3", time.Now().UnixNano()))
	if err := os.WriteFile(filename, audio, 0644); err != nil {
		log.Printf("Error saving reply audio: %v", err)
		return
	}
	log.Printf("Saved reply audio: %s (%d bytes)", filename, len(audio))
}

// closeGracefully performs the close handshake and waits briefly for the
// server to finish its side.
func closeGracefully(conn *websocket.Conn, done chan struct{}) {
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		log.Printf("Error during closing websocket: %v", err)
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

// createChat provisions a chat session over REST and returns its id.
func createChat(addr, token, title string) (string, error) {
	payload, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequest("POST", "http://"+addr+"/api/chat/new", bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("error response: %s, status: %d", string(bodyBytes), resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			ChatID string `json:"chatId"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}
	if !result.Success || result.Data.ChatID == "" {
		return "", fmt.Errorf("unexpected response shape")
	}

	return result.Data.ChatID, nil
}
