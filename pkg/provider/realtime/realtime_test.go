package realtime_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxlead-ai/voxlead/pkg/conversation"
	"github.com/voxlead-ai/voxlead/pkg/provider"
	"github.com/voxlead-ai/voxlead/pkg/provider/realtime"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startRealtimeServer launches a test WebSocket server. The handler receives
// the accepted conn. The server is automatically closed when the test finishes.
func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// connect dials the test server and fails the test on error. The session is
// disconnected automatically on cleanup.
func connect(t *testing.T, p *realtime.Provider) {
	t.Helper()
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = p.Disconnect(context.Background()) })
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestInitialize_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	p := realtime.New("", nil)
	if err := p.Initialize(context.Background()); err == nil {
		t.Fatal("Initialize with empty key should return an error")
	}

	p = realtime.New("key", nil)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func TestConnect_SendsSessionUpdateAndAuth(t *testing.T) {
	t.Parallel()

	type sessionUpdateMsg struct {
		Type    string `json:"type"`
		Session struct {
			Voice             string `json:"voice"`
			Instructions      string `json:"instructions"`
			InputAudioFormat  string `json:"input_audio_format"`
			OutputAudioFormat string `json:"output_audio_format"`
		} `json:"session"`
	}

	authHeader := make(chan string, 1)
	received := make(chan sessionUpdateMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		authHeader <- r.Header.Get("Authorization")
		var msg sessionUpdateMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := realtime.New("my-secret-token", nil,
		realtime.WithBaseURL(wsURL(srv)),
		realtime.WithInstructions("You are a lead qualification assistant."),
	)
	connect(t, p)

	select {
	case auth := <-authHeader:
		if auth != "Bearer my-secret-token" {
			t.Errorf("Authorization = %q; want Bearer my-secret-token", auth)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for auth header")
	}

	select {
	case msg := <-received:
		if msg.Type != "session.update" {
			t.Errorf("type = %q; want session.update", msg.Type)
		}
		if msg.Session.Instructions != "You are a lead qualification assistant." {
			t.Errorf("instructions = %q", msg.Session.Instructions)
		}
		if msg.Session.InputAudioFormat != "pcm16" || msg.Session.OutputAudioFormat != "pcm16" {
			t.Errorf("audio formats = %q/%q; want pcm16/pcm16",
				msg.Session.InputAudioFormat, msg.Session.OutputAudioFormat)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

func TestConnect_Twice_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := realtime.New("key", nil, realtime.WithBaseURL(wsURL(srv)))
	connect(t, p)

	if err := p.Connect(context.Background()); err == nil {
		t.Fatal("second Connect should return an error")
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := realtime.New("key", nil, realtime.WithBaseURL(wsURL(srv)))
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := p.Disconnect(context.Background()); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := p.Disconnect(context.Background()); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}

// ── Send paths ────────────────────────────────────────────────────────────────

func TestSendAudio_EncodesAndSends(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}

	audioMsg := make(chan appendMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		var msg appendMsg
		readJSON(t, conn, &msg)
		audioMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	p := realtime.New("key", nil, realtime.WithBaseURL(wsURL(srv)))
	connect(t, p)

	wantPCM := []byte{0x10, 0x20, 0x30, 0x40}
	if err := p.SendAudio(context.Background(), wantPCM); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-audioMsg:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q; want input_audio_buffer.append", msg.Type)
		}
		got, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio append message")
	}
}

func TestSendText_CreatesItemAndRequestsResponse(t *testing.T) {
	t.Parallel()

	type itemMsg struct {
		Type string `json:"type"`
		Item struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"item"`
	}

	items := make(chan itemMsg, 1)
	followUp := make(chan string, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		var msg itemMsg
		readJSON(t, conn, &msg)
		items <- msg

		var next map[string]string
		readJSON(t, conn, &next)
		followUp <- next["type"]

		<-conn.CloseRead(context.Background()).Done()
	})

	p := realtime.New("key", nil, realtime.WithBaseURL(wsURL(srv)))
	connect(t, p)

	if err := p.SendText(context.Background(), "Hello there"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	select {
	case msg := <-items:
		if msg.Type != "conversation.item.create" {
			t.Errorf("type = %q; want conversation.item.create", msg.Type)
		}
		if msg.Item.Role != "user" {
			t.Errorf("role = %q; want user", msg.Item.Role)
		}
		if len(msg.Item.Content) == 0 || msg.Item.Content[0].Text != "Hello there" {
			t.Errorf("content = %+v; want Hello there", msg.Item.Content)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for conversation item")
	}

	select {
	case typ := <-followUp:
		if typ != "response.create" {
			t.Errorf("follow-up type = %q; want response.create", typ)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for response.create")
	}
}

func TestSend_NotConnected_ReturnsSentinel(t *testing.T) {
	t.Parallel()
	p := realtime.New("key", nil)

	if err := p.SendAudio(context.Background(), []byte{1}); !errors.Is(err, provider.ErrNotConnected) {
		t.Errorf("SendAudio error = %v; want ErrNotConnected", err)
	}
	if err := p.SendText(context.Background(), "hi"); !errors.Is(err, provider.ErrNotConnected) {
		t.Errorf("SendText error = %v; want ErrNotConnected", err)
	}
}

// ── Receive paths ─────────────────────────────────────────────────────────────

func TestTranscripts_InterimAndFinal(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type":    "conversation.item.input_audio_transcription.delta",
			"item_id": "item-1",
			"delta":   "My name ",
		})
		writeJSON(t, conn, map[string]any{
			"type":    "conversation.item.input_audio_transcription.delta",
			"item_id": "item-1",
			"delta":   "is Carlos",
		})
		writeJSON(t, conn, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"item_id":    "item-1",
			"transcript": "My name is Carlos",
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := realtime.New("key", nil, realtime.WithBaseURL(wsURL(srv)))

	segs := make(chan conversation.TranscriptSegment, 4)
	p.OnTranscript(func(seg conversation.TranscriptSegment) { segs <- seg })
	connect(t, p)

	var got []conversation.TranscriptSegment
	for range 3 {
		select {
		case seg := <-segs:
			got = append(got, seg)
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout; received %d segments", len(got))
		}
	}

	if got[0].Final || got[1].Final {
		t.Error("delta segments must be interim")
	}
	if got[1].Text != "My name is Carlos" {
		t.Errorf("accumulated interim text = %q", got[1].Text)
	}
	final := got[2]
	if !final.Final {
		t.Fatal("third segment should be final")
	}
	if final.Text != "My name is Carlos" {
		t.Errorf("final text = %q", final.Text)
	}
	if final.ID != "item-1" {
		t.Errorf("final segment ID = %q; want item-1", final.ID)
	}
	if final.Speaker != "user" {
		t.Errorf("speaker = %q; want user", final.Speaker)
	}
}

func TestResponse_AssembledFromDeltas(t *testing.T) {
	t.Parallel()

	wantAudio := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Happy "})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "to help!"})
		writeJSON(t, conn, map[string]any{
			"type":  "response.audio.delta",
			"delta": base64.StdEncoding.EncodeToString(wantAudio),
		})
		writeJSON(t, conn, map[string]any{"type": "response.done"})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := realtime.New("key", nil, realtime.WithBaseURL(wsURL(srv)))

	responses := make(chan provider.Response, 1)
	p.OnResponse(func(resp provider.Response) { responses <- resp })
	connect(t, p)

	select {
	case resp := <-responses:
		if resp.Text != "Happy to help!" {
			t.Errorf("response text = %q; want %q", resp.Text, "Happy to help!")
		}
		if string(resp.Audio) != string(wantAudio) {
			t.Errorf("response audio = %v; want %v", resp.Audio, wantAudio)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for response")
	}
}

func TestOnError_InvokesHandler(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"code":    "audio_unintelligible",
				"message": "Could not understand audio.",
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := realtime.New("key", nil, realtime.WithBaseURL(wsURL(srv)))

	errCh := make(chan error, 1)
	p.OnError(func(e error) { errCh <- e })
	connect(t, p)

	select {
	case gotErr := <-errCh:
		if gotErr == nil {
			t.Fatal("OnError handler called with nil error")
		}
		if !strings.Contains(gotErr.Error(), "Could not understand audio") {
			t.Errorf("error = %q; want substring %q", gotErr, "Could not understand audio")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for OnError handler to be called")
	}
}

// ── Voices ────────────────────────────────────────────────────────────────────

func TestVoices_NonEmpty(t *testing.T) {
	t.Parallel()
	p := realtime.New("key", nil)
	if len(p.Voices()) == 0 {
		t.Error("Voices should be non-empty")
	}
}

func TestSetVoice(t *testing.T) {
	t.Parallel()
	p := realtime.New("key", nil)

	if err := p.SetVoice("echo"); err != nil {
		t.Fatalf("SetVoice(echo): %v", err)
	}
	if err := p.SetVoice("no-such-voice"); !errors.Is(err, provider.ErrUnknownVoice) {
		t.Errorf("SetVoice(no-such-voice) = %v; want ErrUnknownVoice", err)
	}
}

func TestSetVoice_WhileConnected_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	type sessionUpdateMsg struct {
		Type    string `json:"type"`
		Session struct {
			Voice string `json:"voice"`
		} `json:"session"`
	}

	updates := make(chan sessionUpdateMsg, 2)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var initial sessionUpdateMsg
		readJSON(t, conn, &initial)
		updates <- initial

		var second sessionUpdateMsg
		readJSON(t, conn, &second)
		updates <- second

		<-conn.CloseRead(context.Background()).Done()
	})

	p := realtime.New("key", nil, realtime.WithBaseURL(wsURL(srv)))
	connect(t, p)

	// Drain initial update.
	select {
	case <-updates:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for initial session.update")
	}

	if err := p.SetVoice("verse"); err != nil {
		t.Fatalf("SetVoice: %v", err)
	}

	select {
	case msg := <-updates:
		if msg.Type != "session.update" {
			t.Errorf("type = %q; want session.update", msg.Type)
		}
		if msg.Session.Voice != "verse" {
			t.Errorf("voice = %q; want verse", msg.Session.Voice)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for SetVoice session.update")
	}
}
