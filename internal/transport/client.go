package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxlead-ai/voxlead/pkg/audio"
)

// MessageTypeText tags a [TextEnvelope] carrying an assistant text response.
const MessageTypeText = "text"

// TextEnvelope is the JSON wire format for text messages sent to clients.
type TextEnvelope struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
}

// Client is the server-side handle for one connected WebSocket peer.
// Its send methods are safe for concurrent use.
type Client struct {
	id     string
	remote string
	conn   *websocket.Conn

	writeMu sync.Mutex
}

// ID returns the client's unique identifier, assigned at accept time.
func (c *Client) ID() string { return c.id }

// Remote returns the peer's remote address.
func (c *Client) Remote() string { return c.remote }

// SendAudio wraps pcm in a JSON audio envelope and writes it to the peer.
func (c *Client) SendAudio(ctx context.Context, pcm []byte) error {
	data, err := audio.NewAudioMessage(pcm)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	return c.write(ctx, data)
}

// SendText wraps text in a JSON text envelope and writes it to the peer.
func (c *Client) SendText(ctx context.Context, text string) error {
	data, err := json.Marshal(TextEnvelope{
		Type:      MessageTypeText,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		ID:        uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("transport: marshal text envelope: %w", err)
	}
	return c.write(ctx, data)
}

// Close closes the connection with a normal closure status.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: write to client %s: %w", c.id, err)
	}
	return nil
}
