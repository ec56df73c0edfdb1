package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxlead-ai/voxlead/internal/observe"
	"github.com/voxlead-ai/voxlead/internal/transport"
	"github.com/voxlead-ai/voxlead/pkg/audio"
	"github.com/voxlead-ai/voxlead/pkg/conversation"
	"github.com/voxlead-ai/voxlead/pkg/lead"
)

// sendTimeout bounds provider send operations triggered from pipeline and
// response callbacks, which carry no caller context of their own.
const sendTimeout = 10 * time.Second

// session bundles the per-conversation components: one audio pipeline, one
// conversation state and one lead accumulation. Sessions are never shared
// between clients; every concurrently served client owns its own instance.
type session struct {
	id     string
	client *transport.Client // nil for the direct (non-listening) session

	pipeline  *audio.Pipeline
	conv      *conversation.Manager
	extractor *lead.Extractor
	metrics   *observe.Metrics

	mu        sync.Mutex
	lastFlush time.Time
}

// newSession builds a session's component set and wires the internal event
// flow: pipeline buffer flushes feed the provider, conversation messages feed
// the extractor and plugin hooks, extractor emissions feed the lead path.
func (a *Agent) newSession(id string, client *transport.Client) *session {
	logger := a.logger.With("session", id)

	s := &session{
		id:        id,
		client:    client,
		pipeline:  audio.NewPipeline(a.cfg.Audio, logger),
		conv:      conversation.NewManager(a.cfg.Conversation, logger),
		extractor: lead.NewExtractor(a.cfg.Lead, logger),
		metrics:   a.metrics,
	}

	s.pipeline.OnBuffer(func(buf []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		now := time.Now()
		s.mu.Lock()
		prev := s.lastFlush
		s.lastFlush = now
		s.mu.Unlock()
		if !prev.IsZero() {
			s.metrics.RecordAudioFlush(ctx, now.Sub(prev))
		}

		start := time.Now()
		err := a.provider.SendAudio(ctx, buf)
		s.metrics.RecordProviderSend(ctx, "audio", time.Since(start))
		if err != nil {
			a.handleError("provider.sendAudio", err)
		}
	})

	s.conv.OnMessage(func(msg conversation.Message) {
		a.notifyMessage(msg)
		if !a.cfg.DisableLeadExtraction && msg.Role == conversation.RoleUser {
			s.extractor.ProcessMessage(msg)
		}
	})
	s.conv.OnTranscript(func(seg conversation.TranscriptSegment) {
		a.notifyTranscript(seg)
	})
	s.conv.OnSilence(func() {
		logger.Info("silence timeout fired")
	})

	s.extractor.OnLead(func(info lead.Info) {
		a.notifyLead(info)
	})

	return s
}

// start begins the session's conversation, injects the configured system
// prompt and opens the audio pipeline for streaming.
func (s *session) start(systemPrompt string) string {
	convID := s.conv.Start()
	s.metrics.RecordConversationStart(context.Background())
	if systemPrompt != "" {
		s.conv.AddMessage(conversation.RoleSystem, systemPrompt, nil)
	}
	s.pipeline.Start()
	return convID
}

// finish stops streaming, runs the final full-history extraction pass when
// enabled and ends the conversation. The returned lead is nil when extraction
// is disabled or the history yielded nothing.
func (s *session) finish(extractLead bool) *lead.Info {
	s.pipeline.Stop()

	var final *lead.Info
	if extractLead {
		final = s.extractor.ProcessConversation(s.conv.State())
	}
	s.conv.End()
	s.metrics.RecordConversationEnd(context.Background())
	return final
}

var _ slog.LogValuer = (*session)(nil)

// LogValue renders the session's identity for structured logs.
func (s *session) LogValue() slog.Value {
	remote := ""
	if s.client != nil {
		remote = s.client.Remote()
	}
	return slog.GroupValue(
		slog.String("id", s.id),
		slog.String("remote", remote),
	)
}
