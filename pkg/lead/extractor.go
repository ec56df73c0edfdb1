// Package lead incrementally extracts structured contact information from
// noisy, partial natural-language transcripts.
//
// An [Extractor] scans each user utterance for contact-information patterns
// (name, email, phone, company), accumulates fields across turns, computes
// per-field confidence scores, and notifies observers once a minimum amount
// of information exists. Extraction is best-effort by design: the patterns
// operate on the literal text of a transcript, so spoken-out digit sequences
// ("five five five one two three four") are a known, accepted miss.
//
// All exported methods are safe for concurrent use. Observer callbacks are
// invoked synchronously, in registration order, outside the extractor's lock.
package lead

import (
	"log/slog"
	"sync"

	"github.com/voxlead-ai/voxlead/pkg/conversation"
)

// Phone digit-count acceptance window. Numbers normalizing outside this
// range keep the field but are downgraded to half confidence, which is the
// backstop that keeps 5-digit zip codes from being reported as phones.
const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

// nameConfidence is the fixed heuristic confidence assigned to a pattern-
// matched name: it reflects pattern-match uncertainty, not validation.
const nameConfidence = 0.85

// Field names a lead attribute for [Updates] maps and confidence keys.
type Field string

const (
	FieldName    Field = "name"
	FieldEmail   Field = "email"
	FieldPhone   Field = "phone"
	FieldCompany Field = "company"
	FieldNotes   Field = "notes"
)

// Updates is a partial set of field values produced by one extraction pass.
// A field present in Updates overwrites the accumulated value; an absent
// field leaves the accumulated value untouched.
type Updates map[Field]string

// CustomExtractor is a caller-supplied text scanner run after the built-in
// extractors. It may populate arbitrary fields, notably free-text notes.
// Returning nil means no updates.
type CustomExtractor func(text string) Updates

// Info is the accumulated contact record for one conversation.
type Info struct {
	Name    string
	Email   string
	Phone   string
	Company string
	Notes   string

	// Confidence holds a per-field score in [0, 1], recomputed from scratch
	// against the accumulated values on every extraction pass.
	Confidence map[Field]float64
}

// clone returns a deep copy of i.
func (i Info) clone() Info {
	out := i
	if i.Confidence != nil {
		out.Confidence = make(map[Field]float64, len(i.Confidence))
		for k, v := range i.Confidence {
			out.Confidence[k] = v
		}
	}
	return out
}

// hasMinimum reports whether at least one of name/email/phone is populated —
// the bar for lead event emission.
func (i Info) hasMinimum() bool {
	return i.Name != "" || i.Email != "" || i.Phone != ""
}

// Complete reports whether name, email and phone are all populated,
// independent of confidence values.
func (i Info) Complete() bool {
	return i.Name != "" && i.Email != "" && i.Phone != ""
}

// Config holds the parameters for an [Extractor].
type Config struct {
	// DisablePerMessageEvents suppresses the per-message lead notification;
	// observers are then only reached via [Extractor.ProcessConversation].
	// By default every qualifying message re-announces the current best
	// snapshot, and consumers deduplicate downstream.
	DisablePerMessageEvents bool

	// Extractors is an ordered list of custom extraction hooks run after
	// the built-in patterns on every user message.
	Extractors []CustomExtractor
}

// Extractor accumulates lead fields across the turns of one conversation.
type Extractor struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	info Info

	onLead []func(Info)
}

// NewExtractor creates an [Extractor] with the given configuration. Pass a
// nil logger to use [slog.Default].
func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		cfg:    cfg,
		logger: logger.With("component", "lead"),
	}
}

// OnLead registers fn to be invoked with the full current field snapshot
// whenever a qualifying message is processed. The event can fire repeatedly
// across a conversation as fields accrue or get overwritten — treat it as
// "current best snapshot" and deduplicate downstream if only novel
// information is wanted.
func (e *Extractor) OnLead(fn func(Info)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLead = append(e.onLead, fn)
}

// ProcessMessage scans one conversation message and merges any extracted
// fields into the accumulated record.
//
// Non-user messages return nil immediately: assistant, system and function
// text is never scanned, so the extractor cannot "learn" the agent's own
// scripted phrases as caller data. For user messages the returned snapshot
// is non-nil once the accumulated record holds at least one of name, email
// or phone.
func (e *Extractor) ProcessMessage(msg conversation.Message) *Info {
	if msg.Role != conversation.RoleUser {
		return nil
	}

	updates := e.extract(msg.Content)

	e.mu.Lock()
	e.applyLocked(updates)
	e.scoreLocked()
	snap := e.info.clone()
	var observers []func(Info)
	if snap.hasMinimum() && !e.cfg.DisablePerMessageEvents {
		observers = make([]func(Info), len(e.onLead))
		copy(observers, e.onLead)
	}
	e.mu.Unlock()

	if !snap.hasMinimum() {
		return nil
	}
	for _, fn := range observers {
		fn(snap)
	}
	return &snap
}

// ProcessConversation discards all previously accumulated state and replays
// every message of the given history through [Extractor.ProcessMessage] in
// order. Returns the final snapshot, or nil if the minimum-information bar
// is never met. This is the mechanism used to (re)derive a lead at
// conversation end even if incremental per-message processing was missed.
func (e *Extractor) ProcessConversation(state conversation.State) *Info {
	e.Reset()

	var result *Info
	for _, msg := range state.Messages {
		if snap := e.ProcessMessage(msg); snap != nil {
			result = snap
		}
	}
	return result
}

// HasCompleteLead reports whether name, email and phone are all present —
// a stricter bar than the single-field emission threshold, independent of
// confidence values.
func (e *Extractor) HasCompleteLead() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info.Complete()
}

// Current returns a copy of the accumulated record.
func (e *Extractor) Current() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info.clone()
}

// Reset clears the accumulated fields without affecting configuration or
// registered observers.
func (e *Extractor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info = Info{}
}

// extract runs the built-in patterns and then the custom extractor hooks
// over text, composing all updates for one message.
func (e *Extractor) extract(text string) Updates {
	updates := Updates{}
	if v := extractEmail(text); v != "" {
		updates[FieldEmail] = v
	}
	if v := extractPhone(text); v != "" {
		updates[FieldPhone] = v
	}
	if v := extractName(text); v != "" {
		updates[FieldName] = v
	}
	if v := extractCompany(text); v != "" {
		updates[FieldCompany] = v
	}

	for _, custom := range e.cfg.Extractors {
		for k, v := range custom(text) {
			updates[k] = v
		}
	}
	return updates
}

// applyLocked shallow-merges updates onto the accumulated record:
// last-write-wins per field, absent fields untouched. Must be called with
// e.mu held.
func (e *Extractor) applyLocked(updates Updates) {
	for k, v := range updates {
		switch k {
		case FieldName:
			e.info.Name = v
		case FieldEmail:
			e.info.Email = v
		case FieldPhone:
			e.info.Phone = v
		case FieldCompany:
			e.info.Company = v
		case FieldNotes:
			e.info.Notes = v
		default:
			e.logger.Debug("ignoring update for unknown lead field", "field", k)
		}
	}
}

// scoreLocked recomputes per-field confidence from scratch against the
// current accumulated values. Must be called with e.mu held.
func (e *Extractor) scoreLocked() {
	conf := make(map[Field]float64)
	if e.info.Name != "" {
		conf[FieldName] = nameConfidence
	}
	if e.info.Email != "" {
		if emailPattern.MatchString(e.info.Email) {
			conf[FieldEmail] = 1.0
		} else {
			conf[FieldEmail] = 0.5
		}
	}
	if e.info.Phone != "" {
		if n := digitCount(e.info.Phone); n >= minPhoneDigits && n <= maxPhoneDigits {
			conf[FieldPhone] = 1.0
		} else {
			conf[FieldPhone] = 0.5
		}
	}
	e.info.Confidence = conf
}
