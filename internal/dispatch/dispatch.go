// Package dispatch orchestrates one webhook event end to end: validate,
// load session, run the dialogue policy, resolve delegated actions, send
// replies, and persist state — serialized per sender.
package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"mariobot/internal/lane"
	"mariobot/internal/policy"
	"mariobot/internal/session"
	"mariobot/internal/utils"
	"mariobot/internal/whatsapp"
)

// Outcome reports what the dispatcher did with a payload. Observability only:
// the webhook HTTP layer acknowledges the platform regardless, so platform
// retries are never triggered by internal failures.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// Sender delivers outbound text to the platform.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

// Generator produces a model reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, history []session.Entry) (string, error)
}

// Transcriber turns a local audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// MediaFetcher downloads platform media to a local file and cleans it up.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaID, kind string) (string, error)
	Discard(path string)
}

// Config wires a Dispatcher.
type Config struct {
	Store       session.Store
	Policy      *policy.Policy
	Sender      Sender
	Generator   Generator
	Transcriber Transcriber
	Media       MediaFetcher

	IncludeHistory bool          // pass history to the generator
	HistoryWindow  int           // entries passed when IncludeHistory (default 20)
	Timeout        time.Duration // per-delegation bound (default 60s)
	Lanes          lane.Config   // per-sender serialization tuning
}

// Dispatcher handles inbound webhook payloads.
type Dispatcher struct {
	store       session.Store
	policy      *policy.Policy
	sender      Sender
	generator   Generator
	transcriber Transcriber
	media       MediaFetcher

	includeHistory bool
	historyWindow  int
	timeout        time.Duration

	lanes *lane.Manager
}

// New creates a Dispatcher with its own lane manager.
func New(cfg Config) *Dispatcher {
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Dispatcher{
		store:          cfg.Store,
		policy:         cfg.Policy,
		sender:         cfg.Sender,
		generator:      cfg.Generator,
		transcriber:    cfg.Transcriber,
		media:          cfg.Media,
		includeHistory: cfg.IncludeHistory,
		historyWindow:  cfg.HistoryWindow,
		timeout:        cfg.Timeout,
		lanes:          lane.NewManager(cfg.Lanes),
	}
}

// Handle validates a raw webhook payload and processes its event on the
// sender's lane. Blocks until the turn is complete.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) Outcome {
	ev, ok := whatsapp.ParseInbound(body)
	if !ok {
		return OutcomeIgnored
	}

	log.Printf("[Dispatch] 📨 %s message from %s: %s", ev.Kind, ev.SenderID,
		utils.TruncateString(ev.Text, 80, "..."))

	outcome := OutcomeFailed
	if err := d.lanes.Submit(ctx, ev.SenderID, func(ctx context.Context) {
		outcome = d.process(ctx, ev)
	}); err != nil {
		log.Printf("[Dispatch] lane submit for %s: %v", ev.SenderID, err)
		return OutcomeFailed
	}
	return outcome
}

// Stop drains in-flight work. Queued events finish their turn so a flag set
// by the policy is never persisted without its paired history entry.
func (d *Dispatcher) Stop() {
	d.lanes.Stop()
}

// process runs one event's full turn. Runs on the sender's lane, so the
// load→decide→save sequence never races with another event for this sender.
func (d *Dispatcher) process(ctx context.Context, ev policy.Event) Outcome {
	// A load failure switches the turn to an ephemeral session: the sender
	// still gets a reply, but nothing is saved, so the stored record is never
	// overwritten with a blank one.
	ephemeral := false
	sess, err := d.store.Load(ctx, ev.SenderID)
	if err != nil {
		log.Printf("[Dispatch] load session %s: %v", ev.SenderID, err)
		ephemeral = true
		sess = session.New(ev.SenderID)
	}

	// History snapshot before this event, for generation context.
	var history []session.Entry
	if d.includeHistory {
		history = sess.RecentHistory(d.historyWindow)
	}

	received := ev.Text
	if received == "" {
		received = policy.SentinelText
	}
	sess.Append(session.DirectionReceived, received)
	if !ephemeral {
		d.persist(ctx, sess)
	}

	actions := d.policy.Decide(sess, ev)

	outcome := OutcomeDelivered
	for _, act := range actions {
		text := d.resolve(ctx, act, history)
		if err := d.sender.SendText(ctx, ev.SenderID, text); err != nil {
			log.Printf("[Dispatch] send to %s: %v", ev.SenderID, err)
			outcome = OutcomeFailed
		}
		sess.Append(session.DirectionSent, text)
		if !ephemeral {
			d.persist(ctx, sess)
		}
	}
	return outcome
}

// resolve turns an action into outbound text. Delegation failures of any kind
// collapse into the fixed apology so the sender is never left without a reply.
func (d *Dispatcher) resolve(ctx context.Context, act policy.Action, history []session.Entry) string {
	switch act.Kind {
	case policy.ActionReply:
		return act.Text

	case policy.ActionGenerate:
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		out, err := d.generator.Generate(ctx, act.Text, history)
		if err != nil {
			log.Printf("[Dispatch] generate: %v", err)
			return policy.ApologyText
		}
		return out

	case policy.ActionTranscribe:
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		path, err := d.media.Fetch(ctx, act.MediaRef, "audio")
		if err != nil {
			log.Printf("[Dispatch] fetch media %s: %v", act.MediaRef, err)
			return policy.ApologyText
		}
		defer d.media.Discard(path)

		transcript, err := d.transcriber.Transcribe(ctx, path)
		if err != nil {
			log.Printf("[Dispatch] transcribe %s: %v", act.MediaRef, err)
			return policy.ApologyText
		}

		out, err := d.generator.Generate(ctx, transcript, history)
		if err != nil {
			log.Printf("[Dispatch] generate from transcript: %v", err)
			return policy.ApologyText
		}
		return out

	default:
		return policy.ApologyText
	}
}

// persist saves best-effort: storage being down must not block reply delivery.
func (d *Dispatcher) persist(ctx context.Context, sess *session.Session) {
	if err := d.store.Save(ctx, sess); err != nil {
		if errors.Is(err, session.ErrUnavailable) {
			log.Printf("[Dispatch] ⚠️ session store unavailable for %s, continuing", sess.SenderID)
			return
		}
		log.Printf("[Dispatch] save session %s: %v", sess.SenderID, err)
	}
}
