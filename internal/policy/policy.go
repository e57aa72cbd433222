// Package policy implements the dialogue decision function: a fixed precedence
// chain of named stages evaluated against the sender's session state. It does
// no I/O; delegated work (generation, transcription) is emitted as actions for
// the dispatcher to resolve.
package policy

import (
	"strings"

	"mariobot/internal/session"
)

// EventKind classifies an inbound event.
type EventKind string

const (
	KindText        EventKind = "text"
	KindAudio       EventKind = "audio"
	KindImage       EventKind = "image"
	KindUnsupported EventKind = "unsupported"
)

// Event is the normalized view of one inbound platform message.
type Event struct {
	SenderID string
	Kind     EventKind
	Text     string
	MediaRef string
}

// ActionKind tells the dispatcher how to produce the outbound text.
type ActionKind string

const (
	// ActionReply carries scripted text to send as-is.
	ActionReply ActionKind = "reply"
	// ActionGenerate delegates Text as a prompt to the generation collaborator.
	ActionGenerate ActionKind = "generate"
	// ActionTranscribe delegates MediaRef to the transcription collaborator,
	// then feeds the transcript to the generation collaborator.
	ActionTranscribe ActionKind = "transcribe"
)

// Action is one outbound directive.
type Action struct {
	Kind     ActionKind
	Text     string
	MediaRef string
}

// stage is one rule in the precedence chain. It returns nil when it does not
// apply; a non-nil result short-circuits the remaining stages for this event.
type stage struct {
	name  string
	apply func(s *session.Session, ev Event) []Action
}

// Policy decides the next state and outbound actions for an inbound event.
type Policy struct {
	stages   []stage
	keywords []string
}

// New builds the policy with its fixed stage order: greeting, qualification
// question, answer interpretation, keyword branch, delegation fallback.
func New() *Policy {
	p := &Policy{
		keywords: []string{"ayuda", "vender", "asesoría"},
	}
	p.stages = []stage{
		{name: "greeting", apply: p.greeting},
		{name: "qualification", apply: p.qualification},
		{name: "interpret_answer", apply: p.interpretAnswer},
		{name: "keyword_branch", apply: p.keywordBranch},
		{name: "fallback", apply: p.fallback},
	}
	return p
}

// Decide runs the stage chain. It mutates s (flag transitions only; flags move
// false→true and never back) and returns the outbound actions, in order.
func (p *Policy) Decide(s *session.Session, ev Event) []Action {
	for _, st := range p.stages {
		if actions := st.apply(s, ev); actions != nil {
			return actions
		}
	}
	return nil
}

func (p *Policy) greeting(s *session.Session, _ Event) []Action {
	if s.Greeted {
		return nil
	}
	s.Greeted = true
	return []Action{{Kind: ActionReply, Text: GreetingText}}
}

func (p *Policy) qualification(s *session.Session, _ Event) []Action {
	if s.AskedMembership {
		return nil
	}
	s.AskedMembership = true
	return []Action{{Kind: ActionReply, Text: MembershipQuestionText}}
}

func (p *Policy) interpretAnswer(s *session.Session, ev Event) []Action {
	if !s.AskedMembership || s.MemberAnswered {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(ev.Text)) {
	case "si", "sí":
		s.MemberAnswered = true
		s.IsMember = true
		return []Action{{Kind: ActionReply, Text: MemberYesText}}
	case "no":
		s.MemberAnswered = true
		return []Action{{Kind: ActionReply, Text: MemberNoText}}
	default:
		// Unrecognized: re-prompt without consuming the question.
		return []Action{{Kind: ActionReply, Text: ClarifyMembershipText}}
	}
}

func (p *Policy) keywordBranch(s *session.Session, ev Event) []Action {
	if s.AskedBusiness || !s.MemberAnswered || ev.Kind != KindText {
		return nil
	}
	lower := strings.ToLower(ev.Text)
	for _, kw := range p.keywords {
		if strings.Contains(lower, kw) {
			s.AskedBusiness = true
			return []Action{{Kind: ActionReply, Text: BusinessQuestionText}}
		}
	}
	return nil
}

func (p *Policy) fallback(_ *session.Session, ev Event) []Action {
	switch ev.Kind {
	case KindText:
		text := ev.Text
		if strings.TrimSpace(text) == "" {
			text = SentinelText
		}
		return []Action{{Kind: ActionGenerate, Text: text}}
	case KindAudio:
		return []Action{{Kind: ActionTranscribe, MediaRef: ev.MediaRef}}
	case KindImage:
		return []Action{{Kind: ActionReply, Text: ImageReceivedText}}
	default:
		return []Action{{Kind: ActionReply, Text: UnsupportedText}}
	}
}
