package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mariobot/internal/lane"
	"mariobot/internal/policy"
	"mariobot/internal/session"
)

// --- fakes ---

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	saves    int
	failSave bool
	failLoad bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*session.Session)}
}

func (f *fakeStore) Load(_ context.Context, senderID string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoad {
		return nil, fmt.Errorf("%w: disk gone", session.ErrUnavailable)
	}
	if s, ok := f.sessions[senderID]; ok {
		return s, nil
	}
	s := session.New(senderID)
	f.sessions[senderID] = s
	return s, nil
}

func (f *fakeStore) Save(_ context.Context, s *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return fmt.Errorf("%w: disk gone", session.ErrUnavailable)
	}
	f.sessions[s.SenderID] = s
	f.saves++
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	to   []string
	fail bool
}

func (f *fakeSender) SendText(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("platform down")
	}
	f.to = append(f.to, to)
	f.sent = append(f.sent, text)
	return nil
}

type fakeGenerator struct {
	reply   string
	fail    bool
	calls   int
	prompts []string
	history [][]session.Entry
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, history []session.Entry) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.history = append(f.history, history)
	if f.fail {
		return "", errors.New("model overloaded")
	}
	return f.reply, nil
}

type fakeTranscriber struct {
	text string
	fail bool
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string) (string, error) {
	if f.fail {
		return "", errors.New("whisper failed")
	}
	return f.text, nil
}

type fakeMedia struct {
	fetched   []string
	discarded []string
	fail      bool
}

func (f *fakeMedia) Fetch(_ context.Context, mediaID, _ string) (string, error) {
	if f.fail {
		return "", errors.New("media fetch failed")
	}
	path := "/tmp/fake_" + mediaID
	f.fetched = append(f.fetched, path)
	return path, nil
}

func (f *fakeMedia) Discard(path string) {
	f.discarded = append(f.discarded, path)
}

// --- payload builders ---

func textPayload(from, body string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {"messages": [
			{"from": %q, "type": "text", "text": {"body": %q}}
		]}}]}]
	}`, from, body))
}

func audioPayload(from, mediaID string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {"messages": [
			{"from": %q, "type": "audio", "audio": {"id": %q}}
		]}}]}]
	}`, from, mediaID))
}

type fixture struct {
	dispatcher  *Dispatcher
	store       *fakeStore
	sender      *fakeSender
	generator   *fakeGenerator
	transcriber *fakeTranscriber
	media       *fakeMedia
}

func newFixture() *fixture {
	f := &fixture{
		store:       newFakeStore(),
		sender:      &fakeSender{},
		generator:   &fakeGenerator{reply: "respuesta generada"},
		transcriber: &fakeTranscriber{text: "texto transcrito"},
		media:       &fakeMedia{},
	}
	f.dispatcher = New(Config{
		Store:          f.store,
		Policy:         policy.New(),
		Sender:         f.sender,
		Generator:      f.generator,
		Transcriber:    f.transcriber,
		Media:          f.media,
		IncludeHistory: true,
	})
	return f
}

// qualify walks a sender past greeting, question, and answer stages.
func (f *fixture) qualify(t *testing.T, from string) {
	t.Helper()
	ctx := context.Background()
	require.Equal(t, OutcomeDelivered, f.dispatcher.Handle(ctx, textPayload(from, "hola")))
	require.Equal(t, OutcomeDelivered, f.dispatcher.Handle(ctx, textPayload(from, "hola")))
	require.Equal(t, OutcomeDelivered, f.dispatcher.Handle(ctx, textPayload(from, "sí")))
}

// --- tests ---

func TestHandle_IgnoresMalformedPayload(t *testing.T) {
	f := newFixture()

	assert.Equal(t, OutcomeIgnored, f.dispatcher.Handle(context.Background(), []byte("not json")))
	assert.Equal(t, OutcomeIgnored, f.dispatcher.Handle(context.Background(), []byte(`{"object":"page"}`)))
	assert.Equal(t, OutcomeIgnored, f.dispatcher.Handle(context.Background(),
		[]byte(`{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{}}]}]}`)))

	assert.Empty(t, f.sender.sent)
	assert.Zero(t, f.store.saves, "ignored payloads must not touch sessions")
}

func TestHandle_FirstContactGreets(t *testing.T) {
	f := newFixture()

	outcome := f.dispatcher.Handle(context.Background(), textPayload("521234", "hola"))

	assert.Equal(t, OutcomeDelivered, outcome)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, policy.GreetingText, f.sender.sent[0])
	assert.Equal(t, "521234", f.sender.to[0])

	s := f.store.sessions["521234"]
	require.NotNil(t, s)
	assert.True(t, s.Greeted)
	require.Len(t, s.History, 2)
	assert.Equal(t, session.DirectionReceived, s.History[0].Direction)
	assert.Equal(t, "hola", s.History[0].Text)
	assert.Equal(t, session.DirectionSent, s.History[1].Direction)
	assert.Equal(t, policy.GreetingText, s.History[1].Text)
}

func TestHandle_ReceivedPrecedesSent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.dispatcher.Handle(ctx, textPayload("521234", "hola"))
	f.dispatcher.Handle(ctx, textPayload("521234", "buenas"))
	f.dispatcher.Handle(ctx, textPayload("521234", "sí"))

	s := f.store.sessions["521234"]
	require.NotNil(t, s)
	// Entries must strictly alternate received → sent for this flow.
	require.Len(t, s.History, 6)
	for i := 0; i < len(s.History); i += 2 {
		assert.Equal(t, session.DirectionReceived, s.History[i].Direction, "index %d", i)
		assert.Equal(t, session.DirectionSent, s.History[i+1].Direction, "index %d", i+1)
	}
}

func TestHandle_DuplicateDeliveryDoesNotRegreet(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.dispatcher.Handle(ctx, textPayload("521234", "hola"))
	f.dispatcher.Handle(ctx, textPayload("521234", "hola"))

	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, policy.GreetingText, f.sender.sent[0])
	assert.Equal(t, policy.MembershipQuestionText, f.sender.sent[1])
}

func TestHandle_GenerationFailureSendsApology(t *testing.T) {
	f := newFixture()
	f.qualify(t, "521234")
	f.generator.fail = true

	outcome := f.dispatcher.Handle(context.Background(), textPayload("521234", "¿qué hago ahora?"))

	assert.Equal(t, OutcomeDelivered, outcome)
	last := f.sender.sent[len(f.sender.sent)-1]
	assert.Equal(t, policy.ApologyText, last)

	s := f.store.sessions["521234"]
	assert.Equal(t, policy.ApologyText, s.History[len(s.History)-1].Text)
	assert.Equal(t, session.DirectionSent, s.History[len(s.History)-1].Direction)
}

func TestHandle_GenerationGetsPriorHistory(t *testing.T) {
	f := newFixture()
	f.qualify(t, "521234")

	f.dispatcher.Handle(context.Background(), textPayload("521234", "¿qué hago ahora?"))

	require.Equal(t, 1, f.generator.calls)
	assert.Equal(t, "¿qué hago ahora?", f.generator.prompts[0])
	hist := f.generator.history[0]
	require.NotEmpty(t, hist)
	// The prompt itself is not duplicated into the history snapshot.
	assert.NotEqual(t, "¿qué hago ahora?", hist[len(hist)-1].Text)
}

func TestHandle_HistoryDisabled(t *testing.T) {
	f := newFixture()
	f.dispatcher.includeHistory = false
	f.qualify(t, "521234")

	f.dispatcher.Handle(context.Background(), textPayload("521234", "pregunta libre"))

	require.Equal(t, 1, f.generator.calls)
	assert.Empty(t, f.generator.history[0])
}

func TestHandle_AudioTranscribesThenGenerates(t *testing.T) {
	f := newFixture()
	f.qualify(t, "521234")
	f.transcriber.text = "quiero vender en línea"

	outcome := f.dispatcher.Handle(context.Background(), audioPayload("521234", "m-77"))

	assert.Equal(t, OutcomeDelivered, outcome)
	require.Equal(t, 1, f.generator.calls)
	assert.Equal(t, "quiero vender en línea", f.generator.prompts[0])
	assert.Equal(t, "respuesta generada", f.sender.sent[len(f.sender.sent)-1])

	// Fetched media is always discarded.
	require.Len(t, f.media.fetched, 1)
	assert.Equal(t, f.media.fetched, f.media.discarded)
}

func TestHandle_TranscriptionFailureDiscardsMediaAndApologizes(t *testing.T) {
	f := newFixture()
	f.qualify(t, "521234")
	f.transcriber.fail = true

	f.dispatcher.Handle(context.Background(), audioPayload("521234", "m-77"))

	assert.Equal(t, policy.ApologyText, f.sender.sent[len(f.sender.sent)-1])
	require.Len(t, f.media.fetched, 1)
	assert.Equal(t, f.media.fetched, f.media.discarded)
}

func TestHandle_MediaFetchFailureApologizes(t *testing.T) {
	f := newFixture()
	f.qualify(t, "521234")
	f.media.fail = true

	outcome := f.dispatcher.Handle(context.Background(), audioPayload("521234", "m-77"))

	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, policy.ApologyText, f.sender.sent[len(f.sender.sent)-1])
}

func TestHandle_StoreFailureStillReplies(t *testing.T) {
	f := newFixture()
	f.store.failSave = true

	outcome := f.dispatcher.Handle(context.Background(), textPayload("521234", "hola"))

	assert.Equal(t, OutcomeDelivered, outcome)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, policy.GreetingText, f.sender.sent[0])
}

func TestHandle_LoadFailureDoesNotClobberStoredSession(t *testing.T) {
	f := newFixture()
	f.qualify(t, "521234")
	stored := f.store.sessions["521234"]
	historyLen := len(stored.History)
	savesBefore := f.store.saves

	f.store.failLoad = true
	outcome := f.dispatcher.Handle(context.Background(), textPayload("521234", "hola"))

	// The sender still gets a reply, but the turn is ephemeral: nothing is
	// saved, and the stored record keeps its flags and history.
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.NotEmpty(t, f.sender.sent)
	assert.Equal(t, savesBefore, f.store.saves)
	assert.True(t, stored.Greeted)
	assert.True(t, stored.MemberAnswered)
	assert.Len(t, stored.History, historyLen)
}

func TestHandle_AudioStoresPlaceholderReceivedEntry(t *testing.T) {
	f := newFixture()
	f.qualify(t, "521234")
	before := len(f.store.sessions["521234"].History)

	f.dispatcher.Handle(context.Background(), audioPayload("521234", "m-77"))

	s := f.store.sessions["521234"]
	require.Greater(t, len(s.History), before)
	received := s.History[before]
	assert.Equal(t, session.DirectionReceived, received.Direction)
	assert.Equal(t, policy.SentinelText, received.Text,
		"non-text events must record a placeholder, not an empty entry")
}

func TestHandle_ShortLaneIdleTimeout(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	d := New(Config{
		Store:  store,
		Policy: policy.New(),
		Sender: sender,
		Lanes:  lane.Config{IdleTimeout: time.Millisecond},
	})
	defer d.Stop()

	// Worker turnover between turns must never lose an event.
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.Equal(t, OutcomeDelivered, d.Handle(ctx, textPayload("521234", "hola")), "turn %d", i)
		time.Sleep(time.Millisecond)
	}
	assert.Len(t, sender.sent, 50)
}

func TestHandle_SendFailureReportsFailed(t *testing.T) {
	f := newFixture()
	f.sender.fail = true

	outcome := f.dispatcher.Handle(context.Background(), textPayload("521234", "hola"))

	assert.Equal(t, OutcomeFailed, outcome)
	// History still records the attempted reply.
	s := f.store.sessions["521234"]
	require.Len(t, s.History, 2)
	assert.Equal(t, session.DirectionSent, s.History[1].Direction)
}

func TestHandle_DistinctSendersIndependent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.dispatcher.Handle(ctx, textPayload("521111", "hola"))
	f.dispatcher.Handle(ctx, textPayload("522222", "hola"))

	assert.True(t, f.store.sessions["521111"].Greeted)
	assert.True(t, f.store.sessions["522222"].Greeted)
	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, policy.GreetingText, f.sender.sent[0])
	assert.Equal(t, policy.GreetingText, f.sender.sent[1])
}
