package quizzer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/internal/repositories"
	"github.com/mroshb/trivia_bot/pkg/errors"
)

// memRounds emulates the conditional writes of the round ledger with a mutex.
type memRounds struct {
	mu       sync.Mutex
	rounds   map[string]*models.QuestionRound
	attempts int
}

func newMemRounds() *memRounds {
	return &memRounds{rounds: map[string]*models.QuestionRound{}}
}

func roundKey(chatID int64, messageID int) string {
	return fmt.Sprintf("%d/%d", chatID, messageID)
}

func copyRound(r *models.QuestionRound) *models.QuestionRound {
	c := *r
	c.Options = append([]models.AnswerOption(nil), r.Options...)
	c.WrongUsers = append([]models.WrongUser{}, r.WrongUsers...)
	if r.TimeoutHandle != nil {
		h := *r.TimeoutHandle
		c.TimeoutHandle = &h
	}
	return &c
}

func (m *memRounds) Create(_ context.Context, round *models.QuestionRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := roundKey(round.ChatID, round.MessageID)
	if _, ok := m.rounds[key]; ok {
		return errors.ErrDuplicateRound
	}
	for _, r := range m.rounds {
		if r.ChatID == round.ChatID && r.TimeoutHandle != nil && round.TimeoutHandle != nil {
			return errors.ErrActiveRoundExists
		}
	}
	m.rounds[key] = copyRound(round)
	return nil
}

func (m *memRounds) RecordAttempt(_ context.Context, in repositories.AttemptInput) (*models.AttemptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++

	r, ok := m.rounds[roundKey(in.ChatID, in.MessageID)]
	if !ok {
		return nil, errors.ErrRoundNotFound
	}
	inWrong := r.HasWrongUser(in.UserID)
	expired := r.SolvedAt == nil && r.TimeoutHandle == nil

	if r.SolvedAt == nil && r.TimeoutHandle != nil &&
		strings.EqualFold(r.QuestionData.CorrectAnswer, in.Answer) &&
		!(in.RejectRepeatWrong && inWrong) {
		solved := in.SubmittedAt
		r.SolvedAt = &solved
		cleared := r.TimeoutHandle
		r.TimeoutHandle = nil
		return &models.AttemptResult{
			Outcome:              models.OutcomeWin,
			Round:                copyRound(r),
			ElapsedSeconds:       in.SubmittedAt.Sub(r.SentAt).Seconds(),
			ClearedTimeoutHandle: cleared,
			WrongUsers:           append([]models.WrongUser{}, r.WrongUsers...),
		}, nil
	}

	if !inWrong && !expired {
		r.WrongUsers = append(r.WrongUsers, models.WrongUser{UserID: in.UserID, Name: in.DisplayName})
	}
	result := &models.AttemptResult{
		Round:      copyRound(r),
		WrongUsers: append([]models.WrongUser{}, r.WrongUsers...),
	}
	switch {
	case r.SolvedAt != nil:
		result.Outcome = models.OutcomeAlreadySolved
	case expired:
		result.Outcome = models.OutcomeExpired
	case inWrong:
		result.Outcome = models.OutcomeWrongRepeat
	default:
		result.Outcome = models.OutcomeWrongNew
	}
	return result, nil
}

func (m *memRounds) MarkInactive(_ context.Context, chatID int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundKey(chatID, messageID)]
	if !ok {
		return errors.ErrRoundNotFound
	}
	if r.SolvedAt != nil {
		return errors.ErrAlreadySolvedRace
	}
	r.TimeoutHandle = nil
	return nil
}

func (m *memRounds) Find(_ context.Context, chatID int64, messageID int) (*models.QuestionRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundKey(chatID, messageID)]
	if !ok {
		return nil, errors.ErrRoundNotFound
	}
	return copyRound(r), nil
}

func (m *memRounds) GetCurrentlyOpen(_ context.Context, chatID int64) (*models.QuestionRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rounds {
		if r.ChatID == chatID && r.TimeoutHandle != nil {
			return copyRound(r), nil
		}
	}
	return nil, nil
}

func (m *memRounds) Cleanup(_ context.Context, chatID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.rounds {
		if r.ChatID == chatID {
			delete(m.rounds, k)
			n++
		}
	}
	return n, nil
}

type memScores struct {
	mu       sync.Mutex
	chat     map[int64]map[int64]*models.Player
	global   map[int64]*models.Player
	promoted []int64
}

func newMemScores() *memScores {
	return &memScores{chat: map[int64]map[int64]*models.Player{}, global: map[int64]*models.Player{}}
}

func (m *memScores) Award(_ context.Context, chatID, userID, points int64, user models.UserData) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chat[chatID] == nil {
		m.chat[chatID] = map[int64]*models.Player{}
	}
	p, ok := m.chat[chatID][userID]
	if !ok {
		p = &models.Player{UserID: userID}
		m.chat[chatID][userID] = p
	}
	p.Score += points
	p.UserData = user
	return p.Score, nil
}

func top(players map[int64]*models.Player, limit int) []models.Player {
	out := make([]models.Player, 0, len(players))
	for _, p := range players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memScores) Top(_ context.Context, chatID int64, limit int) ([]models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return top(m.chat[chatID], limit), nil
}

func (m *memScores) TopGlobal(_ context.Context, limit int) ([]models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return top(m.global, limit), nil
}

func (m *memScores) PromoteToGlobal(_ context.Context, chatID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for userID, p := range m.chat[chatID] {
		g, ok := m.global[userID]
		if !ok {
			g = &models.Player{UserID: userID}
			m.global[userID] = g
		}
		g.Score += p.Score
		g.UserData = p.UserData
		n++
	}
	delete(m.chat, chatID)
	m.promoted = append(m.promoted, chatID)
	return n, nil
}

func (m *memScores) score(chatID, userID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.chat[chatID][userID]; ok {
		return p.Score
	}
	return 0
}

type memTokens struct {
	mu      sync.Mutex
	next    int
	tokens  map[string]models.CallbackPayload
	deleted []string
}

func newMemTokens() *memTokens {
	return &memTokens{tokens: map[string]models.CallbackPayload{}}
}

func (m *memTokens) Create(_ context.Context, payload models.CallbackPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	token := fmt.Sprintf("tok%d", m.next)
	m.tokens[fmt.Sprintf("%d/%s", payload.ChatID, token)] = payload
	return token, nil
}

func (m *memTokens) Retrieve(_ context.Context, chatID int64, token string) (*models.CallbackPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.tokens[fmt.Sprintf("%d/%s", chatID, token)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memTokens) DeleteForQuestion(_ context.Context, chatID int64, questionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, p := range m.tokens {
		if p.ChatID == chatID && p.QuestionID == questionID {
			delete(m.tokens, k)
			n++
		}
	}
	m.deleted = append(m.deleted, questionID)
	return n, nil
}

func (m *memTokens) DeleteAll(_ context.Context, chatID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, p := range m.tokens {
		if p.ChatID == chatID {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

func (m *memTokens) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[int64]models.GameSession
	putErr   error
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[int64]models.GameSession{}}
}

func (m *memSessions) Get(_ context.Context, chatID int64) (*models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return &models.GameSession{ChatID: chatID, State: models.GameStateIdle}, nil
	}
	return &s, nil
}

func (m *memSessions) Put(_ context.Context, session *models.GameSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	s := *session
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	m.sessions[session.ChatID] = s
	return nil
}

type memQuestions struct {
	questions map[string]*models.Question
}

func newMemQuestions(qs ...*models.Question) *memQuestions {
	m := &memQuestions{questions: map[string]*models.Question{}}
	for _, q := range qs {
		m.questions[q.ID] = q
	}
	return m
}

func (m *memQuestions) Find(_ context.Context, id string) (*models.Question, error) {
	q, ok := m.questions[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "question not found: "+id)
	}
	c := *q
	return &c, nil
}

func (m *memQuestions) ListIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(m.questions))
	for id := range m.questions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// mutexLocker gives real mutual exclusion per lock name.
type mutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	names []string
	err   error
}

func newMutexLocker() *mutexLocker {
	return &mutexLocker{locks: map[string]*sync.Mutex{}}
}

func (l *mutexLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.names = append(l.names, name)
	if l.err != nil {
		err := l.err
		l.mu.Unlock()
		return err
	}
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

type stopCall struct {
	Handle string
	Reason StopReason
}

type recordingOrchestrator struct {
	mu     sync.Mutex
	starts []RunInput
	stops  []stopCall
	err    error
}

func (o *recordingOrchestrator) Start(_ context.Context, input RunInput) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return "", o.err
	}
	o.starts = append(o.starts, input)
	return fmt.Sprintf("run-%d", len(o.starts)), nil
}

func (o *recordingOrchestrator) Stop(_ context.Context, handle string, reason StopReason) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops = append(o.stops, stopCall{Handle: handle, Reason: reason})
	return o.err
}

func (o *recordingOrchestrator) stopCalls() []stopCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]stopCall(nil), o.stops...)
}

type sentMessage struct {
	ChatID int64
	Text   string
	Opts   *SendOptions
}

type editedMessage struct {
	ChatID    int64
	MessageID int
	Text      string
	Opts      *SendOptions
}

type callbackAnswer struct {
	ID   string
	Text string
}

type recordingMessenger struct {
	mu      sync.Mutex
	nextID  int
	date    time.Time
	sent    []sentMessage
	edits   []editedMessage
	answers []callbackAnswer
}

func newRecordingMessenger(date time.Time) *recordingMessenger {
	return &recordingMessenger{nextID: 100, date: date}
}

func (m *recordingMessenger) Send(_ context.Context, chatID int64, text string, opts *SendOptions) (*SentMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	return &SentMessage{ChatID: chatID, MessageID: m.nextID, Date: m.date}, nil
}

func (m *recordingMessenger) Edit(_ context.Context, chatID int64, messageID int, text string, opts *SendOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, editedMessage{ChatID: chatID, MessageID: messageID, Text: text, Opts: opts})
	return nil
}

func (m *recordingMessenger) AnswerCallback(_ context.Context, callbackQueryID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, callbackAnswer{ID: callbackQueryID, Text: text})
	return nil
}

func (m *recordingMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.Text)
	}
	return out
}

func (m *recordingMessenger) countContaining(substr string) int {
	n := 0
	for _, t := range m.texts() {
		if strings.Contains(t, substr) {
			n++
		}
	}
	return n
}

// seqRandom replays rolls for Intn and never shuffles.
type seqRandom struct {
	mu    sync.Mutex
	rolls []int
}

func (r *seqRandom) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rolls) == 0 {
		return 0
	}
	v := r.rolls[0]
	r.rolls = r.rolls[1:]
	return v % n
}

func (r *seqRandom) Float64() float64 { return 0 }

func (r *seqRandom) Shuffle(int, func(i, j int)) {}

type harness struct {
	rounds    *memRounds
	scores    *memScores
	tokens    *memTokens
	sessions  *memSessions
	questions *memQuestions
	locks     *mutexLocker
	orch      *recordingOrchestrator
	messenger *recordingMessenger
	random    *seqRandom
	deps      Deps
}

var sentAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(qs ...*models.Question) *harness {
	h := &harness{
		rounds:    newMemRounds(),
		scores:    newMemScores(),
		tokens:    newMemTokens(),
		sessions:  newMemSessions(),
		questions: newMemQuestions(qs...),
		locks:     newMutexLocker(),
		orch:      &recordingOrchestrator{},
		messenger: newRecordingMessenger(sentAt),
		random:    &seqRandom{},
	}
	h.deps = Deps{
		Rounds:       h.rounds,
		Scores:       h.scores,
		Tokens:       h.tokens,
		Sessions:     h.sessions,
		Questions:    h.questions,
		Locks:        h.locks,
		Orchestrator: h.orch,
		Messenger:    h.messenger,
		Random:       h.random,
		Settings:     Settings{QuestionsPerGame: 10, ContributeURL: "https://example.com/trivia"},
	}
	return h
}

func mcqQuestion() *models.Question {
	return &models.Question{
		ID:            "mcq_0",
		Type:          models.QuestionTypeMCQ,
		Text:          "Which animal says meow?",
		CorrectAnswer: "cat",
		OtherAnswers:  []string{"dog", "cow"},
	}
}

func openQuestion() *models.Question {
	return &models.Question{
		ID:            "open_0",
		Type:          models.QuestionTypeOpen,
		Text:          "What is the capital of France?",
		CorrectAnswer: "paris",
	}
}

func user(name string) models.UserData {
	return models.UserData{FirstName: name}
}
