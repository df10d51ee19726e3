// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/aiku/satori-telegram/pkg/satori"
)

// recordSink captures emitted gateway events for test assertions.
type recordSink struct {
	mu     sync.Mutex
	events []*satori.Event
}

func (s *recordSink) PushEvent(evt *satori.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordSink) Events() []*satori.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]*satori.Event, len(s.events))
	copy(cp, s.events)
	return cp
}

// EventsOfType filters captured events, skipping login-updated noise.
func (s *recordSink) EventsOfType(typ string) []*satori.Event {
	var out []*satori.Event
	for _, evt := range s.Events() {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

// mockAPI is a scripted Bot API backend. Each RPC records its name and
// delegates to the matching function field, falling back to a benign
// default.
type mockAPI struct {
	mu    sync.Mutex
	calls []string

	nextMessageID int

	getMeFn         func() (*telego.User, error)
	sendMessageFn   func(params *telego.SendMessageParams) (*telego.Message, error)
	editMessageFn   func(params *telego.EditMessageTextParams) (*telego.Message, error)
	deleteMessageFn func(params *telego.DeleteMessageParams) error
	getChatFn       func(params *telego.GetChatParams) (*telego.ChatFullInfo, error)
	getMemberFn     func(params *telego.GetChatMemberParams) (telego.ChatMember, error)
	getAdminsFn     func(params *telego.GetChatAdministratorsParams) ([]telego.ChatMember, error)
	getFileFn       func(params *telego.GetFileParams) (*telego.File, error)
	updatesFn       func(ctx context.Context) (<-chan telego.Update, error)

	sentMessages []*telego.SendMessageParams
}

func (m *mockAPI) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

// Calls returns the recorded RPC names, optionally filtered by prefix.
func (m *mockAPI) Calls(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, call := range m.calls {
		if strings.HasPrefix(call, prefix) {
			out = append(out, call)
		}
	}
	return out
}

func (m *mockAPI) SentMessages() []*telego.SendMessageParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*telego.SendMessageParams, len(m.sentMessages))
	copy(cp, m.sentMessages)
	return cp
}

func (m *mockAPI) GetMe(ctx context.Context) (*telego.User, error) {
	m.record("getMe")
	if m.getMeFn != nil {
		return m.getMeFn()
	}
	return &telego.User{ID: 10, IsBot: true, FirstName: "Bridge", Username: "bridge_bot"}, nil
}

func (m *mockAPI) echoMessage(chatID int64, text string) *telego.Message {
	m.mu.Lock()
	m.nextMessageID++
	id := m.nextMessageID
	m.mu.Unlock()
	return &telego.Message{
		MessageID: id,
		Chat:      telego.Chat{ID: chatID, Type: telego.ChatTypeSupergroup, Title: "Test Chat"},
		Date:      1700000000,
		Text:      text,
	}
}

func (m *mockAPI) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	m.record("sendMessage")
	m.mu.Lock()
	m.sentMessages = append(m.sentMessages, params)
	m.mu.Unlock()
	if m.sendMessageFn != nil {
		return m.sendMessageFn(params)
	}
	return m.echoMessage(params.ChatID.ID, params.Text), nil
}

func (m *mockAPI) SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	m.record("sendPhoto")
	return m.echoMessage(params.ChatID.ID, params.Caption), nil
}

func (m *mockAPI) SendAudio(ctx context.Context, params *telego.SendAudioParams) (*telego.Message, error) {
	m.record("sendAudio")
	return m.echoMessage(params.ChatID.ID, params.Caption), nil
}

func (m *mockAPI) SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error) {
	m.record("sendVideo")
	return m.echoMessage(params.ChatID.ID, params.Caption), nil
}

func (m *mockAPI) SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error) {
	m.record("sendDocument")
	return m.echoMessage(params.ChatID.ID, params.Caption), nil
}

func (m *mockAPI) EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error) {
	m.record("editMessageText")
	if m.editMessageFn != nil {
		return m.editMessageFn(params)
	}
	msg := m.echoMessage(params.ChatID.ID, params.Text)
	msg.MessageID = params.MessageID
	msg.EditDate = 1700000100
	return msg, nil
}

func (m *mockAPI) DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error {
	m.record("deleteMessage")
	if m.deleteMessageFn != nil {
		return m.deleteMessageFn(params)
	}
	return nil
}

func (m *mockAPI) GetChat(ctx context.Context, params *telego.GetChatParams) (*telego.ChatFullInfo, error) {
	m.record("getChat")
	if m.getChatFn != nil {
		return m.getChatFn(params)
	}
	return &telego.ChatFullInfo{ID: params.ChatID.ID, Type: telego.ChatTypeSupergroup, Title: "Test Chat"}, nil
}

func (m *mockAPI) GetChatMember(ctx context.Context, params *telego.GetChatMemberParams) (telego.ChatMember, error) {
	m.record("getChatMember")
	if m.getMemberFn != nil {
		return m.getMemberFn(params)
	}
	return &telego.ChatMemberMember{
		Status: telego.MemberStatusMember,
		User:   telego.User{ID: params.UserID, FirstName: "Member"},
	}, nil
}

func (m *mockAPI) GetChatAdministrators(ctx context.Context, params *telego.GetChatAdministratorsParams) ([]telego.ChatMember, error) {
	m.record("getChatAdministrators")
	if m.getAdminsFn != nil {
		return m.getAdminsFn(params)
	}
	return []telego.ChatMember{
		&telego.ChatMemberOwner{Status: telego.MemberStatusCreator, User: telego.User{ID: 1, FirstName: "Owner"}},
	}, nil
}

func (m *mockAPI) GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error) {
	m.record("getFile")
	if m.getFileFn != nil {
		return m.getFileFn(params)
	}
	return &telego.File{FileID: params.FileID, FilePath: "documents/" + params.FileID}, nil
}

func (m *mockAPI) AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error {
	m.record("answerCallbackQuery")
	return nil
}

func (m *mockAPI) UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, opts ...telego.LongPollingOption) (<-chan telego.Update, error) {
	m.record("updates")
	if m.updatesFn != nil {
		return m.updatesFn(ctx)
	}
	ch := make(chan telego.Update)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (m *mockAPI) FileDownloadURL(filepath string) string {
	return "https://api.telegram.org/file/bot_test/" + filepath
}

var _ telegramAPI = (*mockAPI)(nil)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{Telegram: TelegramConfig{Token: "test-token"}}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

// newTestClient builds a client around the mock backend with credentials
// already validated, as if Connect had completed and the session were live.
func newTestClient(t *testing.T, api *mockAPI) (*TelegramClient, *recordSink) {
	t.Helper()
	sink := &recordSink{}
	tc := NewTelegramClient(testConfig(t), api, sink, zerolog.Nop())
	self, err := tc.validateLogin(context.Background())
	if err != nil {
		t.Fatalf("validateLogin: %v", err)
	}
	tc.selfUser = self
	tc.selfID = "10"
	tc.state = StateLive
	return tc, sink
}

func testRequest(t *testing.T, method string, params string) *satori.Request {
	t.Helper()
	return &satori.Request{Method: method, Params: []byte(params), Platform: PlatformName, SelfID: "10"}
}
