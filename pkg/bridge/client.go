// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/satori-telegram/pkg/satori"
)

// PlatformName is the platform string advertised on every login and event.
const PlatformName = "telegram"

// telegramAPI is the slice of the Bot API client the bridge calls. Keeping
// it an interface lets tests substitute a scripted backend.
type telegramAPI interface {
	GetMe(ctx context.Context) (*telego.User, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	SendAudio(ctx context.Context, params *telego.SendAudioParams) (*telego.Message, error)
	SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error)
	SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error
	GetChat(ctx context.Context, params *telego.GetChatParams) (*telego.ChatFullInfo, error)
	GetChatMember(ctx context.Context, params *telego.GetChatMemberParams) (telego.ChatMember, error)
	GetChatAdministrators(ctx context.Context, params *telego.GetChatAdministratorsParams) ([]telego.ChatMember, error)
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, opts ...telego.LongPollingOption) (<-chan telego.Update, error)
	FileDownloadURL(filepath string) string
}

var _ telegramAPI = (*telego.Bot)(nil)

// eventSink receives normalized gateway events. The Satori server implements
// it; tests use a recording sink.
type eventSink interface {
	PushEvent(evt *satori.Event)
}

// SessionState is the lifecycle state of the backend session.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticating
	StateSyncing
	StateLive
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateSyncing:
		return "syncing"
	case StateLive:
		return "live"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func (s SessionState) loginStatus() satori.LoginStatus {
	switch s {
	case StateAuthenticating, StateSyncing:
		return satori.LoginConnect
	case StateLive:
		return satori.LoginOnline
	default:
		return satori.LoginOffline
	}
}

// TelegramClient owns one bot session: it authenticates, pumps native
// updates through the normalizer, serves gateway actions, and tracks the
// caches both directions share.
type TelegramClient struct {
	log  zerolog.Logger
	cfg  *Config
	bot  telegramAPI
	sink eventSink

	selfUser *telego.User
	selfID   string

	stateMu sync.Mutex
	state   SessionState

	// emitMu orders event emission: the id draw and the sink push happen
	// under one lock so events reach the gateway in id order.
	emitMu sync.Mutex
	seq    int64

	seenUpdates *exsync.RingBuffer[int, struct{}]
	history     *historyCache

	cacheMu  sync.RWMutex
	users    map[int64]*satori.User
	guilds   map[int64]*satori.Guild
	channels map[int64]map[string]*satori.Channel // guild chat id -> channel id

	// sendLocks serializes sends per chat so multi-part messages interleave
	// with nothing else in the same chat.
	sendMu    sync.Mutex
	sendLocks map[int64]*sync.Mutex

	pending *pendingActions

	stopChan chan struct{}
	stopOnce sync.Once
	pumpDone chan struct{}
}

// NewTelegramClient wires a client around an authenticated-or-not bot API
// handle. Connect performs the actual login.
func NewTelegramClient(cfg *Config, bot telegramAPI, sink eventSink, log zerolog.Logger) *TelegramClient {
	return &TelegramClient{
		log:  log.With().Str("component", "telegram_client").Logger(),
		cfg:  cfg,
		bot:  bot,
		sink: sink,

		state:       StateUnauthenticated,
		seenUpdates: exsync.NewRingBuffer[int, struct{}](cfg.Limits.DedupWindow),
		history:     newHistoryCache(cfg.Limits.HistorySize),
		users:       make(map[int64]*satori.User),
		guilds:      make(map[int64]*satori.Guild),
		channels:    make(map[int64]map[string]*satori.Channel),
		sendLocks:   make(map[int64]*sync.Mutex),
		pending:     newPendingActions(),
		stopChan:    make(chan struct{}),
		pumpDone:    make(chan struct{}),
	}
}

// Connect validates the credentials and starts the update pump. It returns
// once the session is authenticated; syncing continues in the background.
func (tc *TelegramClient) Connect(ctx context.Context) error {
	tc.setState(StateAuthenticating)
	self, err := tc.validateLogin(ctx)
	if err != nil {
		tc.setState(StateUnauthenticated)
		return err
	}
	tc.selfUser = self
	tc.selfID = strconv.FormatInt(self.ID, 10)
	tc.cacheUser(self)
	tc.log.Info().Str("username", self.Username).Str("self_id", tc.selfID).Msg("Authenticated to Telegram")

	go tc.runUpdateLoop()
	return nil
}

// Disconnect terminates the session. Teardown order matters: the update
// pump stops first so no new events are emitted, then in-flight actions
// fail, then the terminal state is announced.
func (tc *TelegramClient) Disconnect() {
	tc.stopOnce.Do(func() {
		close(tc.stopChan)
		select {
		case <-tc.pumpDone:
		case <-time.After(5 * time.Second):
			tc.log.Warn().Msg("Update pump did not stop in time")
		}
		tc.pending.failAll(ErrSessionTerminated)
		tc.setState(StateTerminated)
	})
}

// State returns the current session state.
func (tc *TelegramClient) State() SessionState {
	tc.stateMu.Lock()
	defer tc.stateMu.Unlock()
	return tc.state
}

// setState transitions the session state, emitting a login-updated event on
// every observable change. Terminated is final.
func (tc *TelegramClient) setState(next SessionState) {
	tc.stateMu.Lock()
	if tc.state == next || tc.state == StateTerminated {
		tc.stateMu.Unlock()
		return
	}
	prev := tc.state
	tc.state = next
	tc.stateMu.Unlock()

	tc.log.Debug().Stringer("from", prev).Stringer("to", next).Msg("Session state changed")
	if tc.selfID == "" {
		return
	}
	tc.emit(&satori.Event{
		Type:  satori.EventLoginUpdated,
		Login: tc.Login(),
	})
}

// Login reports the current login resource.
func (tc *TelegramClient) Login() *satori.Login {
	login := &satori.Login{
		SelfID:   tc.selfID,
		Platform: PlatformName,
		Status:   tc.State().loginStatus(),
	}
	if tc.selfUser != nil {
		login.User = userToSatori(tc.selfUser)
	}
	return login
}

// Logins implements the Satori server login source.
func (tc *TelegramClient) Logins() []*satori.Login {
	return []*satori.Login{tc.Login()}
}

// rpcContext bounds one native RPC with the configured timeout.
func (tc *TelegramClient) rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), tc.cfg.RequestTimeout())
}

// emit assigns the event id and envelope fields and hands the event to the
// sink. The update pump and action handlers emit concurrently, so the id
// draw and the push are one critical section: ids stay gapless and events
// reach the gateway in strictly increasing order.
func (tc *TelegramClient) emit(evt *satori.Event) {
	evt.Platform = PlatformName
	evt.SelfID = tc.selfID
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	tc.emitMu.Lock()
	defer tc.emitMu.Unlock()
	tc.seq++
	evt.ID = tc.seq
	tc.sink.PushEvent(evt)
}

// runUpdateLoop is the session pump: it opens the long-polling stream,
// replays the backlog (syncing), then follows live updates, reconnecting
// with exponential backoff until terminated.
func (tc *TelegramClient) runUpdateLoop() {
	defer close(tc.pumpDone)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-tc.stopChan
		cancel()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		select {
		case <-tc.stopChan:
			return
		default:
		}

		updates, err := tc.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
			AllowedUpdates: []string{
				"message", "edited_message", "channel_post", "edited_channel_post",
				"callback_query", "message_reaction", "my_chat_member", "chat_member",
			},
		}, telego.WithLongPollingUpdateInterval(time.Second))
		if err != nil {
			classified := classifyTelegramError(err)
			if !retryable(classified) {
				tc.log.Error().Err(err).Msg("Update stream rejected, terminating session")
				tc.pending.failAll(ErrSessionTerminated)
				tc.setState(StateTerminated)
				return
			}
			wait := bo.NextBackOff()
			tc.log.Warn().Err(err).Dur("retry_in", wait).Msg("Update stream failed, reconnecting")
			select {
			case <-time.After(wait):
			case <-tc.stopChan:
				return
			}
			continue
		}
		bo.Reset()
		tc.setState(StateSyncing)
		if !tc.followUpdates(updates) {
			return
		}
		// Stream closed underneath us; the session walks back through
		// authenticating and syncing on the way up.
		tc.setState(StateAuthenticating)
	}
}

// followUpdates drains the update channel. While a backlog is pending the
// session is syncing; the first moment the channel runs empty it goes live.
// Returns false when the session should stop, true to reconnect.
func (tc *TelegramClient) followUpdates(updates <-chan telego.Update) bool {
	live := false
	for {
		if !live {
			select {
			case update, ok := <-updates:
				if !ok {
					return true
				}
				tc.handleUpdate(&update)
			case <-tc.stopChan:
				return false
			default:
				live = true
				tc.setState(StateLive)
			}
			continue
		}
		select {
		case update, ok := <-updates:
			if !ok {
				return true
			}
			tc.handleUpdate(&update)
		case <-tc.stopChan:
			return false
		}
	}
}

// chatLock returns the per-chat send mutex, creating it on first use.
func (tc *TelegramClient) chatLock(chatID int64) *sync.Mutex {
	tc.sendMu.Lock()
	defer tc.sendMu.Unlock()
	lock, ok := tc.sendLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		tc.sendLocks[chatID] = lock
	}
	return lock
}

func (tc *TelegramClient) cacheUser(user *telego.User) *satori.User {
	converted := userToSatori(user)
	tc.cacheMu.Lock()
	tc.users[user.ID] = converted
	tc.cacheMu.Unlock()
	return converted
}

func (tc *TelegramClient) cachedUser(userID int64) (*satori.User, bool) {
	tc.cacheMu.RLock()
	defer tc.cacheMu.RUnlock()
	user, ok := tc.users[userID]
	return user, ok
}

// cacheChat records the guild and channel a message was observed in. The
// Bot API has no chat enumeration, so guild.list and channel.list answer
// from chats seen during this session.
func (tc *TelegramClient) cacheChat(chat *telego.Chat, threadID int) {
	channel := chatToChannel(chat, threadID)
	guild := chatToGuild(chat)
	tc.cacheMu.Lock()
	defer tc.cacheMu.Unlock()
	if guild != nil {
		tc.guilds[chat.ID] = guild
	}
	perGuild, ok := tc.channels[chat.ID]
	if !ok {
		perGuild = make(map[string]*satori.Channel)
		tc.channels[chat.ID] = perGuild
	}
	perGuild[channel.ID] = channel
}

func (tc *TelegramClient) cachedGuilds() []*satori.Guild {
	tc.cacheMu.RLock()
	defer tc.cacheMu.RUnlock()
	out := make([]*satori.Guild, 0, len(tc.guilds))
	for _, guild := range tc.guilds {
		out = append(out, guild)
	}
	return out
}

func (tc *TelegramClient) cachedChannels(chatID int64) []*satori.Channel {
	tc.cacheMu.RLock()
	defer tc.cacheMu.RUnlock()
	out := make([]*satori.Channel, 0, len(tc.channels[chatID]))
	for _, channel := range tc.channels[chatID] {
		out = append(out, channel)
	}
	return out
}

// pendingActions tracks in-flight gateway actions so session termination can
// cancel them with a definite cause.
type pendingActions struct {
	mu sync.Mutex
	m  map[uuid.UUID]context.CancelCauseFunc
}

func newPendingActions() *pendingActions {
	return &pendingActions{m: make(map[uuid.UUID]context.CancelCauseFunc)}
}

// track derives a cancelable context for one action. The returned release
// func must be called when the action finishes.
func (p *pendingActions) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	id := uuid.New()
	p.mu.Lock()
	p.m[id] = cancel
	p.mu.Unlock()
	return ctx, func() {
		p.mu.Lock()
		delete(p.m, id)
		p.mu.Unlock()
		cancel(nil)
	}
}

// failAll cancels every in-flight action with the given cause.
func (p *pendingActions) failAll(cause error) {
	p.mu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(p.m))
	for id, cancel := range p.m {
		cancels = append(cancels, cancel)
		delete(p.m, id)
	}
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel(cause)
	}
}
