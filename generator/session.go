package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"brand_hero_content/logging"
	"brand_hero_content/store"
)

// TurnFunc 用待续接的 handle（为空则重新开始）和输入执行一轮；
// 返回的 payload 与 handle 一起保存。
type TurnFunc func(ctx context.Context, previousHandle, input string) (TurnResult, map[string]any, error)

// ConversationStore 为每个会话 key 保存上一轮的 handle，并实现续接/重新开始的协议。
//
// 未启用 WithKeyLocks 时，同一 key 的并发轮次以最后写入的 handle 为准。
type ConversationStore struct {
	docs   DocumentStore
	logger *slog.Logger
	locks  *keyLocks
}

type ConversationOption func(*ConversationStore)

// WithKeyLocks 在本进程内按会话 key 串行执行轮次。
func WithKeyLocks() ConversationOption {
	return func(c *ConversationStore) {
		c.locks = &keyLocks{held: make(map[string]*keyLock)}
	}
}

func WithConversationLogger(logger *slog.Logger) ConversationOption {
	return func(c *ConversationStore) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewConversationStore(docs DocumentStore, opts ...ConversationOption) *ConversationStore {
	c := &ConversationStore{docs: docs, logger: logging.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load 读取 key 对应的会话状态。
func (c *ConversationStore) Load(ctx context.Context, key string) (ConversationState, bool, error) {
	doc, ok, err := c.docs.GetDocument(ctx, store.CollectionConversations, key)
	if err != nil {
		return ConversationState{}, false, fmt.Errorf("%w: load conversation %s: %w", ErrPersistence, key, err)
	}
	if !ok {
		return ConversationState{Key: key}, false, nil
	}
	state := ConversationState{Key: key}
	state.PreviousTurnHandle, _ = doc["previous_turn_handle"].(string)
	state.Payload, _ = doc["payload"].(map[string]any)
	return state, true, nil
}

// Save upsert handle 和 payload，空的部分不覆盖。
func (c *ConversationStore) Save(ctx context.Context, state ConversationState) error {
	fields := map[string]any{"conversation_key": state.Key}
	if state.PreviousTurnHandle != "" {
		fields["previous_turn_handle"] = state.PreviousTurnHandle
	}
	if state.Payload != nil {
		fields["payload"] = state.Payload
	}
	if err := c.docs.UpsertDocument(ctx, store.CollectionConversations, state.Key, fields); err != nil {
		return fmt.Errorf("%w: save conversation %s: %w", ErrPersistence, state.Key, err)
	}
	return nil
}

// Continue 在 handle 和用户回复都存在时续接上一轮；否则重新开始，
// 并把 userResponse（可能为空）作为新一轮的输入。返回的 handle 覆盖已存的。
// 保存失败时仍返回本轮结果和错误。
func (c *ConversationStore) Continue(ctx context.Context, key, userResponse string, run TurnFunc) (TurnResult, error) {
	unlock := c.lock(key)
	defer unlock()

	state, _, err := c.Load(ctx, key)
	if err != nil {
		return TurnResult{}, err
	}
	previous := ""
	hasResponse := strings.TrimSpace(userResponse) != ""
	switch {
	case state.PreviousTurnHandle != "" && hasResponse:
		previous = state.PreviousTurnHandle
	case hasResponse:
		c.logger.Info("no previous turn; starting fresh with the response as input", "conversation", key)
	}

	res, payload, err := run(ctx, previous, userResponse)
	if err != nil {
		return TurnResult{}, err
	}
	if res.Handle == "" && payload == nil {
		return res, nil
	}
	next := ConversationState{Key: key, PreviousTurnHandle: res.Handle, Payload: payload}
	if err := c.Save(ctx, next); err != nil {
		c.logger.Error("conversation handle not saved", "conversation", key, "handle", res.Handle, "error", err)
		return res, err
	}
	return res, nil
}

func (c *ConversationStore) lock(key string) func() {
	if c.locks == nil {
		return func() {}
	}
	return c.locks.lock(key)
}

type keyLocks struct {
	mu   sync.Mutex
	held map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.held[key]
	if !ok {
		l = &keyLock{}
		k.held[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.held, key)
		}
		k.mu.Unlock()
	}
}
