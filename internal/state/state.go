package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownSession is returned when operations reference an undefined key.
	ErrUnknownSession = errors.New("unknown session")

	fileExtension = ".json"
	keySanitizer  = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
)

// Role names in the provider wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message mirrors the OpenAI/OpenRouter chat schema so that stored history can be
// reused verbatim in requests.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall represents a function call request emitted by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall is embedded inside ToolCall for OpenAI-compatible schemas.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Conversation is a named exchange with a bounded history window. The
// system message lives outside the window so trimming can never evict
// it; when the window overflows, the oldest messages are dropped and a
// single synthetic marker records how many have gone.
type Conversation struct {
	key         string
	system      string
	history     []Message
	maxSize     int
	trimmed     int
	storagePath string
	createdAt   time.Time
	updatedAt   time.Time
}

// Key returns the identifier assigned to the conversation.
func (c *Conversation) Key() string {
	return c.key
}

// StoragePath returns the file path where this conversation is persisted.
func (c *Conversation) StoragePath() string {
	return c.storagePath
}

// System returns the system message sent ahead of the window.
func (c *Conversation) System() string {
	return c.system
}

// SetSystem replaces the system message.
func (c *Conversation) SetSystem(prompt string) {
	c.system = prompt
	c.touch()
}

// Messages returns the request-ready view: the system message when set,
// then the windowed history, as a fresh slice.
func (c *Conversation) Messages() []Message {
	out := make([]Message, 0, len(c.history)+1)
	if c.system != "" {
		out = append(out, Message{Role: RoleSystem, Content: c.system})
	}
	out = append(out, c.history...)
	return out
}

// Len reports how many messages the window currently holds, including
// the trim marker when present.
func (c *Conversation) Len() int {
	return len(c.history)
}

// TrimmedCount reports how many messages have been dropped so far.
func (c *Conversation) TrimmedCount() int {
	return c.trimmed
}

// AddUser appends a user message.
func (c *Conversation) AddUser(content string) {
	c.append(Message{Role: RoleUser, Content: content})
}

// AddAssistant appends a model reply, tool calls included.
func (c *Conversation) AddAssistant(msg Message) {
	msg.Role = RoleAssistant
	c.append(msg)
}

// AddTool appends the result of one tool call.
func (c *Conversation) AddTool(callID, name, content string) {
	c.append(Message{Role: RoleTool, Name: name, ToolCallID: callID, Content: content})
}

// Clear drops the windowed history and the trim count; the system
// message stays.
func (c *Conversation) Clear() {
	c.history = c.history[:0]
	c.trimmed = 0
	c.touch()
}

// CreatedAt returns when the conversation was first persisted.
func (c *Conversation) CreatedAt() time.Time {
	return c.createdAt
}

// UpdatedAt returns when the conversation last changed.
func (c *Conversation) UpdatedAt() time.Time {
	return c.updatedAt
}

func (c *Conversation) append(msg Message) {
	c.history = append(c.history, msg)
	c.enforceBound()
	c.touch()
}

// enforceBound trims the front of the window when it exceeds maxSize.
// The cut prefers the next user message at or after the forced cut
// point, so an assistant message is not separated from the tool results
// that follow it; when no user message remains ahead, the forced cut
// applies as is. One marker message at the front carries the running
// total of dropped messages and is replaced, not stacked, on later
// trims.
func (c *Conversation) enforceBound() {
	if c.maxSize <= 0 || len(c.history) <= c.maxSize {
		return
	}
	msgs := c.history
	if c.trimmed > 0 && len(msgs) > 0 {
		msgs = msgs[1:]
	}
	cut := len(msgs) - c.maxSize + 1
	idx := cut
	for idx < len(msgs) && msgs[idx].Role != RoleUser {
		idx++
	}
	if idx >= len(msgs) {
		idx = cut
	}
	c.trimmed += idx
	kept := msgs[idx:]
	rebuilt := make([]Message, 0, len(kept)+1)
	rebuilt = append(rebuilt, Message{
		Role:    RoleSystem,
		Content: fmt.Sprintf("[Context trimmed: %d earlier messages were removed to stay within the history window.]", c.trimmed),
	})
	c.history = append(rebuilt, kept...)
}

func (c *Conversation) touch() {
	now := time.Now()
	if c.createdAt.IsZero() {
		c.createdAt = now
	}
	c.updatedAt = now
}

// Manager orchestrates multiple named conversations backed by disk
// persistence under root/<date>/<key>.json.
type Manager struct {
	mu           sync.RWMutex
	sessions     map[string]*Conversation
	currentKey   string
	systemPrompt string
	maxHistory   int
	root         string
	logger       *log.Logger
}

// NewManager sets up the session container. maxHistory bounds the
// message window of every conversation it creates or loads; zero means
// unbounded.
func NewManager(systemPrompt, root string, maxHistory int, logger *log.Logger) (*Manager, error) {
	if root == "" {
		root = "sessions"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	mgr := &Manager{
		sessions:     make(map[string]*Conversation),
		systemPrompt: systemPrompt,
		maxHistory:   maxHistory,
		root:         root,
		logger:       logger,
	}
	if err := mgr.loadExisting(); err != nil {
		return nil, err
	}
	return mgr, nil
}

// EnsureSession fetches or creates a conversation for the provided key.
func (m *Manager) EnsureSession(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" {
		key = m.generateUniqueSessionNameLocked()
	}
	if conv, ok := m.sessions[key]; ok {
		m.currentKey = key
		return conv, nil
	}
	conv := m.newConversationLocked(key)
	if err := m.assignPathLocked(conv); err != nil {
		return nil, err
	}
	if err := m.persistConversationLocked(conv); err != nil {
		return nil, err
	}
	m.sessions[key] = conv
	m.currentKey = key
	return conv, nil
}

// NewSession explicitly creates a fresh conversation and errors if the key exists.
func (m *Manager) NewSession(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[key]; exists {
		return nil, fmt.Errorf("session %s already exists", key)
	}
	conv := m.newConversationLocked(key)
	if err := m.assignPathLocked(conv); err != nil {
		return nil, err
	}
	if err := m.persistConversationLocked(conv); err != nil {
		return nil, err
	}
	m.sessions[key] = conv
	m.currentKey = key
	return conv, nil
}

// Use switches to an existing conversation.
func (m *Manager) Use(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, key)
	}
	m.currentKey = key
	return conv, nil
}

// Delete removes a stored conversation from memory and disk.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.sessions[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, key)
	}
	if conv.storagePath != "" {
		if err := os.Remove(conv.storagePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete session %s: %w", key, err)
		}
	}
	delete(m.sessions, key)
	if m.currentKey == key {
		m.currentKey = ""
	}
	return nil
}

// Current exposes the active conversation, creating a default one if needed.
func (m *Manager) Current() *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureCurrentLocked()
}

// CurrentKey reveals which conversation is active.
func (m *Manager) CurrentKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentKey
}

// ListKeys returns the known conversation identifiers.
func (m *Manager) ListKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary captures metadata about a stored conversation without exposing message content.
type Summary struct {
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Trimmed      int       `json:"trimmed,omitempty"`
}

// Summaries returns lightweight details for each known conversation, sorted by last update desc.
func (m *Manager) Summaries() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]Summary, 0, len(m.sessions))
	for key, conv := range m.sessions {
		if conv == nil {
			continue
		}
		summaries = append(summaries, Summary{
			Key:          key,
			CreatedAt:    conv.CreatedAt(),
			UpdatedAt:    conv.UpdatedAt(),
			MessageCount: len(conv.history),
			Trimmed:      conv.trimmed,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries
}

// ClearCurrent wipes the active conversation history.
func (m *Manager) ClearCurrent() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv := m.ensureCurrentLocked()
	conv.Clear()
	return m.persistConversationLocked(conv)
}

// SetSystemPrompt updates the default system prompt used for new conversations.
func (m *Manager) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}

// Save writes the provided conversation to disk.
func (m *Manager) Save(conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv == nil {
		return fmt.Errorf("conversation is nil")
	}
	if _, ok := m.sessions[conv.key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, conv.key)
	}
	return m.persistConversationLocked(conv)
}

func (m *Manager) ensureCurrentLocked() *Conversation {
	if m.currentKey == "" {
		m.currentKey = m.generateUniqueSessionNameLocked()
	}
	if conv, ok := m.sessions[m.currentKey]; ok {
		return conv
	}
	conv := m.newConversationLocked(m.currentKey)
	if err := m.assignPathLocked(conv); err != nil {
		m.logger.Printf("assign storage path failed: %v", err)
	} else if err := m.persistConversationLocked(conv); err != nil {
		m.logger.Printf("persist conversation failed: %v", err)
	}
	m.sessions[m.currentKey] = conv
	return conv
}

func (m *Manager) loadExisting() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("read session root: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dayDir := filepath.Join(m.root, entry.Name())
		files, err := os.ReadDir(dayDir)
		if err != nil {
			m.logger.Printf("skip %s: %v", dayDir, err)
			continue
		}
		for _, fileEntry := range files {
			if fileEntry.IsDir() || filepath.Ext(fileEntry.Name()) != fileExtension {
				continue
			}
			path := filepath.Join(dayDir, fileEntry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				m.logger.Printf("read %s failed: %v", path, err)
				continue
			}
			var persisted persistedConversation
			if err := json.Unmarshal(data, &persisted); err != nil {
				m.logger.Printf("parse %s failed: %v", path, err)
				continue
			}
			key := persisted.Key
			if key == "" {
				key = strings.TrimSuffix(fileEntry.Name(), fileExtension)
			}
			conv := &Conversation{
				key:         key,
				system:      persisted.System,
				history:     persisted.Messages,
				maxSize:     m.maxHistory,
				trimmed:     persisted.Trimmed,
				storagePath: path,
				createdAt:   persisted.CreatedAt,
				updatedAt:   persisted.UpdatedAt,
			}
			// A window shrunk in config still holds after a reload.
			conv.enforceBound()
			if conv.createdAt.IsZero() {
				if info, statErr := os.Stat(path); statErr == nil {
					conv.createdAt = info.ModTime()
				} else {
					conv.createdAt = time.Now()
				}
			}
			if conv.updatedAt.IsZero() {
				conv.updatedAt = conv.createdAt
			}
			if existing, exists := m.sessions[conv.key]; exists {
				if existing.updatedAt.After(conv.updatedAt) {
					continue
				}
			}
			m.sessions[conv.key] = conv
			loaded++
		}
	}
	if loaded > 0 {
		m.logger.Printf("loaded %d stored sessions", loaded)

		// Resume the most recently updated session by default.
		var mostRecent *Conversation
		for _, conv := range m.sessions {
			if mostRecent == nil || conv.updatedAt.After(mostRecent.updatedAt) {
				mostRecent = conv
			}
		}
		if mostRecent != nil {
			m.currentKey = mostRecent.key
		}
	}
	return nil
}

func (m *Manager) assignPathLocked(conv *Conversation) error {
	if conv.storagePath != "" {
		return nil
	}
	folder := filepath.Join(m.root, conv.createdAt.Format("2006-01-02"))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", folder, err)
	}
	sanitized := sanitizeKey(conv.key)
	conv.storagePath = filepath.Join(folder, sanitized+fileExtension)
	return nil
}

func (m *Manager) persistConversationLocked(conv *Conversation) error {
	if conv.storagePath == "" {
		if err := m.assignPathLocked(conv); err != nil {
			return err
		}
	}
	payload := persistedConversation{
		Key:       conv.key,
		System:    conv.system,
		Messages:  conv.history,
		Trimmed:   conv.trimmed,
		CreatedAt: conv.createdAt,
		UpdatedAt: conv.updatedAt,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	tmp := conv.storagePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp conversation: %w", err)
	}
	if err := os.Rename(tmp, conv.storagePath); err != nil {
		return fmt.Errorf("replace conversation: %w", err)
	}
	return nil
}

func sanitizeKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "conversation"
	}
	sanitized := keySanitizer.ReplaceAllString(trimmed, "_")
	sanitized = strings.Trim(sanitized, "_-")
	if sanitized == "" {
		sanitized = "conversation"
	}
	return sanitized
}

// generateUniqueSessionNameLocked creates a unique sequential session name (chat-1, chat-2, etc.).
// Caller must hold m.mu lock.
func (m *Manager) generateUniqueSessionNameLocked() string {
	maxNum := 0
	for key := range m.sessions {
		var num int
		if _, err := fmt.Sscanf(key, "chat-%d", &num); err == nil {
			if num > maxNum {
				maxNum = num
			}
		}
	}
	return fmt.Sprintf("chat-%d", maxNum+1)
}

func (m *Manager) newConversationLocked(key string) *Conversation {
	now := time.Now()
	return &Conversation{
		key:       key,
		system:    m.systemPrompt,
		maxSize:   m.maxHistory,
		createdAt: now,
		updatedAt: now,
	}
}

// persistedConversation mirrors the JSON schema stored on disk.
type persistedConversation struct {
	Key       string    `json:"key"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Trimmed   int       `json:"trimmed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
