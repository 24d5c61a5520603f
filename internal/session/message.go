// Package session implements session message append, commit/archive, and
// memory-candidate extraction and promotion (C8).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/axiomme/axiomme/internal/fs"
	"github.com/axiomme/axiomme/internal/index"
	"github.com/axiomme/axiomme/internal/om"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/internal/uri"
	"github.com/google/uuid"
)

// Message is one session turn, persisted as a messages.jsonl line.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Meta is the session's meta.json summary.
type Meta struct {
	MessageCount  int       `json:"message_count"`
	LastMessageAt time.Time `json:"last_message_at"`
	ArchiveCount  int       `json:"archive_count"`
}

// Manager coordinates message append, commit, and memory promotion for
// sessions rooted under axiom://session/<id>.
type Manager struct {
	fsys    *fs.FS
	idx     *index.Index
	st      *store.Store
	omCfg   om.ResolvedConfig
	observe om.ObserverFunc
}

// NewManager builds a session Manager.
func NewManager(fsys *fs.FS, idx *index.Index, st *store.Store, omCfg om.ResolvedConfig, observe om.ObserverFunc) *Manager {
	return &Manager{fsys: fsys, idx: idx, st: st, omCfg: omCfg, observe: observe}
}

func sessionRoot(sessionID string) (uri.URI, error) {
	return uri.Root(uri.ScopeSession).Join(sessionID)
}

// AppendMessage writes one message to messages.jsonl, updates meta.json,
// and runs the OM cycle for the session's scope key.
func (m *Manager) AppendMessage(ctx context.Context, sessionID, role, content string) (Message, error) {
	root, err := sessionRoot(sessionID)
	if err != nil {
		return Message{}, err
	}

	msg := Message{ID: uuid.NewString(), Role: role, Content: content, Timestamp: time.Now()}
	line, err := json.Marshal(msg)
	if err != nil {
		return Message{}, apperr.Wrap(apperr.JSONError, "session.append_message", err)
	}

	msgsURI, err := root.Join("messages.jsonl")
	if err != nil {
		return Message{}, err
	}
	if err := m.fsys.Append(msgsURI, append(line, '\n'), true); err != nil {
		return Message{}, err
	}

	meta, err := m.readMeta(root)
	if err != nil {
		return Message{}, err
	}
	meta.MessageCount++
	meta.LastMessageAt = msg.Timestamp
	if err := m.writeMeta(root, meta); err != nil {
		return Message{}, err
	}

	scopeKey := "session:" + sessionID
	if _, err := om.RunCycle(ctx, m.st, m.omCfg, m.observe, om.CycleInput{
		ScopeKey: scopeKey, NewMessageIDs: []string{msg.ID}, NewMessageText: content,
		NewMessageTokens: len(splitWords(content)),
	}); err != nil {
		return msg, fmt.Errorf("session.append_message: om cycle: %w", err)
	}

	return msg, nil
}

func (m *Manager) readMeta(root uri.URI) (Meta, error) {
	metaURI, err := root.Join("meta.json")
	if err != nil {
		return Meta{}, err
	}
	if !m.fsys.Exists(metaURI) {
		return Meta{}, nil
	}
	raw, err := m.fsys.Read(metaURI)
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, apperr.Wrap(apperr.JSONError, "session.read_meta", err)
	}
	return meta, nil
}

func (m *Manager) writeMeta(root uri.URI, meta Meta) error {
	metaURI, err := root.Join("meta.json")
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.JSONError, "session.write_meta", err)
	}
	return m.fsys.Write(metaURI, data, true)
}

func splitWords(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}
