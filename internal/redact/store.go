// Package redact — store.go
//
// Store is the session-scoped, bidirectional placeholder↔literal map. Unlike
// the cross-session ClassificationCache (cache.go/s3fifo_cache.go), which only
// remembers a value's PII type so repeat Ollama calls are avoided, Store
// holds the actual literal a placeholder stands for — and that mapping must
// not outlive the session it was created in (spec.md §3's SubstitutionEntry
// lifetime invariant). A compromised or leaked placeholder from one session
// must never resolve against another session's literals.
package redact

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// Store holds one substitution map per active session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionMap
}

type sessionMap struct {
	placeholderToLiteral map[string]string
	literalToPlaceholder map[string]string
	entries              []model.SubstitutionEntry
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*sessionMap)}
}

// Put records a literal→placeholder substitution for sessionID, returning the
// placeholder. If the same literal has already been substituted in this
// session, the existing placeholder is reused rather than minting a new one,
// so repeated occurrences of the same secret collapse to one token.
func (s *Store) Put(sessionID, literal string, origin model.SpanOrigin, subtype string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.sessions[sessionID]
	if !ok {
		sm = &sessionMap{
			placeholderToLiteral: make(map[string]string),
			literalToPlaceholder: make(map[string]string),
		}
		s.sessions[sessionID] = sm
	}

	if ph, ok := sm.literalToPlaceholder[literal]; ok {
		return ph
	}

	ph := newPlaceholder(origin, subtype)
	sm.placeholderToLiteral[ph] = literal
	sm.literalToPlaceholder[literal] = ph
	sm.entries = append(sm.entries, model.SubstitutionEntry{
		Placeholder:  ph,
		Literal:      literal,
		SpanOrigin:   origin,
		Subtype:      subtype,
		DiscoveredAt: time.Now(),
	})
	return ph
}

// Resolve returns the literal a placeholder stands for within sessionID.
func (s *Store) Resolve(sessionID, placeholder string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sm, ok := s.sessions[sessionID]
	if !ok {
		return "", false
	}
	lit, ok := sm.placeholderToLiteral[placeholder]
	return lit, ok
}

// Entries returns every substitution recorded for sessionID, in discovery order.
func (s *Store) Entries(sessionID string) []model.SubstitutionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sm, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]model.SubstitutionEntry, len(sm.entries))
	copy(out, sm.entries)
	return out
}

// ClearSession discards all substitutions for sessionID. Called when a
// session ends, so placeholders from a finished session never resolve again.
func (s *Store) ClearSession(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// SessionCount returns the number of distinct literals substituted so far
// in sessionID.
func (s *Store) SessionCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sm, ok := s.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(sm.literalToPlaceholder)
}

// placeholderOriginTag maps a SpanOrigin to the tag used in the placeholder's
// wire form.
func placeholderOriginTag(origin model.SpanOrigin) string {
	switch origin {
	case model.SpanSecret:
		return "SEC"
	default:
		return "PII"
	}
}

// newPlaceholder mints a placeholder of the unified form
// "[CODEGATE_<ORIGIN>_<TYPE>_<12-hex>]". A single family (rather than
// separate secret/PII formats) keeps the streaming sliding-boundary buffer to
// one fixed maximum length instead of two (see stream.go).
func newPlaceholder(origin model.SpanOrigin, subtype string) string {
	var raw [6]byte
	_, _ = rand.Read(raw[:])
	return fmt.Sprintf("[CODEGATE_%s_%s_%s]", placeholderOriginTag(origin), normalizeSubtype(subtype), hex.EncodeToString(raw[:]))
}

func normalizeSubtype(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	if len(s) > MaxSubtypeLen {
		s = s[:MaxSubtypeLen]
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// MaxSubtypeLen bounds how much of a signature/PII-type name is trusted to
// appear inside a placeholder. Longer subtypes are still valid identifiers;
// this only sizes the streaming sliding-boundary buffer (stream.go).
const MaxSubtypeLen = 32

// MaxPlaceholderLen is the longest rendering of newPlaceholder's format this
// gateway will ever emit, used by stream.go to size its sliding boundary
// buffer: "[CODEGATE_" + origin(3) + "_" + subtype(<=32) + "_" + hex(12) + "]".
const MaxPlaceholderLen = len("[CODEGATE_") + 3 + 1 + MaxSubtypeLen + 1 + 12 + 1
