package repositories

import (
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/chat-escrow/backend/internal/models"
)

// Transaction ids are 8-digit numbers starting with 9.
const (
	TransactionIDMin = 90000000
	TransactionIDMax = 99999999
)

var ErrSessionNotFound = errors.New("escrow session not found")

type sessionEntry struct {
	mu      sync.Mutex
	session *models.EscrowSession
}

// SessionRepo is the in-memory transaction registry: one escrow record per chat.
// Mutations of one chat are serialized by that chat's own lock.
type SessionRepo struct {
	mu       sync.RWMutex
	sessions map[int64]*sessionEntry
	txIDs    map[int64]int64 // transaction id -> chat id
	now      func() time.Time
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{
		sessions: make(map[int64]*sessionEntry),
		txIDs:    make(map[int64]int64),
		now:      time.Now,
	}
}

func (r *SessionRepo) entry(chatID int64) *sessionEntry {
	r.mu.RLock()
	e, ok := r.sessions[chatID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[chatID]; ok {
		return e
	}
	e = &sessionEntry{session: &models.EscrowSession{ChatID: chatID, CreatedAt: r.now()}}
	r.sessions[chatID] = e
	return e
}

// Open registers a newly created escrow group and gives it a transaction id.
func (r *SessionRepo) Open(chatID int64, title string) *models.EscrowSession {
	s, _ := r.Update(chatID, func(s *models.EscrowSession) error {
		if title != "" {
			s.Title = title
		}
		if s.TransactionID == 0 {
			s.TransactionID = r.NewTransactionID(chatID)
		}
		return nil
	})
	return s
}

func (r *SessionRepo) Get(chatID int64) (*models.EscrowSession, error) {
	r.mu.RLock()
	e, ok := r.sessions[chatID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// Update runs fn against a working copy of the chat's session under the
// chat's lock. The copy replaces the stored session only when fn succeeds, so
// a failed operation leaves no partial state behind. The session is created
// on first use.
func (r *SessionRepo) Update(chatID int64, fn func(s *models.EscrowSession) error) (*models.EscrowSession, error) {
	e := r.entry(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()

	work := e.session.Clone()
	if err := fn(work); err != nil {
		return e.session.Clone(), err
	}
	e.session = work
	return work.Clone(), nil
}

// NewTransactionID reserves an id not used by any other chat.
func (r *SessionRepo) NewTransactionID(chatID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		id := TransactionIDMin + rand.Int64N(TransactionIDMax-TransactionIDMin+1)
		if owner, taken := r.txIDs[id]; taken && owner != chatID {
			continue
		}
		r.txIDs[id] = chatID
		return id
	}
}

func (r *SessionRepo) List() []*models.EscrowSession {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*models.EscrowSession, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.session.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}
