package session

import (
	"log/slog"
	"sync"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/keywarden/keywarden/derive"
	"github.com/keywarden/keywarden/interfaces"
)

var (
	mintCounter           = vmetrics.GetOrCreateCounter("keywarden_capabilities_minted_total")
	dispenseCounter       = vmetrics.GetOrCreateCounter("keywarden_capability_dispenses_total")
	dispenseDeniedCounter = vmetrics.GetOrCreateCounter("keywarden_capability_denials_total")
)

type capability struct {
	wrapKeySeed   []byte
	wrapKeySalt   []byte
	ttl           time.Duration
	mintedAt      time.Time
	remainingUses int
}

// Store is the session-capability cache. It holds only the derived wrap-key
// seed and salt per session, never the long-term secret or a decryption key,
// so compromising the store's memory cannot reconstruct the long-term secret
// without re-running the cold path.
//
// Store is an owned, injectable component; there is no package-level
// singleton. All state transitions happen under one mutex: the dispense
// check-then-decrement is a single critical section.
type Store struct {
	mu   sync.Mutex
	caps map[interfaces.SessionID]*capability
	log  *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates an empty capability store.
func NewStore(log *slog.Logger) *Store {
	return &Store{
		caps: make(map[interfaces.SessionID]*capability),
		log:  log,
		now:  time.Now,
	}
}

// Mint installs a capability for the session, overwriting any existing one.
// Called only after the cold path fully succeeds.
func (s *Store) Mint(id interfaces.SessionID, wrapKeySeed, wrapKeySalt []byte, ttl time.Duration, maxUses int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.caps[id]; ok {
		wipeCapability(old)
	}

	s.caps[id] = &capability{
		wrapKeySeed:   append([]byte(nil), wrapKeySeed...),
		wrapKeySalt:   append([]byte(nil), wrapKeySalt...),
		ttl:           ttl,
		mintedAt:      s.now(),
		remainingUses: maxUses,
	}

	mintCounter.Inc()
	s.log.Debug("Minted session capability",
		slog.String("sessionId", string(id)),
		slog.Duration("ttl", ttl),
		slog.Int("maxUses", maxUses))
}

// Dispense atomically checks the capability's TTL and remaining-use budget,
// decrements the budget and returns the seed over a fresh one-time channel.
// The same channel is never returned twice. Expired and exhausted
// capabilities are invalidated here rather than swept proactively.
func (s *Store) Dispense(id interfaces.SessionID, uses int) (*Receiver, error) {
	if uses < 1 {
		uses = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.caps[id]
	if !ok {
		dispenseDeniedCounter.Inc()
		return nil, interfaces.ErrNotFound
	}

	if s.now().Sub(c.mintedAt) >= c.ttl {
		wipeCapability(c)
		delete(s.caps, id)
		dispenseDeniedCounter.Inc()
		return nil, interfaces.ErrExpired
	}

	if c.remainingUses < uses {
		dispenseDeniedCounter.Inc()
		return nil, interfaces.ErrExhausted
	}
	c.remainingUses -= uses

	sender, receiver := NewHandoff()
	// Buffered channel: the send never blocks, the receiving signing unit
	// may not exist yet.
	_ = sender.Send(Seed{
		WrapKeySeed: append([]byte(nil), c.wrapKeySeed...),
		WrapKeySalt: append([]byte(nil), c.wrapKeySalt...),
	})

	dispenseCounter.Inc()
	return receiver, nil
}

// Clear removes and wipes the capability for a session, e.g. on logout.
func (s *Store) Clear(id interfaces.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caps[id]; ok {
		wipeCapability(c)
		delete(s.caps, id)
		s.log.Debug("Cleared session capability", slog.String("sessionId", string(id)))
	}
}

// ClearAll removes and wipes every capability, e.g. on process teardown.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.caps {
		wipeCapability(c)
		delete(s.caps, id)
	}
	s.log.Debug("Cleared all session capabilities")
}

func wipeCapability(c *capability) {
	derive.Wipe(c.wrapKeySeed)
	derive.Wipe(c.wrapKeySalt)
	c.remainingUses = 0
}
