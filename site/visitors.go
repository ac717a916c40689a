package site

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/accounts"
	"github.com/tendant/simple-accounts/pkg/hosted"
	"github.com/tendant/simple-accounts/pkg/storage"
)

// VisitorCookie names the cookie that identifies a browser.
const VisitorCookie = "visitor_id"

type visitorKey struct{}

// StoreProvider hands out the account store holding a visitor's session.
type StoreProvider interface {
	Store(visitorID string) accounts.AccountStore
}

type visitors struct {
	ttl          time.Duration
	cookieConfig httputil.CookieConfig
	logger       *slog.Logger
}

// middleware assigns a visitor ID to browsers that do not have one yet.
func (v *visitors) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := httputil.GetCookie(r, VisitorCookie)
		if ok {
			if _, err := uuid.Parse(id); err != nil {
				ok = false
			}
		}
		if !ok {
			id = uuid.NewString()
			httputil.SetCookie(w, VisitorCookie, id, v.ttl, v.cookieConfig)
			v.logger.Debug("new visitor", "visitor_id", id)
		}

		ctx := context.WithValue(r.Context(), visitorKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func visitorID(ctx context.Context) string {
	id, _ := ctx.Value(visitorKey{}).(string)
	return id
}

// LocalStores gives every visitor a local store over one shared record set,
// with a session slot of their own. Session slots of visitors idle for longer
// than the TTL are cleared.
type LocalStores struct {
	base   *storage.SlotStore
	cfg    accounts.Config
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger
	mu     sync.Mutex

	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewLocalStores creates local stores over base. cfg is the template for
// every visitor's store; its Store and Locker are replaced. Its Clock, if set,
// also times visitor idleness.
func NewLocalStores(base *storage.SlotStore, cfg accounts.Config, ttl time.Duration) *LocalStores {
	if ttl <= 0 {
		ttl = DefaultVisitorTTL
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStores{
		base:   base,
		cfg:    cfg,
		ttl:    ttl,
		clock:  clk,
		logger: logger,
		seen:   make(map[string]time.Time),
	}
}

// Store returns the visitor's store. All of them serialise on one lock, since
// they share the record set.
func (l *LocalStores) Store(visitorID string) accounts.AccountStore {
	l.touch(visitorID)

	cfg := l.cfg
	cfg.Store = l.base.ForSession(visitorID)
	cfg.Locker = &l.mu
	return accounts.NewLocalStore(cfg)
}

// Len returns the number of visitors seen within the TTL.
func (l *LocalStores) Len() int {
	l.seenMu.Lock()
	defer l.seenMu.Unlock()
	return len(l.seen)
}

func (l *LocalStores) touch(visitorID string) {
	l.seenMu.Lock()
	now := l.clock.Now()
	var idle []string
	for id, last := range l.seen {
		if now.Sub(last) > l.ttl {
			idle = append(idle, id)
			delete(l.seen, id)
		}
	}
	l.seen[visitorID] = now
	l.seenMu.Unlock()

	for _, id := range idle {
		if err := l.base.ForSession(id).SaveSession(context.Background(), nil); err != nil {
			l.logger.Warn("failed to clear idle visitor session", "visitor_id", id, "error", err)
		}
	}
}

// HostedStores keeps one hosted store per visitor, dropping those idle for
// longer than the visitor TTL.
type HostedStores struct {
	client *hosted.Client
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*hostedEntry
}

type hostedEntry struct {
	store    *hosted.Store
	lastSeen time.Time
}

// NewHostedStores creates per-visitor hosted stores. A nil clock uses the
// wall clock and a nil logger slog.Default().
func NewHostedStores(client *hosted.Client, ttl time.Duration, clk clock.Clock, logger *slog.Logger) *HostedStores {
	if ttl <= 0 {
		ttl = DefaultVisitorTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HostedStores{
		client: client,
		ttl:    ttl,
		clock:  clk,
		logger: logger,
		stores: make(map[string]*hostedEntry),
	}
}

// Store returns the visitor's store, creating it on first use.
func (h *HostedStores) Store(visitorID string) accounts.AccountStore {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	h.evictIdle(now)

	entry, ok := h.stores[visitorID]
	if !ok {
		entry = &hostedEntry{store: hosted.NewStore(hosted.Config{
			Client: h.client,
			Clock:  h.clock,
			Logger: h.logger.With("visitor_id", visitorID),
		})}
		h.stores[visitorID] = entry
	}
	entry.lastSeen = now
	return entry.store
}

// Len returns the number of visitors with a live store.
func (h *HostedStores) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.stores)
}

func (h *HostedStores) evictIdle(now time.Time) {
	for id, entry := range h.stores {
		if now.Sub(entry.lastSeen) > h.ttl {
			delete(h.stores, id)
		}
	}
}
