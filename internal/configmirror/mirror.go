package configmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"sync/atomic"
	"time"
)

// TokenMinter mints the S2S bearer the mirror attaches to its own refresh
// requests. Satisfied by internal/s2s.Minter.
type TokenMinter interface {
	Mint(ctx context.Context, callerSlug string, ttlSec int) (string, error)
}

// Config controls the refresher's behaviour.
type Config struct {
	RegistryBaseURL string
	InternalPath    string
	LKGPath         string
	PollInterval    time.Duration // floored to 10s by the caller (gwconfig.applyDefaults)
	ServiceName     string
}

// Mirror is a read-mostly local replica of the service registry. Readers
// call Snapshot()/Lookup(); a single background refresher owns writes
// via an atomic pointer swap, so readers never observe a torn snapshot.
type Mirror struct {
	cfg    Config
	minter TokenMinter
	client *http.Client
	logger *slog.Logger

	snapshot atomic.Pointer[MirrorSnapshot]
	source   atomic.Value // string: cache | lkg | empty

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Mirror. Call Start to begin refreshing.
func New(cfg Config, minter TokenMinter) *Mirror {
	if cfg.PollInterval < 10*time.Second {
		cfg.PollInterval = 10 * time.Second
	}
	m := &Mirror{
		cfg:    cfg,
		minter: minter,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default().With("component", "configmirror"),
		done:   make(chan struct{}),
	}
	m.source.Store(sourceEmpty)
	return m
}

// Start performs the initial load (network, falling back to LKG), then
// spawns the polling ticker. It never blocks startup on a failed network
// refresh: an empty mirror is a valid, non-fatal starting state.
func (m *Mirror) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if err := m.refresh(ctx); err != nil {
		m.logger.Warn("initial registry refresh failed, trying LKG", "error", err)
		if err := m.loadLKG(); err != nil {
			m.logger.Warn("no LKG snapshot available, starting empty", "error", err)
		}
	}

	go m.pollLoop(ctx)
}

// Shutdown cancels the background refresh loop.
func (m *Mirror) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

func (m *Mirror) pollLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.refresh(ctx); err != nil {
				m.logger.Warn("registry refresh failed, keeping current snapshot", "error", err)
			}
		}
	}
}

// OnPubSubHint triggers an out-of-band refresh. Idempotent: a refresh that
// finds nothing new is a no-op. Wired to the optional pubsub subscription
// in pubsub.go.
func (m *Mirror) OnPubSubHint(ctx context.Context) {
	if err := m.refresh(ctx); err != nil {
		m.logger.Warn("pubsub-triggered registry refresh failed", "error", err)
	}
}

// refresh performs a conditional GET with If-None-Match; 304 is a no-op;
// 2xx with a valid payload swaps the snapshot and best-effort writes the
// LKG file; anything else leaves the current snapshot untouched.
func (m *Mirror) refresh(ctx context.Context) error {
	url := m.cfg.RegistryBaseURL + m.cfg.InternalPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if tok, err := m.mintBearer(ctx); err == nil {
		req.Header.Set("Authorization", "Bearer "+tok)
	} else {
		return fmt.Errorf("mint s2s token: %w", err)
	}
	if cur := m.snapshot.Load(); cur != nil && cur.ETag != "" {
		req.Header.Set("If-None-Match", cur.ETag)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		// Decision: 304 does not refresh updatedAt, only a fresher etag is
		// adopted if the server sent one.
		if et := resp.Header.Get("ETag"); et != "" {
			if cur := m.snapshot.Load(); cur != nil && et != cur.ETag {
				updated := *cur
				updated.ETag = et
				m.snapshot.Store(&updated)
			}
		}
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("registry refresh: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}

	var payload registryPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("registry refresh: malformed payload: %w", err)
	}
	if payload.Services == nil {
		return fmt.Errorf("registry refresh: payload missing services field")
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		etag = fmt.Sprintf("\"v:%s\"", payload.Version)
	}
	snap := payload.toSnapshot(etag)
	if snap.UpdatedAt == 0 {
		snap.UpdatedAt = time.Now().UnixMilli()
	}

	if d := snap.Diff(m.snapshot.Load()); len(d.Added)+len(d.Removed)+len(d.Changed) > 0 {
		m.logger.Info("registry snapshot changed", "version", snap.Version,
			"added", d.Added, "removed", d.Removed, "changed", d.Changed)
	}
	m.snapshot.Store(snap)
	m.source.Store(sourceCache)
	m.writeLKGBestEffort(snap)
	return nil
}

func (m *Mirror) mintBearer(ctx context.Context) (string, error) {
	if m.minter == nil {
		return "", fmt.Errorf("no token minter configured")
	}
	return m.minter.Mint(ctx, m.cfg.ServiceName, 60)
}

// Snapshot returns the current view, or nil if nothing has ever loaded.
func (m *Mirror) Snapshot() *MirrorSnapshot {
	return m.snapshot.Load()
}

// Lookup resolves a single service by (slug,version).
func (m *Mirror) Lookup(slug string, version int) (ServiceConfig, bool) {
	return m.Snapshot().Lookup(slug, version)
}

// LookupAnyVersion resolves a service by slug alone, for the unversioned
// health passthrough proxy.
func (m *Mirror) LookupAnyVersion(slug string) (ServiceConfig, bool) {
	return m.Snapshot().LookupAnyVersion(slug)
}

// Readiness reports the mirror's current health for /readyz and admin
// diagnostics.
func (m *Mirror) Readiness() Readiness {
	snap := m.Snapshot()
	src, _ := m.source.Load().(string)
	if src == "" {
		src = sourceEmpty
	}
	if snap == nil {
		return Readiness{OK: false, Source: sourceEmpty}
	}
	slugs := make([]string, 0, len(snap.Services))
	for _, sc := range snap.Services {
		slugs = append(slugs, sc.Slug)
	}
	return Readiness{
		OK:       true,
		Source:   src,
		Version:  snap.Version,
		AgeMs:    ageMs(snap.UpdatedAt, time.Now()),
		Services: slugs,
	}
}

// Diff describes the services added, removed, or changed between two
// snapshots, used for structured change logging on refresh.
type Diff struct {
	Added   []string
	Removed []string
	Changed []string
}

// Diff compares the receiver (the new snapshot) against prev.
func (s *MirrorSnapshot) Diff(prev *MirrorSnapshot) Diff {
	var d Diff
	if prev == nil {
		for k := range s.Services {
			d.Added = append(d.Added, k)
		}
		return d
	}
	for k, sc := range s.Services {
		old, existed := prev.Services[k]
		if !existed {
			d.Added = append(d.Added, k)
			continue
		}
		if !reflect.DeepEqual(old, sc) {
			d.Changed = append(d.Changed, k)
		}
	}
	for k := range prev.Services {
		if _, still := s.Services[k]; !still {
			d.Removed = append(d.Removed, k)
		}
	}
	return d
}
