package ratelimit

import (
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"
)

// BlockRecord is a temporary IP block.
type BlockRecord struct {
	IP        string
	Reason    string
	BlockedAt time.Time
	UnblockAt time.Time
}

// IPGuard tracks blocked and trusted client addresses.
type IPGuard struct {
	mu      sync.RWMutex
	blocks  map[string]BlockRecord
	trusted map[string]struct{}
	history []time.Time
}

// NewIPGuard constructs an empty IPGuard.
func NewIPGuard() *IPGuard {
	return &IPGuard{
		blocks:  make(map[string]BlockRecord),
		trusted: make(map[string]struct{}),
	}
}

// NormalizeIP validates ip and returns its canonical form.
func NormalizeIP(ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", invalid("ip", "must not be empty")
	}
	addr, errParse := netip.ParseAddr(ip)
	if errParse != nil {
		return "", invalid("ip", "not a valid address")
	}
	return addr.Unmap().String(), nil
}

// Block blocks ip until now+duration, replacing any existing block.
func (g *IPGuard) Block(ip string, duration time.Duration, reason string, now time.Time) error {
	normalized, errIP := NormalizeIP(ip)
	if errIP != nil {
		return errIP
	}
	if duration <= 0 {
		return invalid("duration", "must be positive")
	}
	g.Restore(BlockRecord{IP: normalized, Reason: strings.TrimSpace(reason), BlockedAt: now, UnblockAt: now.Add(duration)})
	return nil
}

// Restore installs a block record as-is.
func (g *IPGuard) Restore(rec BlockRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocks[rec.IP] = rec
	g.history = append(g.history, rec.BlockedAt)
}

// IsBlocked returns the active block on ip, evicting it when expired.
func (g *IPGuard) IsBlocked(ip string, now time.Time) (BlockRecord, bool) {
	ip = canonicalIP(ip)
	g.mu.RLock()
	rec, ok := g.blocks[ip]
	g.mu.RUnlock()
	if !ok {
		return BlockRecord{}, false
	}
	if now.Before(rec.UnblockAt) {
		return rec, true
	}
	g.mu.Lock()
	if cur, still := g.blocks[ip]; still && !now.Before(cur.UnblockAt) {
		delete(g.blocks, ip)
	}
	g.mu.Unlock()
	return BlockRecord{}, false
}

// Whitelist removes any block on ip and reports whether one existed.
func (g *IPGuard) Whitelist(ip string) bool {
	ip = canonicalIP(ip)
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.blocks[ip]
	delete(g.blocks, ip)
	return ok
}

// Trust marks ip as trusted.
func (g *IPGuard) Trust(ip string) error {
	normalized, errIP := NormalizeIP(ip)
	if errIP != nil {
		return errIP
	}
	g.mu.Lock()
	g.trusted[normalized] = struct{}{}
	g.mu.Unlock()
	return nil
}

// Untrust removes ip from the trusted set.
func (g *IPGuard) Untrust(ip string) bool {
	ip = canonicalIP(ip)
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.trusted[ip]
	delete(g.trusted, ip)
	return ok
}

// Categorize returns the tier of ip. Blocked addresses are suspicious.
func (g *IPGuard) Categorize(ip string, now time.Time) IPTier {
	if _, blocked := g.IsBlocked(ip, now); blocked {
		return TierSuspicious
	}
	g.mu.RLock()
	_, trusted := g.trusted[canonicalIP(ip)]
	g.mu.RUnlock()
	if trusted {
		return TierTrusted
	}
	return TierNormal
}

// Sweep removes expired blocks and block history older than historyHorizon.
func (g *IPGuard) Sweep(now time.Time, historyHorizon time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for ip, rec := range g.blocks {
		if !now.Before(rec.UnblockAt) {
			delete(g.blocks, ip)
			removed++
		}
	}
	cutoff := now.Add(-historyHorizon)
	kept := g.history[:0]
	for _, t := range g.history {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	g.history = kept
	return removed
}

// BlocksSince counts blocks created at or after since.
func (g *IPGuard) BlocksSince(since time.Time) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, t := range g.history {
		if !t.Before(since) {
			n++
		}
	}
	return n
}

// List returns the active blocks ordered by IP.
func (g *IPGuard) List(now time.Time) []BlockedIP {
	g.mu.RLock()
	out := make([]BlockedIP, 0, len(g.blocks))
	for _, rec := range g.blocks {
		if !now.Before(rec.UnblockAt) {
			continue
		}
		out = append(out, BlockedIP{
			IP:               rec.IP,
			Reason:           rec.Reason,
			BlockedAt:        rec.BlockedAt,
			UnblockTime:      rec.UnblockAt,
			RemainingSeconds: ceilSeconds(rec.UnblockAt.Sub(now)),
		})
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Trusted returns the trusted addresses in order.
func (g *IPGuard) Trusted() []string {
	g.mu.RLock()
	out := make([]string, 0, len(g.trusted))
	for ip := range g.trusted {
		out = append(out, ip)
	}
	g.mu.RUnlock()
	sort.Strings(out)
	return out
}

// TrustedCount returns the number of trusted addresses.
func (g *IPGuard) TrustedCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.trusted)
}

func canonicalIP(ip string) string {
	if normalized, errIP := NormalizeIP(ip); errIP == nil {
		return normalized
	}
	return strings.TrimSpace(ip)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int(secs)
}
