package proxy

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"igcrawler/pkg/config"
	"igcrawler/pkg/logger"
)

// Direct is the sentinel address meaning "no proxy".
const Direct = ""

// Endpoint is a snapshot of one egress path and its health counters.
type Endpoint struct {
	Address            string    `json:"address"`
	FailureCount       int       `json:"failure_count"`
	LastFailureAt      time.Time `json:"last_failure_at"`
	LastUsedAt         time.Time `json:"last_used_at"`
	TotalRequests      int       `json:"total_requests"`
	SuccessfulRequests int       `json:"successful_requests"`
}

// SuccessRate is 1.0 for an endpoint that has not been used yet.
func (e Endpoint) SuccessRate() float64 {
	if e.TotalRequests == 0 {
		return 1.0
	}
	return float64(e.SuccessfulRequests) / float64(e.TotalRequests)
}

func (e Endpoint) IsDirect() bool { return e.Address == Direct }

// URL parses the address. It returns nil for a direct connection.
func (e Endpoint) URL() (*url.URL, error) {
	if e.IsDirect() {
		return nil, nil
	}
	return url.Parse(e.Address)
}

// String masks credentials so an endpoint can be logged safely.
func (e Endpoint) String() string {
	return Mask(e.Address)
}

// Mask hides the user info and port of a proxy URL.
func Mask(addr string) string {
	if addr == Direct {
		return "direct"
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		if i := strings.LastIndex(addr, "@"); i >= 0 {
			addr = addr[i+1:]
		}
		if host, _, ok := strings.Cut(addr, ":"); ok {
			return host + ":***"
		}
		return "***"
	}
	if u.User != nil {
		return "***@" + u.Hostname()
	}
	return u.Hostname() + ":***"
}

// Settings holds the pool thresholds.
type Settings struct {
	MaxFailures     int
	SwitchThreshold int
	Cooldown        time.Duration
	RotateInterval  time.Duration
	SwitchPause     time.Duration
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxFailures:     cfg.MaxProxyFailures,
		SwitchThreshold: cfg.ProxySwitchThreshold,
		Cooldown:        cfg.Proxy.Cooldown.Std(),
		RotateInterval:  cfg.Proxy.RotateInterval.Std(),
		SwitchPause:     cfg.Proxy.SwitchPause.Std(),
	}
}

func DefaultSettings() Settings {
	return SettingsFromConfig(config.DefaultConfig())
}

// Pool owns the endpoint table and the index of the active endpoint.
// All methods are safe for concurrent use.
type Pool struct {
	mu          sync.Mutex
	settings    Settings
	endpoints   []*Endpoint
	current     int
	consecutive int
	lastRotate  time.Time
	rotations   int

	now   func() time.Time
	sleep Sleeper
	rng   *rand.Rand
	log   logger.Logger
}

type Option func(*Pool)

func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// WithSleeper replaces the pause taken after a switch.
func WithSleeper(sleep Sleeper) Option {
	return func(p *Pool) { p.sleep = sleep }
}

func WithRand(r *rand.Rand) Option {
	return func(p *Pool) { p.rng = r }
}

func WithLogger(l logger.Logger) Option {
	return func(p *Pool) { p.log = logger.ForComponent(l, "proxy_pool") }
}

// NewPool builds a pool over addresses. An empty list yields a single
// direct-connection endpoint.
func NewPool(addresses []string, settings Settings, opts ...Option) *Pool {
	if len(addresses) == 0 {
		addresses = []string{Direct}
	}
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = 5
	}
	if settings.SwitchThreshold <= 0 {
		settings.SwitchThreshold = 3
	}

	p := &Pool{
		settings: settings,
		now:      time.Now,
		sleep:    wait,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	seen := make(map[string]bool, len(addresses))
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		p.endpoints = append(p.endpoints, &Endpoint{Address: addr})
	}

	if len(p.endpoints) == 1 && p.endpoints[0].IsDirect() {
		p.log.Info("no proxies configured, using direct connection")
	} else {
		p.log.InfoWithFields("proxy pool loaded", map[string]interface{}{
			"pool_size": len(p.endpoints),
		})
	}
	return p
}

// Size returns the number of endpoints.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Select returns the endpoint to use for the next request. An exhausted
// current endpoint triggers cooldown recovery and, failing that, rotation or
// an emergency reset.
func (p *Pool) Select() Endpoint {
	p.mu.Lock()

	now := p.now()
	cur := p.endpoints[p.current]
	if p.exhausted(cur) {
		anyUsable := p.recoverCooledLocked(now)
		if !anyUsable {
			p.emergencyResetLocked()
		} else if p.exhausted(p.endpoints[p.current]) {
			if next, ok := p.bestCandidateLocked(); ok {
				p.switchLocked(next, "endpoint exhausted", now)
			}
		}
	}

	cur = p.endpoints[p.current]
	cur.LastUsedAt = now
	snapshot := *cur
	p.mu.Unlock()

	return snapshot
}

// ReportSuccess records a successful request through ep.
func (p *Pool) ReportSuccess(ep Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutive = 0
	if e := p.lookupLocked(ep.Address); e != nil {
		e.TotalRequests++
		e.SuccessfulRequests++
	}
}

// ReportFailure records a failed request through ep and rotates when either
// the endpoint or the pool as a whole crosses its threshold.
// The pause after a switch ends early with ctx's error.
func (p *Pool) ReportFailure(ctx context.Context, ep Endpoint) error {
	p.mu.Lock()

	now := p.now()
	e := p.lookupLocked(ep.Address)
	if e != nil {
		e.FailureCount++
		e.TotalRequests++
		e.LastFailureAt = now
		p.log.DebugWithFields("proxy failure", map[string]interface{}{
			"proxy":        e.String(),
			"failures":     e.FailureCount,
			"max_failures": p.settings.MaxFailures,
			"success_rate": e.SuccessRate(),
		})
	}
	p.consecutive++

	shouldRotate := (e != nil && e.FailureCount >= p.settings.MaxFailures) ||
		p.consecutive >= p.settings.SwitchThreshold
	if !shouldRotate {
		p.mu.Unlock()
		return nil
	}

	switched := p.rotateLocked("excessive failures", now)
	p.consecutive = 0
	p.mu.Unlock()

	if switched {
		return p.pause(ctx)
	}
	return nil
}

// Rotate switches to the healthiest other endpoint. Calls within the rotate
// interval of the previous switch are ignored and return the current endpoint.
// The error is ctx's when it is done during the pause after a switch.
func (p *Pool) Rotate(ctx context.Context, reason string) (Endpoint, error) {
	p.mu.Lock()
	switched := p.rotateLocked(reason, p.now())
	snapshot := *p.endpoints[p.current]
	p.mu.Unlock()

	if switched {
		return snapshot, p.pause(ctx)
	}
	return snapshot, nil
}

// Rotations returns how many switches have happened.
func (p *Pool) Rotations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}

// Current returns the active endpoint without touching its usage stamp.
func (p *Pool) Current() Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.endpoints[p.current]
}

// Stats returns a snapshot of every endpoint in configuration order.
func (p *Pool) Stats() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Endpoint, len(p.endpoints))
	for i, e := range p.endpoints {
		out[i] = *e
	}
	return out
}

func (p *Pool) rotateLocked(reason string, now time.Time) bool {
	if len(p.endpoints) <= 1 {
		return false
	}
	if !p.lastRotate.IsZero() && now.Sub(p.lastRotate) < p.settings.RotateInterval {
		p.log.DebugWithFields("rotation suppressed", map[string]interface{}{
			"reason": reason,
			"since":  now.Sub(p.lastRotate),
		})
		return false
	}

	p.recoverCooledLocked(now)
	next, ok := p.bestCandidateLocked()
	if !ok {
		next = p.randomOtherLocked()
		p.endpoints[next].FailureCount = 0
	}
	p.switchLocked(next, reason, now)
	return true
}

// bestCandidateLocked picks the non-exhausted endpoint with the highest
// success rate, excluding the current one.
func (p *Pool) bestCandidateLocked() (int, bool) {
	best, bestRate := -1, -1.0
	for i, e := range p.endpoints {
		if i == p.current || p.exhausted(e) {
			continue
		}
		if rate := e.SuccessRate(); rate > bestRate {
			best, bestRate = i, rate
		}
	}
	return best, best >= 0
}

func (p *Pool) randomOtherLocked() int {
	idx := p.rng.Intn(len(p.endpoints) - 1)
	if idx >= p.current {
		idx++
	}
	return idx
}

func (p *Pool) switchLocked(next int, reason string, now time.Time) {
	from := p.endpoints[p.current].Address
	p.current = next
	p.lastRotate = now
	p.rotations++
	logger.LogProxyRotation(p.log, Mask(from), Mask(p.endpoints[next].Address), reason)
}

// recoverCooledLocked clears the failure counter of every exhausted endpoint
// whose cooldown has elapsed and reports whether any endpoint is usable.
func (p *Pool) recoverCooledLocked(now time.Time) bool {
	usable := false
	for _, e := range p.endpoints {
		if !p.exhausted(e) {
			usable = true
			continue
		}
		if now.Sub(e.LastFailureAt) >= p.settings.Cooldown {
			e.FailureCount = 0
			usable = true
			p.log.InfoWithFields("proxy cooldown complete", map[string]interface{}{
				"proxy": e.String(),
			})
		}
	}
	return usable
}

func (p *Pool) emergencyResetLocked() {
	for _, e := range p.endpoints {
		e.FailureCount = 0
	}
	p.current = p.rng.Intn(len(p.endpoints))
	p.consecutive = 0
	p.log.WarnWithFields("all proxies exhausted, emergency reset", map[string]interface{}{
		"pool_size": len(p.endpoints),
		"proxy":     p.endpoints[p.current].String(),
	})
}

func (p *Pool) exhausted(e *Endpoint) bool {
	return e.FailureCount >= p.settings.MaxFailures
}

func (p *Pool) lookupLocked(addr string) *Endpoint {
	for _, e := range p.endpoints {
		if e.Address == addr {
			return e
		}
	}
	return nil
}

func (p *Pool) pause(ctx context.Context) error {
	if p.settings.SwitchPause <= 0 || p.sleep == nil {
		return ctx.Err()
	}
	return p.sleep(ctx, p.settings.SwitchPause)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
