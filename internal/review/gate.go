// Package review holds detector signals until a human approves or rejects them.
package review

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"esports-insights/internal/audit"
	"esports-insights/internal/match"
	"esports-insights/internal/observability"
)

// Role of a caller acting on the queue
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a config string onto a Role; unknown values become viewer
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleReviewer, RoleAdmin:
		return Role(s)
	}
	return RoleViewer
}

// Reviewer identifies who is acting
type Reviewer struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// CanReview reports whether r may approve or reject signals
func (r Reviewer) CanReview() bool {
	return r.ID != "" && (r.Role == RoleReviewer || r.Role == RoleAdmin)
}

// ErrForbidden is returned when a caller without a reviewer role tries to resolve a signal
var ErrForbidden = errors.New("review requires reviewer or admin role")

// SignalSource is the slice of the event bus the gate listens to
type SignalSource interface {
	SubscribeSignal(name string, fn func(context.Context, match.AgentSignal) error) func()
}

// Options configures a Gate
type Options struct {
	Now    func() time.Time
	Audit  *audit.Async
	Policy ReleasePolicy
}

// Gate is the review queue. Every signal enters PENDING_REVIEW and leaves
// exactly once, to APPROVED or REJECTED.
type Gate struct {
	mu       sync.RWMutex
	pending  []match.AgentSignal
	resolved []match.AgentSignal
	seen     map[string]bool

	// serialises mutation+notify so subscribers see queues in mutation order
	notifyMu sync.Mutex
	subsMu   sync.RWMutex
	subs     map[int]func([]match.AgentSignal)
	nextSub  int

	now    func() time.Time
	audit  *audit.Async
	policy ReleasePolicy
}

// NewGate creates an empty gate
func NewGate(opts Options) *Gate {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy.Delays == nil {
		opts.Policy = DefaultReleasePolicy()
	}
	return &Gate{
		seen:   make(map[string]bool),
		subs:   make(map[int]func([]match.AgentSignal)),
		now:    opts.Now,
		audit:  opts.Audit,
		policy: opts.Policy,
	}
}

// Attach submits every signal published on src. The returned func detaches.
func (g *Gate) Attach(src SignalSource) func() {
	return src.SubscribeSignal("review-gate", func(ctx context.Context, sig match.AgentSignal) error {
		g.Submit(sig)
		return nil
	})
}

// Submit enqueues sig as PENDING_REVIEW. A signal id seen before is ignored.
func (g *Gate) Submit(sig match.AgentSignal) bool {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	g.mu.Lock()
	if sig.ID == "" || g.seen[sig.ID] {
		g.mu.Unlock()
		return false
	}
	g.seen[sig.ID] = true
	sig.Status = match.StatusPendingReview
	sig.ReviewedBy = ""
	sig.ReviewedAt = nil
	g.pending = append(g.pending, sig)
	queue := g.queueLocked()
	g.mu.Unlock()

	observability.UpdateReviewQueue(len(queue))
	g.notify(queue)
	return true
}

// Approve moves signalID to APPROVED. Returns nil, nil when it is not pending.
func (g *Gate) Approve(signalID string, by Reviewer) (*match.AgentSignal, error) {
	return g.resolve(signalID, by, match.StatusApproved)
}

// Reject moves signalID to REJECTED. Returns nil, nil when it is not pending.
func (g *Gate) Reject(signalID string, by Reviewer) (*match.AgentSignal, error) {
	return g.resolve(signalID, by, match.StatusRejected)
}

func (g *Gate) resolve(signalID string, by Reviewer, status match.SignalStatus) (*match.AgentSignal, error) {
	if !by.CanReview() {
		return nil, ErrForbidden
	}

	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	g.mu.Lock()
	idx := -1
	for i, sig := range g.pending {
		if sig.ID == signalID {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return nil, nil
	}
	sig := g.pending[idx]
	g.pending = append(g.pending[:idx:idx], g.pending[idx+1:]...)
	at := g.now().UTC()
	sig.Status = status
	sig.ReviewedBy = by.ID
	sig.ReviewedAt = &at
	g.resolved = append(g.resolved, sig)
	queue := g.queueLocked()
	g.mu.Unlock()

	observability.RecordReviewDecision(string(status), len(queue))
	g.record(sig)
	log.Printf("📝 Signal %s (%s) %s by %s", sig.ID, sig.Type, status, by.ID)
	g.notify(queue)
	return &sig, nil
}

func (g *Gate) record(sig match.AgentSignal) {
	action := audit.ActionReviewApprove
	if sig.Status == match.StatusRejected {
		action = audit.ActionReviewReject
	}
	g.audit.Record(audit.Record{
		Provider:   "review",
		ResourceID: sig.ID,
		Action:     action,
		Status:     audit.StatusSuccess,
		Message:    fmt.Sprintf("%s for match %s by %s", sig.Type, sig.MatchID, sig.ReviewedBy),
		CreatedAt:  *sig.ReviewedAt,
	})
}

// Queue returns the pending signals in submission order
func (g *Gate) Queue() []match.AgentSignal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.queueLocked()
}

func (g *Gate) queueLocked() []match.AgentSignal {
	return append([]match.AgentSignal{}, g.pending...)
}

// Resolved returns every approved or rejected signal in resolution order
func (g *Gate) Resolved() []match.AgentSignal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]match.AgentSignal{}, g.resolved...)
}

// Get looks a signal up in either the queue or the resolved log
func (g *Gate) Get(signalID string) (match.AgentSignal, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, sig := range g.pending {
		if sig.ID == signalID {
			return sig, true
		}
	}
	for _, sig := range g.resolved {
		if sig.ID == signalID {
			return sig, true
		}
	}
	return match.AgentSignal{}, false
}

// Subscribe registers fn to receive the full pending queue after every
// mutation. fn must not call Submit, Approve or Reject.
func (g *Gate) Subscribe(fn func([]match.AgentSignal)) func() {
	g.subsMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.subsMu.Lock()
			delete(g.subs, id)
			g.subsMu.Unlock()
		})
	}
}

func (g *Gate) notify(queue []match.AgentSignal) {
	g.subsMu.RLock()
	fns := make([]func([]match.AgentSignal), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.subsMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("⚠️ Review queue subscriber panicked: %v", r)
				}
			}()
			fn(append([]match.AgentSignal{}, queue...))
		}()
	}
}

// Released returns approved signals whose release delay has passed at now
func (g *Gate) Released(now time.Time) []Insight {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Insight
	for _, sig := range g.resolved {
		if ins, ok := g.policy.Release(sig, now); ok {
			out = append(out, ins)
		}
	}
	return out
}
