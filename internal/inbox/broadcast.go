package inbox

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kunhuang12345/atwf/internal/domain"
)

// Injector pushes an already-written message's envelope into a recipient's
// live session, keyed by full session name. Satisfied by workerctl.Ctl.Send
// in production.
type Injector interface {
	Send(ctx context.Context, full, text string) error
}

// maxFanOut bounds how many recipients are injected into concurrently
// during a broadcast, so one slow or hung mux pane can't serialize delivery
// to the rest of the team.
const maxFanOut = 4

// BroadcastResult reports the outcome of one recipient's delivery.
type BroadcastResult struct {
	ToFull    string
	ToBase    string
	Msg       *domain.Message
	InjectErr error
}

// Broadcast writes one message per recipient (each its own msg_id, each
// write taking the team lock in turn — §4.D write_message) and then injects
// the rendered envelope into every recipient's session concurrently, capped
// at maxFanOut in flight at once.
//
// Recipients is expected to already be comm-gate filtered (broadcast uses
// actor_role ∈ broadcast_allowed_roles, not the pairwise predicate — §4.I).
func (s *Store) Broadcast(ctx context.Context, now time.Time, kind domain.MessageKind, fromFull, fromBase string, recipients []Recipient, summary, body string, maxUnreadPerThread int, injector Injector) ([]BroadcastResult, error) {
	results := make([]BroadcastResult, len(recipients))
	for i, r := range recipients {
		msg, err := s.WriteMessage(now, kind, fromFull, fromBase, r.Full, r.Base, summary, body, maxUnreadPerThread)
		if err != nil {
			return nil, err
		}
		results[i] = BroadcastResult{ToFull: r.Full, ToBase: r.Base, Msg: msg}
	}

	if injector == nil {
		return results, nil
	}

	sem := semaphore.NewWeighted(maxFanOut)
	done := make(chan struct{}, len(recipients))
	for i := range results {
		i := i
		r := recipients[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].InjectErr = err
			done <- struct{}{}
			continue
		}
		go func() {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()
			env := Envelope(results[i].Msg.MessageHeader, r.Role, body)
			results[i].InjectErr = injector.Send(ctx, r.Full, env)
		}()
	}
	for range results {
		<-done
	}
	return results, nil
}

// Recipient is the subset of domain.Member a broadcast needs.
type Recipient struct {
	Full      string
	Base      string
	Role      string
	StateFile string
}
