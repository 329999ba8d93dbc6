// Package geoloc models the single-shot, permission-gated retrieval of
// the user's position as an explicit state machine.
package geoloc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
)

// Typed outcomes of a locate request. These are reason codes, not
// user-facing strings; translation happens in the consumer.
var (
	ErrPermissionDenied = errors.New("geolocation permission denied")
	ErrUnavailable      = errors.New("geolocation position unavailable")
)

// DefaultTimeout bounds one position request.
const DefaultTimeout = 10 * time.Second

// Status is the service's externally visible state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusLocating    Status = "locating"
	StatusAvailable   Status = "available"
	StatusDenied      Status = "denied"
	StatusUnavailable Status = "unavailable"
)

// State pairs a status with the position that is only present in the
// available state.
type State struct {
	Status   Status
	Position *orb.Point
}

// Request carries the options forwarded to the platform capability.
type Request struct {
	HighAccuracy bool
	Timeout      time.Duration
}

// Provider is the platform geolocation capability. It blocks until a
// position is known, the request fails, or ctx is done. Failures are
// reported as ErrPermissionDenied or ErrUnavailable.
type Provider interface {
	CurrentPosition(ctx context.Context, req Request) (orb.Point, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request) (orb.Point, error)

func (f ProviderFunc) CurrentPosition(ctx context.Context, req Request) (orb.Point, error) {
	return f(ctx, req)
}

// Service runs at most one locate request at a time and owns every
// transition of the geolocation state. Consumers observe transitions
// through OnChange and receive the camera-centering position through
// OnAvailable; they never write terminal states themselves.
type Service struct {
	provider Provider
	timeout  time.Duration

	// OnChange observes every state transition. OnAvailable fires
	// after the transition to available, carrying the position the
	// consumer centers its camera on. Both may be nil.
	OnChange    func(State)
	OnAvailable func(orb.Point)

	mu    sync.Mutex
	state State
}

// NewService builds a service in the idle state. timeout <= 0 selects
// DefaultTimeout.
func NewService(provider Provider, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		provider: provider,
		timeout:  timeout,
		state:    State{Status: StatusIdle},
	}
}

// State returns the current state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Locate starts one position request. A call while a request is in
// flight is coalesced into it and reports false. The request runs to a
// terminal state (available, denied or unavailable) unless ctx is done
// first, in which case the late result is dropped and no transition
// happens. Every terminal state re-arms the service for the next call.
func (s *Service) Locate(ctx context.Context) bool {
	if !s.transitionIfNotLocating(State{Status: StatusLocating}) {
		return false
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pos, err := s.provider.CurrentPosition(reqCtx, Request{
		HighAccuracy: true,
		Timeout:      s.timeout,
	})

	// Hosting view gone: abandon the outcome entirely.
	if ctx.Err() != nil {
		log.Debug().Msg("Dropping late geolocation result after teardown")
		return true
	}

	switch {
	case err == nil:
		p := pos
		s.transition(State{Status: StatusAvailable, Position: &p})
		if s.OnAvailable != nil {
			s.OnAvailable(p)
		}
	case errors.Is(err, ErrPermissionDenied):
		s.transition(State{Status: StatusDenied})
	default:
		// Timeouts and platform failures collapse into unavailable.
		s.transition(State{Status: StatusUnavailable})
	}

	return true
}

func (s *Service) transition(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	log.Debug().
		Str("from", string(prev.Status)).
		Str("to", string(next.Status)).
		Msg("Geolocation state transition")

	if s.OnChange != nil {
		s.OnChange(next)
	}
}

// transitionIfNotLocating atomically claims the in-flight slot. It
// reports false when a request is already running, which coalesces the
// caller into that request.
func (s *Service) transitionIfNotLocating(next State) bool {
	s.mu.Lock()
	if s.state.Status == StatusLocating {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.mu.Unlock()

	if s.OnChange != nil {
		s.OnChange(next)
	}
	return true
}
