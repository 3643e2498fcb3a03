package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const DefaultAttemptTimeout = 15 * time.Second

var ErrConnectTimeout = fmt.Errorf("connect timeout")

type LinkStatus int

const (
	Disconnected LinkStatus = iota
	Connected
)

func (s LinkStatus) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

func (s LinkStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ConnectionState struct {
	Status      LinkStatus    `json:"status"`
	LastAttempt time.Time     `json:"last_attempt"`
	Backoff     time.Duration `json:"backoff"`
}

func (s ConnectionState) Connected() bool { return s.Status == Connected }

// Link is one remote dependency as seen by a supervisor. Credentials are
// taken from the record passed to each call and never kept.
type Link interface {
	Name() string
	// Ready reports whether rec carries the credentials this link needs.
	Ready(rec *ConfigurationRecord) bool
	Connect(ctx context.Context, rec *ConfigurationRecord) error
	IsConnected() bool
	Disconnect()
}

type ConnectionSupervisorParams struct {
	Link   Link
	Policy RetryPolicy
	// DependsOn must report connected before this supervisor attempts.
	DependsOn *ConnectionSupervisor

	AttemptTimeout time.Duration

	Log     zerolog.Logger
	Metrics Metrics
}

func (p *ConnectionSupervisorParams) EnsureDefaults() {
	if p.Policy == (RetryPolicy{}) {
		p.Policy = DefaultRetryPolicy()
	}
	if p.AttemptTimeout == 0 {
		p.AttemptTimeout = DefaultAttemptTimeout
	}
	if p.Metrics == nil {
		p.Metrics = NopMetrics{}
	}
}

type ConnectionSupervisor struct {
	params ConnectionSupervisorParams

	state ConnectionState

	log zerolog.Logger
}

func NewConnectionSupervisor(params ConnectionSupervisorParams) (*ConnectionSupervisor, error) {
	if params.Link == nil {
		return nil, fmt.Errorf("link is nil")
	}
	params.EnsureDefaults()
	return &ConnectionSupervisor{params: params, log: params.Log}, nil
}

func (s *ConnectionSupervisor) Name() string { return s.params.Link.Name() }

func (s *ConnectionSupervisor) State() ConnectionState { return s.state }

func (s *ConnectionSupervisor) Connected() bool { return s.state.Connected() }

// EnsureConnected runs at most one attempt, and only when the link is down,
// credentials are present, the dependency is up and the policy says it is due.
func (s *ConnectionSupervisor) EnsureConnected(ctx context.Context, now time.Time, rec *ConfigurationRecord) ConnectionState {
	link := s.params.Link
	if s.state.Status == Connected {
		if link.IsConnected() {
			return s.state
		}
		// dropped since last check; backoff is zero so the retry is immediate
		s.log.Warn().Msgf("%s: connection lost", link.Name())
		s.state.Status = Disconnected
	}
	if !link.Ready(rec) {
		return s.state
	}
	if dep := s.params.DependsOn; dep != nil && !dep.Connected() {
		return s.state
	}
	if !s.params.Policy.Due(now, s.state.LastAttempt, s.state.Backoff) {
		return s.state
	}

	s.log.Info().Dur("backoff", s.state.Backoff).Msgf("%s: attempting connect", link.Name())
	s.state.LastAttempt = now

	actx, cancel := context.WithTimeout(ctx, s.params.AttemptTimeout)
	err := link.Connect(actx, rec)
	if err == nil && actx.Err() != nil {
		err = ErrConnectTimeout
	}
	cancel()

	s.params.Metrics.ConnectAttempt(link.Name(), err == nil)
	if err != nil {
		s.state.Status = Disconnected
		s.state.Backoff = s.params.Policy.Next(s.state.Backoff)
		s.log.Error().Err(err).Dur("next_backoff", s.state.Backoff).Msgf("%s: connect failed", link.Name())
		return s.state
	}

	s.state.Status = Connected
	s.state.Backoff = 0
	s.log.Info().Msgf("%s: connected", link.Name())
	return s.state
}

// Rearm drops the link and clears attempt history so the next
// EnsureConnected tries immediately with whatever credentials are current.
func (s *ConnectionSupervisor) Rearm() {
	s.params.Link.Disconnect()
	s.state = ConnectionState{}
	s.log.Info().Msgf("%s: rearmed", s.params.Link.Name())
}

// Relink drops the broker session and the network, then makes one join
// attempt with rec's credentials so a registration that follows has an
// uplink. The broker reconnects on the next loop step.
func Relink(network, broker *ConnectionSupervisor, now func() time.Time) func(context.Context, *ConfigurationRecord) {
	return func(ctx context.Context, rec *ConfigurationRecord) {
		broker.Rearm()
		network.Rearm()
		network.EnsureConnected(ctx, now(), rec)
	}
}
