package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

const (
	DefaultLoopInterval      = 10 * time.Millisecond
	DefaultHeartbeatInterval = 5 * time.Second
)

var (
	ErrRebootRequested = fmt.Errorf("reboot requested")
	ErrNodeStopped     = fmt.Errorf("node stopped")
	ErrCommandFailed   = fmt.Errorf("command failed inside the control loop")
)

type NodeSnapshot struct {
	Config  ConfigurationRecord
	Sample  TelemetrySample
	Network ConnectionState
	Broker  ConnectionState
	MQTT    MQTTStatus
}

type SubmitResult struct {
	Registered bool
	Err        error
	Config     ConfigurationRecord
}

// NodeController is the surface the configuration portal drives. Every call
// is executed inside the control loop.
type NodeController interface {
	Snapshot(ctx context.Context) (NodeSnapshot, error)
	Submit(ctx context.Context, sub Submission) (SubmitResult, error)
	RetryRegistration(ctx context.Context) (SubmitResult, error)
	Reset(ctx context.Context) (NodeSnapshot, error)
	Reboot(ctx context.Context) error
}

type NodeServiceParams struct {
	Store        *ConfigStore
	Provisioning *ProvisioningFlow
	Decoder      *FrameDecoder
	Sensor       SensorLink
	Network      *ConnectionSupervisor
	Broker       *ConnectionSupervisor
	Publisher    *TelemetryPublisher
	MQTTClient   MQTTClient

	LoopInterval      time.Duration
	HeartbeatInterval time.Duration
	Now               func() time.Time

	Log     zerolog.Logger
	Metrics Metrics
}

func (p *NodeServiceParams) EnsureDefaults() {
	if p.LoopInterval == 0 {
		p.LoopInterval = DefaultLoopInterval
	}
	if p.HeartbeatInterval == 0 {
		p.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Metrics == nil {
		p.Metrics = NopMetrics{}
	}
}

// NodeService owns the configuration record, the last valid sample and both
// supervisors. Only the loop goroutine touches them.
type NodeService struct {
	params NodeServiceParams

	record ConfigurationRecord
	sample TelemetrySample

	lastHeartbeat time.Time
	reboot        bool

	cmds    chan func(context.Context)
	stopped chan struct{}

	log zerolog.Logger
}

func NewNodeService(params NodeServiceParams) (*NodeService, error) {
	switch {
	case params.Store == nil:
		return nil, fmt.Errorf("Store is nil")
	case params.Provisioning == nil:
		return nil, fmt.Errorf("Provisioning is nil")
	case params.Decoder == nil:
		return nil, fmt.Errorf("Decoder is nil")
	case params.Network == nil:
		return nil, fmt.Errorf("Network is nil")
	case params.Broker == nil:
		return nil, fmt.Errorf("Broker is nil")
	case params.Publisher == nil:
		return nil, fmt.Errorf("Publisher is nil")
	case params.MQTTClient == nil:
		return nil, fmt.Errorf("MQTTClient is nil")
	}
	params.EnsureDefaults()

	s := &NodeService{
		params:  params,
		cmds:    make(chan func(context.Context)),
		stopped: make(chan struct{}),
		log:     params.Log,
	}
	s.record = params.Store.Load()
	return s, nil
}

// Run polls every subsystem in sequence until ctx is done or a reboot is
// requested through the portal.
func (s *NodeService) Run(ctx context.Context) error {
	defer close(s.stopped)

	s.log.Info().Dur("interval", s.params.LoopInterval).Msg("control loop started")
	defer s.log.Info().Msg("control loop stopped")

	ticker := time.NewTicker(s.params.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-s.cmds:
			s.guard("command", func() { fn(ctx) })
		case <-ticker.C:
			s.guard("step", func() { s.Step(ctx, s.params.Now()) })
		}
		if s.reboot {
			return ErrRebootRequested
		}
	}
}

// Step is one turn of the loop: sensor decode, network join, broker connect,
// publish gating, heartbeat.
func (s *NodeService) Step(ctx context.Context, now time.Time) {
	if s.params.Sensor != nil {
		sample, err := s.params.Decoder.ReadFrame(s.params.Sensor)
		if err == nil {
			s.sample = sample
			s.log.Debug().Object("pms", sample).Msg("sensor frame ok")
		}
	}

	s.params.Network.EnsureConnected(ctx, now, &s.record)
	broker := s.params.Broker.EnsureConnected(ctx, now, &s.record)

	if intent, ok := s.params.Publisher.MaybePublish(now, s.sample, broker, &s.record); ok {
		err := s.params.MQTTClient.Publish(intent.Topic, 0, intent.Retain, intent.Payload)
		s.params.Metrics.Published(err == nil)
		if err != nil {
			s.log.Error().Err(err).Str("topic", intent.Topic).Msg("publish failed")
		} else {
			s.log.Info().Str("topic", intent.Topic).Object("pms", s.sample).Msg("published")
		}
	}

	if now.Sub(s.lastHeartbeat) >= s.params.HeartbeatInterval {
		s.lastHeartbeat = now
		s.heartbeat()
	}
}

func (s *NodeService) heartbeat() {
	mqttStatus := s.params.MQTTClient.Status()
	e := s.log.Info().
		Stringer("wifi", s.params.Network.State().Status).
		Stringer("mqtt", s.params.Broker.State().Status).
		Bool("registered", s.record.RegistrationOK).
		Uint64("msg_count", mqttStatus.MessageCount)
	if s.sample.Valid {
		e.Object("pms", s.sample).Msg("heartbeat")
	} else {
		e.Msg("heartbeat, pms waiting")
	}
}

func (s *NodeService) guard(name string, fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		s.params.Metrics.StepPanic()
		s.log.Error().
			Str("in", name).
			Interface("panic", r.Value).
			Bytes("stack", r.Stack).
			Msg("recovered panic, loop continues")
	}
}

// do runs fn inside the loop and waits for it.
func (s *NodeService) do(ctx context.Context, fn func(loopCtx context.Context)) error {
	done := make(chan struct{})
	wrapped := func(loopCtx context.Context) {
		defer close(done)
		fn(loopCtx)
	}
	select {
	case s.cmds <- wrapped:
	case <-s.stopped:
		return ErrNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *NodeService) snapshot() NodeSnapshot {
	return NodeSnapshot{
		Config:  s.record,
		Sample:  s.sample,
		Network: s.params.Network.State(),
		Broker:  s.params.Broker.State(),
		MQTT:    s.params.MQTTClient.Status(),
	}
}

// call runs fn inside the loop and hands its result back over a buffered
// channel, so a caller that gives up early never shares memory with the loop.
func call[T any](ctx context.Context, s *NodeService, fn func(loopCtx context.Context) T) (T, error) {
	var zero T
	out := make(chan T, 1)
	if err := s.do(ctx, func(loopCtx context.Context) { out <- fn(loopCtx) }); err != nil {
		return zero, err
	}
	select {
	case v := <-out:
		return v, nil
	default:
		// fn panicked, the guard already logged it
		return zero, ErrCommandFailed
	}
}

func (s *NodeService) Snapshot(ctx context.Context) (NodeSnapshot, error) {
	return call(ctx, s, func(context.Context) NodeSnapshot { return s.snapshot() })
}

func (s *NodeService) Submit(ctx context.Context, sub Submission) (SubmitResult, error) {
	return call(ctx, s, func(loopCtx context.Context) SubmitResult {
		err := s.params.Provisioning.Submit(loopCtx, &s.record, sub)
		return SubmitResult{Registered: err == nil, Err: err, Config: s.record}
	})
}

func (s *NodeService) RetryRegistration(ctx context.Context) (SubmitResult, error) {
	return call(ctx, s, func(loopCtx context.Context) SubmitResult {
		err := s.params.Provisioning.Retry(loopCtx, &s.record)
		if err == nil {
			s.params.Broker.Rearm()
		}
		return SubmitResult{Registered: err == nil, Err: err, Config: s.record}
	})
}

func (s *NodeService) Reset(ctx context.Context) (NodeSnapshot, error) {
	return call(ctx, s, func(context.Context) NodeSnapshot {
		if err := s.params.Store.Reset(&s.record); err != nil {
			s.log.Error().Err(err).Msg("config clear not persisted")
		}
		s.params.Broker.Rearm()
		s.params.Network.Rearm()
		return s.snapshot()
	})
}

func (s *NodeService) Reboot(ctx context.Context) error {
	return s.do(ctx, func(context.Context) {
		s.log.Warn().Msg("reboot requested")
		s.reboot = true
	})
}

var _ NodeController = &NodeService{}
