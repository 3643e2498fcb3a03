package application

// Metrics receives counters from the core. Implementations must not block.
type Metrics interface {
	FrameDecoded()
	FrameRejected(reason string)
	ConnectAttempt(link string, ok bool)
	Published(ok bool)
	StorageCommit(ok bool)
	RegistrationAttempt(ok bool)
	StepPanic()
}

type NopMetrics struct{}

func (NopMetrics) FrameDecoded() {}
func (NopMetrics) FrameRejected(string) {}
func (NopMetrics) ConnectAttempt(string, bool) {}
func (NopMetrics) Published(bool) {}
func (NopMetrics) StorageCommit(bool) {}
func (NopMetrics) RegistrationAttempt(bool) {}
func (NopMetrics) StepPanic() {}

var _ Metrics = NopMetrics{}
