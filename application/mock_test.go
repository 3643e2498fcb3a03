package application

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockLink struct {
	mock.Mock
}

func (m *MockLink) Name() string { return "mock" }

func (m *MockLink) Ready(rec *ConfigurationRecord) bool {
	return m.Called(rec).Bool(0)
}

func (m *MockLink) Connect(ctx context.Context, rec *ConfigurationRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockLink) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockLink) Disconnect() {
	m.Called()
}

var _ Link = &MockLink{}

type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) Register(ctx context.Context, req RegistrationRequest) (RegistrationResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(RegistrationResult), args.Error(1)
}

var _ Registrar = &MockRegistrar{}

// fakeMedium keeps the staged image and every committed copy.
type fakeMedium struct {
	mu        sync.Mutex
	image     []byte
	committed [][]byte

	readErr   error
	writeErr  error
	commitErr error
}

func newFakeMedium() *fakeMedium {
	return &fakeMedium{image: make([]byte, 1024)}
}

func (f *fakeMedium) ReadAt(offset int, size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]byte, size)
	copy(out, f.image[offset:offset+size])
	return out, nil
}

func (f *fakeMedium) WriteAt(offset int, b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	copy(f.image[offset:], b)
	return nil
}

func (f *fakeMedium) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	snap := make([]byte, len(f.image))
	copy(snap, f.image)
	f.committed = append(f.committed, snap)
	return nil
}

func (f *fakeMedium) commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

// stored decodes the last committed record.
func (f *fakeMedium) stored() ConfigurationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rec ConfigurationRecord
	if len(f.committed) > 0 {
		_ = rec.UnmarshalBinary(f.committed[len(f.committed)-1])
	}
	return rec
}

var errSensorEmpty = fmt.Errorf("sensor empty")

type fakeSensor struct {
	buf []byte
}

func (s *fakeSensor) push(b ...byte) { s.buf = append(s.buf, b...) }

func (s *fakeSensor) Available() int { return len(s.buf) }

func (s *fakeSensor) ReadByte() (byte, error) {
	if len(s.buf) == 0 {
		return 0, errSensorEmpty
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, nil
}

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Sleep(d time.Duration) { c.t = c.t.Add(d) }

type recordingMetrics struct {
	NopMetrics

	decoded  int
	rejected []string
	connects []string
	publish  []bool
	commits  []bool
	regs     []bool
	panics   int
}

func (m *recordingMetrics) FrameDecoded() { m.decoded++ }
func (m *recordingMetrics) FrameRejected(reason string) { m.rejected = append(m.rejected, reason) }
func (m *recordingMetrics) Published(ok bool) { m.publish = append(m.publish, ok) }
func (m *recordingMetrics) StorageCommit(ok bool) { m.commits = append(m.commits, ok) }
func (m *recordingMetrics) RegistrationAttempt(ok bool) { m.regs = append(m.regs, ok) }
func (m *recordingMetrics) StepPanic() { m.panics++ }

func (m *recordingMetrics) ConnectAttempt(link string, ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.connects = append(m.connects, link+":"+outcome)
}

var _ Metrics = &recordingMetrics{}

type fakeJoiner struct {
	joined  bool
	joinErr error
	joins   int
}

func (j *fakeJoiner) Join(ctx context.Context, ssid, passphrase string) error {
	j.joins++
	if j.joinErr != nil {
		return j.joinErr
	}
	j.joined = true
	return nil
}

func (j *fakeJoiner) Leave() { j.joined = false }

func (j *fakeJoiner) Joined() bool { return j.joined }

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	connected bool
	creds     BrokerCredentials
	published []publishedMessage
}

func (m *fakeMQTT) Publish(topic string, qos byte, retained bool, msg any) error {
	m.published = append(m.published, publishedMessage{topic, qos, retained, msg.([]byte)})
	return nil
}

func (m *fakeMQTT) Connect(ctx context.Context, creds BrokerCredentials) error {
	m.creds = creds
	m.connected = true
	return nil
}

func (m *fakeMQTT) Disconnect() { m.connected = false }

func (m *fakeMQTT) IsConnected() bool { return m.connected }

func (m *fakeMQTT) Status() MQTTStatus {
	return MQTTStatus{MessageCount: uint64(len(m.published)), Connected: m.connected}
}

// buildFrame encodes words as a PMS5003 frame body padded to the standard
// 28 byte length, checksum included.
func buildFrame(words ...uint16) []byte {
	const length = 28
	frame := make([]byte, 4+length)
	frame[0], frame[1] = FrameMarker1, FrameMarker2
	binary.BigEndian.PutUint16(frame[2:], length)
	for i, w := range words {
		binary.BigEndian.PutUint16(frame[4+i*2:], w)
	}
	var sum uint16
	for _, b := range frame[:len(frame)-2] {
		sum += uint16(b)
	}
	binary.BigEndian.PutUint16(frame[len(frame)-2:], sum)
	return frame
}

func strPtr(s string) *string { return &s }
