package adapters

import (
	"context"
	"fmt"
	"os/exec"
	"pms-to-mqtt/application"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

const (
	NMCLIDefaultStateTimeout = 5 * time.Second
	NMCLIDefaultStateCache   = 5 * time.Second
)

type NMCLIJoinerParams struct {
	Interface string

	// StateTimeout bounds every nmcli call made outside Join.
	StateTimeout time.Duration
	// StateCache is how long a positive state query is trusted.
	StateCache time.Duration

	Run CommandFunc
	Now func() time.Time

	Log zerolog.Logger
}

func (p *NMCLIJoinerParams) EnsureDefaults() {
	if p.Interface == "" {
		p.Interface = "wlan0"
	}
	if p.StateTimeout == 0 {
		p.StateTimeout = NMCLIDefaultStateTimeout
	}
	if p.StateCache == 0 {
		p.StateCache = NMCLIDefaultStateCache
	}
	if p.Run == nil {
		p.Run = runCommand
	}
	if p.Now == nil {
		p.Now = time.Now
	}
}

// NMCLIJoiner joins the station network through NetworkManager. The access
// point used for the configuration portal is left alone.
type NMCLIJoiner struct {
	params NMCLIJoinerParams

	joined    uint64
	checkedAt int64

	log zerolog.Logger
}

func NewNMCLIJoiner(params NMCLIJoinerParams) *NMCLIJoiner {
	params.EnsureDefaults()
	return &NMCLIJoiner{params: params, log: params.Log}
}

func (j *NMCLIJoiner) Join(ctx context.Context, ssid, passphrase string) error {
	out, err := j.params.Run(ctx, "nmcli", "--wait", "10",
		"device", "wifi", "connect", ssid,
		"password", passphrase,
		"ifname", j.params.Interface)
	if err != nil {
		atomic.StoreUint64(&j.joined, 0)
		return fmt.Errorf("nmcli connect %q: %w: %s", ssid, err, strings.TrimSpace(string(out)))
	}
	atomic.StoreInt64(&j.checkedAt, j.params.Now().UnixNano())
	atomic.StoreUint64(&j.joined, 1)
	return nil
}

// Joined asks NetworkManager for the interface state so a dropped
// association is noticed without waiting for a failed publish. A connected
// answer is reused for StateCache.
func (j *NMCLIJoiner) Joined() bool {
	if atomic.LoadUint64(&j.joined) == 0 {
		return false
	}
	now := j.params.Now()
	if now.Sub(time.Unix(0, atomic.LoadInt64(&j.checkedAt))) < j.params.StateCache {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.params.StateTimeout)
	defer cancel()
	out, err := j.params.Run(ctx, "nmcli", "-t", "-f", "GENERAL.STATE", "device", "show", j.params.Interface)
	if err != nil || !strings.Contains(string(out), "(connected)") {
		j.log.Warn().Err(err).Str("state", strings.TrimSpace(string(out))).Msg("station link down")
		atomic.StoreUint64(&j.joined, 0)
		return false
	}
	atomic.StoreInt64(&j.checkedAt, now.UnixNano())
	return true
}

func (j *NMCLIJoiner) Leave() {
	atomic.StoreUint64(&j.joined, 0)

	ctx, cancel := context.WithTimeout(context.Background(), j.params.StateTimeout)
	defer cancel()
	out, err := j.params.Run(ctx, "nmcli", "device", "disconnect", j.params.Interface)
	if err != nil {
		j.log.Debug().Err(err).Str("out", strings.TrimSpace(string(out))).Msg("nmcli disconnect")
	}
}

var _ application.NetworkJoiner = &NMCLIJoiner{}
