package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const DefaultRegistrationTimeout = 20 * time.Second

// Submission carries user entered fields; nil fields keep their stored value.
type Submission struct {
	WifiSSID     *string
	WifiPassword *string
	OwnerEmail   *string
	DeviceName   *string
	OneTimeKey   *string
}

type ProvisioningFlowParams struct {
	Store     *ConfigStore
	Registrar Registrar

	// OnSubmit runs after the new user fields are persisted and before
	// registration, e.g. to rejoin the network with the new credentials.
	OnSubmit func(ctx context.Context, rec *ConfigurationRecord)

	Timeout time.Duration

	Log     zerolog.Logger
	Metrics Metrics
}

func (p *ProvisioningFlowParams) EnsureDefaults() {
	if p.Timeout == 0 {
		p.Timeout = DefaultRegistrationTimeout
	}
	if p.OnSubmit == nil {
		p.OnSubmit = func(context.Context, *ConfigurationRecord) {}
	}
	if p.Metrics == nil {
		p.Metrics = NopMetrics{}
	}
}

type ProvisioningFlow struct {
	params ProvisioningFlowParams

	log zerolog.Logger
}

func NewProvisioningFlow(params ProvisioningFlowParams) (*ProvisioningFlow, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("config store is nil")
	}
	if params.Registrar == nil {
		return nil, fmt.Errorf("registrar is nil")
	}
	params.EnsureDefaults()
	return &ProvisioningFlow{params: params, log: params.Log}, nil
}

// Submit merges sub into rec, wipes registration state in the same update,
// persists, then makes exactly one registration attempt. A returned error
// wrapping ErrRegistrationFailed leaves rec persisted with the flag cleared.
func (f *ProvisioningFlow) Submit(ctx context.Context, rec *ConfigurationRecord, sub Submission) error {
	set := func(field TextField, v *string) {
		if v != nil {
			rec.SetText(field, *v)
		}
	}
	set(FieldWifiSSID, sub.WifiSSID)
	set(FieldWifiPassword, sub.WifiPassword)
	set(FieldOwnerEmail, sub.OwnerEmail)
	set(FieldDeviceName, sub.DeviceName)
	set(FieldOneTimeKey, sub.OneTimeKey)
	rec.ClearRegistration()

	if err := f.params.Store.Save(rec); err != nil {
		f.log.Error().Err(err).Msg("submission not persisted, continuing with in-memory config")
	}
	f.params.OnSubmit(ctx, rec)

	return f.Retry(ctx, rec)
}

// Retry runs one registration attempt with the stored user fields.
func (f *ProvisioningFlow) Retry(ctx context.Context, rec *ConfigurationRecord) error {
	if rec.OneTimeKey == "" {
		f.log.Warn().Msg("registration skipped: empty one time key")
		return fmt.Errorf("%w: %s", ErrRegistrationFailed, ErrMissingOneTimeKey)
	}

	rctx, cancel := context.WithTimeout(ctx, f.params.Timeout)
	defer cancel()

	res, err := f.params.Registrar.Register(rctx, RegistrationRequest{
		OneTimeKey: rec.OneTimeKey,
		OwnerEmail: rec.OwnerEmail,
		DeviceName: rec.DeviceName,
	})
	if err == nil {
		err = res.Validate()
	}
	f.params.Metrics.RegistrationAttempt(err == nil)
	if err != nil {
		if rec.RegistrationOK {
			rec.ClearRegistration()
			if serr := f.params.Store.Save(rec); serr != nil {
				f.log.Error().Err(serr).Msg("cleared registration not persisted")
			}
		}
		f.log.Error().Err(err).Msg("registration failed")
		return fmt.Errorf("%w: %s", ErrRegistrationFailed, err)
	}

	// validated above, cannot fail
	_ = rec.ApplyRegistration(res)
	if err := f.params.Store.Save(rec); err != nil {
		f.log.Error().Err(err).Msg("registration result not persisted")
	}
	f.log.Info().Str("node_id", rec.NodeID).Msg("registration data stored")
	return nil
}
