package application

import (
	"fmt"

	"github.com/rs/zerolog"
)

var ErrCommitFailed = fmt.Errorf("storage commit failed")

// StorageMedium is a fixed-size byte addressed region, EEPROM style: writes
// land in a staging image and become durable on Commit.
type StorageMedium interface {
	ReadAt(offset int, size int) ([]byte, error)
	WriteAt(offset int, b []byte) error
	Commit() error
}

type ConfigStoreParams struct {
	Medium StorageMedium
	Offset int

	ShowSecrets bool

	Log     zerolog.Logger
	Metrics Metrics
}

func (p *ConfigStoreParams) EnsureDefaults() {
	if p.Metrics == nil {
		p.Metrics = NopMetrics{}
	}
}

type ConfigStore struct {
	params ConfigStoreParams

	log zerolog.Logger
}

func NewConfigStore(params ConfigStoreParams) (*ConfigStore, error) {
	if params.Medium == nil {
		return nil, fmt.Errorf("storage medium is nil")
	}
	params.EnsureDefaults()
	return &ConfigStore{params: params, log: params.Log}, nil
}

// Load never fails: an unreadable image or a mismatched tag yields the zeroed
// record with the tag set, which is persisted right away.
func (s *ConfigStore) Load() ConfigurationRecord {
	var rec ConfigurationRecord
	b, err := s.params.Medium.ReadAt(s.params.Offset, RecordSize)
	if err == nil {
		err = rec.UnmarshalBinary(b)
	}
	switch {
	case err != nil:
		s.log.Warn().Err(err).Msg("config read failed, re-init")
	case rec.Magic != ConfigMagic:
		s.log.Warn().Msgf("config magic mismatch 0x%08x, re-init", rec.Magic)
	default:
		s.dump(rec, "config loaded")
		return rec
	}

	rec = NewRecord()
	if err := s.Save(&rec); err != nil {
		s.log.Error().Err(err).Msg("config re-init not persisted")
	}
	s.dump(rec, "config loaded")
	return rec
}

// Save writes the full image in one WriteAt and commits it. On error the
// caller's record stays authoritative and the next Save retries.
func (s *ConfigStore) Save(rec *ConfigurationRecord) error {
	rec.Magic = ConfigMagic
	b, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.params.Medium.WriteAt(s.params.Offset, b); err != nil {
		s.params.Metrics.StorageCommit(false)
		s.log.Error().Err(err).Msg("config write failed")
		return fmt.Errorf("%w: %s", ErrCommitFailed, err)
	}
	if err := s.params.Medium.Commit(); err != nil {
		s.params.Metrics.StorageCommit(false)
		s.log.Error().Err(err).Msg("config commit failed")
		return fmt.Errorf("%w: %s", ErrCommitFailed, err)
	}
	s.params.Metrics.StorageCommit(true)
	s.log.Info().Msg("config commit ok")
	return nil
}

// Reset zeroes every field, keeps the tag and saves.
func (s *ConfigStore) Reset(rec *ConfigurationRecord) error {
	s.log.Warn().Msg("clearing full config")
	*rec = NewRecord()
	return s.Save(rec)
}

func (s *ConfigStore) dump(rec ConfigurationRecord, msg string) {
	s.log.Info().
		Object("config", RecordLogger{Record: rec, ShowSecrets: s.params.ShowSecrets}).
		Msg(msg)
}
