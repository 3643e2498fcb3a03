package adapters

import (
	"io"
	"pms-to-mqtt/application"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/temoto/extremofile"
)

const DefaultEEPROMSize = 2048

var ErrOutOfRange = errors.New("eeprom access out of range")

type eepromImage struct {
	mu sync.Mutex
	b  []byte
}

func (e *eepromImage) readAt(offset, size int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if offset < 0 || size < 0 || offset+size > len(e.b) {
		return nil, errors.Annotatef(ErrOutOfRange, "read offset=%d size=%d", offset, size)
	}
	out := make([]byte, size)
	copy(out, e.b[offset:offset+size])
	return out, nil
}

func (e *eepromImage) writeAt(offset int, b []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if offset < 0 || offset+len(b) > len(e.b) {
		return errors.Annotatef(ErrOutOfRange, "write offset=%d size=%d", offset, len(b))
	}
	copy(e.b[offset:], b)
	return nil
}

// MemoryEEPROM is a volatile region, for tests and diskless runs.
type MemoryEEPROM struct {
	image eepromImage
}

func NewMemoryEEPROM(size int) *MemoryEEPROM {
	return &MemoryEEPROM{image: eepromImage{b: make([]byte, size)}}
}

func (m *MemoryEEPROM) ReadAt(offset int, size int) ([]byte, error) {
	return m.image.readAt(offset, size)
}

func (m *MemoryEEPROM) WriteAt(offset int, b []byte) error {
	return m.image.writeAt(offset, b)
}

func (m *MemoryEEPROM) Commit() error { return nil }

var _ application.StorageMedium = &MemoryEEPROM{}

type fileStorage interface {
	Read() ([]byte, error)
	io.Writer
}

type FileEEPROMParams struct {
	Dir  string
	Size int

	Log zerolog.Logger
}

func (p *FileEEPROMParams) EnsureDefaults() {
	if p.Size == 0 {
		p.Size = DefaultEEPROMSize
	}
}

// FileEEPROM emulates the EEPROM region on disk. Writes are staged in memory,
// Commit stores the whole image through extremofile, which keeps a checksummed
// main and backup copy so a power cut mid-write leaves the previous image.
type FileEEPROM struct {
	params FileEEPROMParams

	image   eepromImage
	storage fileStorage

	log zerolog.Logger
}

func OpenFileEEPROM(params FileEEPROMParams) (*FileEEPROM, error) {
	if params.Dir == "" {
		return nil, errors.Errorf("eeprom dir is empty")
	}
	params.EnsureDefaults()

	f := &FileEEPROM{
		params: params,
		image:  eepromImage{b: make([]byte, params.Size)},
		storage: extremofile.New(extremofile.Config{
			Dir:      params.Dir,
			DirPerm:  0755,
			FilePerm: 0644,
		}),
		log: params.Log,
	}

	tbegin := time.Now()
	b, err := f.storage.Read()
	f.log.Debug().Dur("duration", time.Since(tbegin)).Msg("eeprom storage.read")
	switch {
	case err != nil && extremofile.IsCritical(err):
		// start blank; the config store re-initialises the record
		f.log.Error().Err(err).Str("dir", params.Dir).Msg("eeprom image unreadable")
	case err != nil:
		f.log.Warn().Err(err).Msg("eeprom ignore non-critical storage err")
	}
	if b != nil {
		copy(f.image.b, b)
	}
	return f, nil
}

func (f *FileEEPROM) ReadAt(offset int, size int) ([]byte, error) {
	return f.image.readAt(offset, size)
}

func (f *FileEEPROM) WriteAt(offset int, b []byte) error {
	return f.image.writeAt(offset, b)
}

func (f *FileEEPROM) Commit() error {
	f.image.mu.Lock()
	snapshot := make([]byte, len(f.image.b))
	copy(snapshot, f.image.b)
	f.image.mu.Unlock()

	tbegin := time.Now()
	_, err := f.storage.Write(snapshot)
	f.log.Debug().Dur("duration", time.Since(tbegin)).Msg("eeprom storage.write")
	return errors.Annotatef(err, "eeprom commit dir=%s", f.params.Dir)
}

var _ application.StorageMedium = &FileEEPROM{}
