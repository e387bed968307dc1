// Package snapshot saves and restores in-memory device state so queues,
// ledgers and user caches survive a restart.  The file is CBOR compressed
// with zstd.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

// formatVersion is bumped when File changes incompatibly.
const formatVersion = 1

// File is the on-disk layout.
type File struct {
	Version       int                 `cbor:"1,keyasint"`
	SavedAt       time.Time           `cbor:"2,keyasint"`
	LastCommandID int64               `cbor:"3,keyasint"`
	Devices       []store.DeviceState `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes f.
func Encode(f File) ([]byte, error) {
	f.Version = formatVersion
	raw, err := encMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// Decode reverses Encode.
func Decode(data []byte) (File, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return File{}, fmt.Errorf("decompress snapshot: %w", err)
	}
	var f File
	if err := decMode.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if f.Version != formatVersion {
		return File{}, fmt.Errorf("snapshot version %d not supported", f.Version)
	}
	return f, nil
}

// Save writes f to path through a temp file and rename, so a crash never
// leaves a truncated snapshot.
func Save(path string, f File) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot at path.  A missing file reports ok=false.
func Load(path string) (File, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, false, nil
	}
	if err != nil {
		return File{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	f, err := Decode(data)
	if err != nil {
		return File{}, false, err
	}
	return f, true, nil
}
