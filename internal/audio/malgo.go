//go:build cgo && !noaudio

package audio

import (
	"encoding/hex"
	"fmt"

	"github.com/companyzero/gopus"
	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/audiostream/internal/domain"
)

// rawFormat needs to be agreed upon between capture and playback.
var rawFormat = malgo.FormatS16

// emptyDeviceID is an empty malgo device id.
var emptyDeviceID malgo.DeviceID

// encodeDeviceID renders a malgo device id as printable text. Trailing
// padding is dropped.
func encodeDeviceID(id malgo.DeviceID) domain.DeviceID {
	b := id[:]
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return domain.DeviceID(hex.EncodeToString(b))
}

func decodeDeviceID(id domain.DeviceID) (malgo.DeviceID, error) {
	var res malgo.DeviceID
	b, err := hex.DecodeString(string(id))
	if err != nil {
		return res, fmt.Errorf("malformed device id %q: %w", id, err)
	}
	if len(b) > len(res) {
		return res, fmt.Errorf("device id %q too long", id)
	}
	copy(res[:], b)
	return res, nil
}

func init() {
	newBackend = newMalgoBackend
}

// malgoBackend offloads device work to miniaudio through malgo and codec
// work to libopus through gopus.
type malgoBackend struct {
	malgoCtx *malgo.AllocatedContext
}

func newMalgoBackend() (Backend, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoBackend{malgoCtx: malgoCtx}, nil
}

func (mb *malgoBackend) Name() string { return "malgo" }

func (mb *malgoBackend) Free() error {
	if err := mb.malgoCtx.Uninit(); err != nil {
		return err
	}
	mb.malgoCtx.Free()
	return nil
}

func (mb *malgoBackend) Devices(kind domain.DeviceKind) ([]domain.Device, error) {
	typ := malgo.Capture
	if kind == domain.KindAudioOutput {
		typ = malgo.Playback
	}
	devices, err := mb.malgoCtx.Devices(typ)
	if err != nil {
		return nil, err
	}

	res := make([]domain.Device, 0, len(devices))
	seen := make(map[domain.DeviceID]struct{}, len(devices))
	for _, dev := range devices {
		full, err := mb.malgoCtx.DeviceInfo(typ, dev.ID, malgo.Shared)
		if err != nil {
			log.Warn().Err(err).Str("module", "audio.malgo").Msg("unable to get audio device info")
			continue
		}

		// Avoid duplicate device IDs.
		id := encodeDeviceID(full.ID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		res = append(res, domain.Device{
			ID:        id,
			Label:     full.Name(),
			Kind:      kind,
			IsDefault: full.IsDefault == 1,
		})
	}
	return res, nil
}

func (mb *malgoBackend) deviceConfig(typ malgo.DeviceType, id domain.DeviceID) (malgo.DeviceConfig, error) {
	// Sanity check.
	if size := malgo.SampleSizeInBytes(rawFormat); size != rawFormatSampleSize {
		return malgo.DeviceConfig{}, fmt.Errorf("malgo raw format has wrong sample size "+
			"(got %d, want %d)", size, rawFormatSampleSize)
	}

	var malgoID malgo.DeviceID
	if id != "" {
		var err error
		if malgoID, err = decodeDeviceID(id); err != nil {
			return malgo.DeviceConfig{}, err
		}
	}

	cfg := malgo.DefaultDeviceConfig(typ)
	cfg.SampleRate = SampleRate
	cfg.PeriodSizeInMilliseconds = PeriodMS
	cfg.Alsa.NoMMap = 1
	if typ == malgo.Capture {
		cfg.Capture.Format = rawFormat
		cfg.Capture.Channels = Channels
		if malgoID != emptyDeviceID {
			cfg.Capture.DeviceID = malgoID.Pointer()
		}
	} else {
		cfg.Playback.Format = rawFormat
		cfg.Playback.Channels = Channels
		if malgoID != emptyDeviceID {
			cfg.Playback.DeviceID = malgoID.Pointer()
		}
	}
	return cfg, nil
}

func (mb *malgoBackend) initDevice(typ malgo.DeviceType, id domain.DeviceID, cb DataProc) (Handle, error) {
	cfg, err := mb.deviceConfig(typ, id)
	if err != nil {
		return nil, err
	}
	device, err := malgo.InitDevice(mb.malgoCtx.Context, cfg, malgo.DeviceCallbacks{
		Data: malgo.DataProc(cb),
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

func (mb *malgoBackend) InitCapture(id domain.DeviceID, cb DataProc) (Handle, error) {
	return mb.initDevice(malgo.Capture, id, cb)
}

func (mb *malgoBackend) InitPlayback(id domain.DeviceID, cb DataProc) (Handle, error) {
	return mb.initDevice(malgo.Playback, id, cb)
}

func (mb *malgoBackend) NewEncoder() (Encoder, error) {
	return gopus.NewEncoder(SampleRate, Channels, gopus.Voip)
}

func (mb *malgoBackend) NewDecoder() (Decoder, error) {
	return gopus.NewDecoder(SampleRate, Channels)
}
