package playback

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoDevice is the real speaker backed by miniaudio. The audio context is
// created lazily on first Open and survives Close, so sample-rate switches
// only cycle the device, not the whole backend.
type MalgoDevice struct {
	mu      sync.Mutex
	backend *malgo.AllocatedContext
	device  *malgo.Device
}

var _ Device = (*MalgoDevice)(nil)

// NewMalgoDevice creates an unopened speaker device.
func NewMalgoDevice() *MalgoDevice {
	return &MalgoDevice{}
}

// Open initialises the default playback device at the given rate and starts
// pulling audio through the callback.
func (d *MalgoDevice) Open(sampleRate int, pull func(out []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return fmt.Errorf("playback: device already open")
	}

	if d.backend == nil {
		ctxCfg := malgo.ContextConfig{}
		ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime
		backend, err := malgo.InitContext(nil, ctxCfg, nil)
		if err != nil {
			return fmt.Errorf("playback: init context: %w", err)
		}
		d.backend = backend
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceCfg.Playback.Format = malgo.FormatS16
	deviceCfg.Playback.Channels = 1
	deviceCfg.SampleRate = uint32(sampleRate)
	deviceCfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			pull(out)
		},
	}

	device, err := malgo.InitDevice(d.backend.Context, deviceCfg, callbacks)
	if err != nil {
		return fmt.Errorf("playback: init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("playback: start device: %w", err)
	}
	d.device = device
	return nil
}

// Close stops and releases the device. The backend stays alive for a
// subsequent Open.
func (d *MalgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	return nil
}

// Release tears down the audio backend. Call once at process shutdown.
func (d *MalgoDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	if d.backend != nil {
		d.backend.Uninit()
		d.backend.Free()
		d.backend = nil
	}
}
