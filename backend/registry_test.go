package backend

import (
	"errors"
	"testing"

	"github.com/gogpu/banding/internal/gpucore"
)

// stubDevice satisfies gpucore.Device for registry tests; only identity is
// used.
type stubDevice struct {
	gpucore.Device
	name string
}

func stubFactory(name string, err error) Factory {
	return func(Config) (gpucore.Device, error) {
		if err != nil {
			return nil, err
		}
		return &stubDevice{name: name}, nil
	}
}

// withBackends swaps the registry for the duration of a test.
func withBackends(t *testing.T, m map[string]Factory) {
	t.Helper()
	registryMu.Lock()
	saved := backends
	backends = m
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		backends = saved
		registryMu.Unlock()
	})
}

func TestRegistryRegisterAndUnregister(t *testing.T) {
	withBackends(t, map[string]Factory{})

	Register("test-backend", stubFactory("test-backend", nil))
	if !IsRegistered("test-backend") {
		t.Fatal("test-backend should be registered")
	}
	if got := Available(); len(got) != 1 || got[0] != "test-backend" {
		t.Errorf("Available() = %v", got)
	}
	Unregister("test-backend")
	if IsRegistered("test-backend") {
		t.Error("test-backend should be unregistered")
	}
}

func TestOpen(t *testing.T) {
	boom := errors.New("boom")
	withBackends(t, map[string]Factory{
		BackendSoft:   stubFactory(BackendSoft, nil),
		BackendNative: stubFactory(BackendNative, boom),
	})

	dev, err := Open(BackendSoft, Config{})
	if err != nil {
		t.Fatalf("Open(soft): %v", err)
	}
	if dev.(*stubDevice).name != BackendSoft {
		t.Errorf("opened %q", dev.(*stubDevice).name)
	}
	if _, err := Open(BackendNative, Config{}); !errors.Is(err, boom) {
		t.Errorf("Open(native): err = %v, want wrapped factory error", err)
	}
	if _, err := Open("missing", Config{}); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(missing): err = %v, want ErrBackendNotAvailable", err)
	}
}

func TestOpenDefault(t *testing.T) {
	tests := []struct {
		name     string
		backends map[string]Factory
		want     string
		wantErr  bool
	}{
		{
			name: "falls back to soft",
			backends: map[string]Factory{
				BackendWebGPU: stubFactory(BackendWebGPU, ErrNoSurface),
				BackendNative: stubFactory(BackendNative, errors.New("no vulkan")),
				BackendSoft:   stubFactory(BackendSoft, nil),
			},
			want: BackendSoft,
		},
		{
			name: "prefers webgpu",
			backends: map[string]Factory{
				BackendWebGPU: stubFactory(BackendWebGPU, nil),
				BackendSoft:   stubFactory(BackendSoft, nil),
			},
			want: BackendWebGPU,
		},
		{
			name:     "nothing registered",
			backends: map[string]Factory{},
			wantErr:  true,
		},
		{
			name: "all fail",
			backends: map[string]Factory{
				BackendWebGPU: stubFactory(BackendWebGPU, ErrNoSurface),
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBackends(t, tt.backends)
			_, name, err := OpenDefault(Config{})
			if tt.wantErr {
				if !errors.Is(err, ErrBackendNotAvailable) {
					t.Errorf("err = %v, want ErrBackendNotAvailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenDefault: %v", err)
			}
			if name != tt.want {
				t.Errorf("OpenDefault picked %q, want %q", name, tt.want)
			}
		})
	}
}
