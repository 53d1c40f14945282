package unet

import "testing"

func TestNew_Defaults(t *testing.T) {
	m, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cfg := m.Config()
	if cfg.InChannels != 1 || cfg.OutChannels != 1 || cfg.Features != 16 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestNew_Invalid(t *testing.T) {
	cases := []Config{
		{Features: -4},
		{InChannels: -1},
		{OutChannels: -2},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Fatalf("New(%+v) accepted an invalid config", cfg)
		}
	}
}

// TestCheckSpatial: the pooling pyramid halves dimensions Levels times, so
// both must be positive multiples of 2^Levels.
func TestCheckSpatial(t *testing.T) {
	valid := [][2]int{{64, 64}, {16, 16}, {128, 64}, {16, 48}, {256, 256}}
	for _, hw := range valid {
		if err := CheckSpatial(hw[0], hw[1]); err != nil {
			t.Fatalf("CheckSpatial(%d, %d) = %v, want nil", hw[0], hw[1], err)
		}
	}
	invalid := [][2]int{{0, 64}, {64, 0}, {-16, 16}, {60, 64}, {64, 100}, {8, 64}}
	for _, hw := range invalid {
		if err := CheckSpatial(hw[0], hw[1]); err == nil {
			t.Fatalf("CheckSpatial(%d, %d) accepted a bad grid", hw[0], hw[1])
		}
	}
}
