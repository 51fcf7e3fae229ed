package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRGB(t *testing.T) {
	tests := []struct {
		in      string
		want    RGB
		wantErr bool
	}{
		{"#ffffff", RGB{255, 255, 255}, false},
		{"101828", RGB{0x10, 0x18, 0x28}, false},
		{"#abc", RGB{}, true},
		{"#zzzzzz", RGB{}, true},
		{"", RGB{}, true},
	}
	for _, tt := range tests {
		got, err := ParseRGB(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRGB(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseRGB(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestRGBRoundTrip(t *testing.T) {
	c := RGB{R: 0x12, G: 0xab, B: 0xef}
	parsed, err := ParseRGB(c.String())
	if err != nil {
		t.Fatalf("ParseRGB(%q) failed: %v", c.String(), err)
	}
	if parsed != c {
		t.Errorf("Round trip changed the color: %+v -> %+v", c, parsed)
	}
}

func TestApplyProfileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	profile := "width: 1920\nheight: 1080\nbackground_color: \"#000000\"\nmax_font_size: 72\n"
	if err := os.WriteFile(path, []byte(profile), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := ApplyProfile(&cfg, path); err != nil {
		t.Fatalf("ApplyProfile failed: %v", err)
	}

	if cfg.Width != 1920 || cfg.Height != 1080 {
		t.Errorf("Resolution not applied: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.BackgroundColor != (RGB{}) {
		t.Errorf("Background color not applied: %+v", cfg.BackgroundColor)
	}
	if cfg.MaxFontSize != 72 {
		t.Errorf("Max font size not applied: %d", cfg.MaxFontSize)
	}
	// Поля, которых нет в профиле, остаются дефолтными.
	if cfg.FPS != Default().FPS {
		t.Errorf("FPS should keep its default, got %d", cfg.FPS)
	}
	if cfg.MinFontSize != Default().MinFontSize {
		t.Errorf("MinFontSize should keep its default, got %d", cfg.MinFontSize)
	}
}

func TestValidate(t *testing.T) {
	good := Default()
	if err := good.Validate(); err != nil {
		t.Fatalf("Default config must validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"zero fps", func(c *Config) { c.FPS = 0 }},
		{"inverted font range", func(c *Config) { c.MinFontSize = 40; c.MaxFontSize = 20 }},
		{"padding eats frame", func(c *Config) { c.PaddingPx = c.Height / 2 }},
		{"negative fade", func(c *Config) { c.TransitionDuration = -1 }},
		{"music volume out of range", func(c *Config) { c.MusicVolume = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected a validation error")
			}
		})
	}
}
