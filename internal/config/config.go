package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// RGB — цвет в формате #rrggbb. Используется в YAML-профилях и флагах.
type RGB struct {
	R, G, B uint8
}

func ParseRGB(s string) (RGB, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "#"))
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("ожидается цвет в формате #rrggbb, получено %q", s)
	}
	var c RGB
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return RGB{}, fmt.Errorf("ожидается цвет в формате #rrggbb, получено %q: %v", s, err)
	}
	return c, nil
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c *RGB) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseRGB(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c RGB) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

// Config собирается один раз в cmd и дальше передается только по значению:
// рендер и сборка читают его из разных горутин.
type Config struct {
	InputPath   string `yaml:"-"`
	OutputVideo string `yaml:"-"`

	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	FPS       int `yaml:"fps"`
	PaddingPx int `yaml:"padding"`

	BackgroundColor RGB `yaml:"background_color"`
	TextColor       RGB `yaml:"text_color"`

	MinFontSize int `yaml:"min_font_size"`
	MaxFontSize int `yaml:"max_font_size"`

	TransitionsEnabled bool    `yaml:"transitions"`
	TransitionDuration float64 `yaml:"transition_duration"`
	CounterEnabled     bool    `yaml:"counter"`

	// Дополнительные элементы оформления (необязательные).
	QRLink             string `yaml:"qr_link"`
	BackgroundTemplate string `yaml:"background_template"`

	Voice    string `yaml:"voice"`
	Language string `yaml:"language"`
	RateWPM  int    `yaml:"rate_wpm"`

	// Фоновая музыка под дикторской дорожкой.
	MusicPath   string  `yaml:"music"`
	MusicVolume float64 `yaml:"music_volume"`

	Workers       int    `yaml:"workers"`
	VideoEncoder  string `yaml:"-"`
	Quality       int    `yaml:"quality"`
	KeepGoing     bool   `yaml:"-"`
	KeepArtifacts bool   `yaml:"-"`
	ShowStats     bool   `yaml:"-"`
	BuildVersion  string `yaml:"-"`
}

// SegmentParams — срез конфигурации для кодирования одного сегмента.
type SegmentParams struct {
	Width, Height int
	FPS           int
	Duration      float64
	FadeDuration  float64
	SlideIndex    int
	Encoder       string
	Quality       int
}

func Default() Config {
	return Config{
		Width:              1280,
		Height:             720,
		FPS:                30,
		PaddingPx:          64,
		BackgroundColor:    RGB{R: 0x10, G: 0x18, B: 0x28},
		TextColor:          RGB{R: 0xe6, G: 0xe8, B: 0xee},
		MinFontSize:        16,
		MaxFontSize:        56,
		TransitionsEnabled: true,
		TransitionDuration: 0.5,
		CounterEnabled:     true,
		Language:           "en",
		RateWPM:            170,
		MusicVolume:        0.2,
		Workers:            runtime.NumCPU(),
		VideoEncoder:       "libx264",
		Quality:            0, // 0 — подобрать по энкодеру
	}
}

// ApplyProfile накладывает YAML-профиль поверх cfg. Поля, которых нет в
// файле, остаются прежними — decode идет прямо в копию cfg.
func ApplyProfile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("не удалось прочитать профиль %s: %w", path, err)
	}
	merged := *cfg
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return fmt.Errorf("профиль %s: %w", path, err)
	}
	if err := merged.Validate(); err != nil {
		return fmt.Errorf("профиль %s: %w", path, err)
	}
	*cfg = merged
	return nil
}

func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("некорректное разрешение %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("некорректный FPS %d", c.FPS)
	}
	if c.MinFontSize <= 0 || c.MaxFontSize < c.MinFontSize {
		return fmt.Errorf("некорректный диапазон шрифта %d..%d", c.MinFontSize, c.MaxFontSize)
	}
	if c.PaddingPx < 0 || 2*c.PaddingPx >= c.Width || 2*c.PaddingPx >= c.Height {
		return fmt.Errorf("отступ %dpx не помещается в кадр %dx%d", c.PaddingPx, c.Width, c.Height)
	}
	if c.TransitionDuration < 0 {
		return fmt.Errorf("отрицательная длительность перехода %f", c.TransitionDuration)
	}
	if c.MusicVolume < 0 || c.MusicVolume > 1 {
		return fmt.Errorf("громкость музыки %f вне диапазона 0..1", c.MusicVolume)
	}
	return nil
}
