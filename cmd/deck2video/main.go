package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ivlev/deck2video/internal/assembler"
	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/engine"
	"github.com/ivlev/deck2video/internal/layout"
	"github.com/ivlev/deck2video/internal/narration"
	"github.com/ivlev/deck2video/internal/system"
)

var buildVersion = "dev"

func main() {
	// Увеличиваем лимиты системы (для macOS/Linux)
	system.InitResourceLimits()

	// Создаем нужные директории, если их нет
	for _, d := range []string{"input/deck", "output"} {
		os.MkdirAll(d, 0755)
	}

	defaults := config.Default()

	inputPtr := flag.String("input", "", "Путь к файлу деки .md (по умолчанию: самый свежий файл в input/deck/)")
	outputPtr := flag.String("output", "", "Путь к видео (если пусто, генерируется автоматически в output/)")
	profilePtr := flag.String("config", "", "YAML-профиль с настройками оформления")
	widthPtr := flag.Int("width", defaults.Width, "Ширина")
	heightPtr := flag.Int("height", defaults.Height, "Высота")
	fpsPtr := flag.Int("fps", defaults.FPS, "FPS")
	paddingPtr := flag.Int("padding", defaults.PaddingPx, "Отступ контента от краев кадра (px)")
	bgPtr := flag.String("bg", defaults.BackgroundColor.String(), "Цвет фона (#rrggbb)")
	fgPtr := flag.String("fg", defaults.TextColor.String(), "Цвет текста (#rrggbb)")
	minFontPtr := flag.Int("min-font", defaults.MinFontSize, "Минимальный размер шрифта")
	maxFontPtr := flag.Int("max-font", defaults.MaxFontSize, "Максимальный размер шрифта")
	transitionsPtr := flag.Bool("transitions", defaults.TransitionsEnabled, "Плавное появление сегментов (fade-in)")
	fadePtr := flag.Float64("fade", defaults.TransitionDuration, "Длительность перехода (сек)")
	counterPtr := flag.Bool("counter", defaults.CounterEnabled, "Счетчик слайдов в углу кадра")
	qrPtr := flag.String("qr", "", "Ссылка для QR-кода в углу каждого слайда")
	templatePtr := flag.String("template", "", "Фоновая подложка: изображение или одностраничный PDF")
	voicePtr := flag.String("voice", "", "Голос синтезатора речи")
	langPtr := flag.String("lang", defaults.Language, "Язык дикторской дорожки")
	ratePtr := flag.Int("rate", defaults.RateWPM, "Темп речи (слов в минуту)")
	musicPtr := flag.String("music", "", "Фоновая музыка под дикторской дорожкой")
	musicVolPtr := flag.Float64("music-volume", defaults.MusicVolume, "Громкость музыки 0..1")
	workersPtr := flag.Int("workers", defaults.Workers, "Потоки обработки слайдов")
	qualityPtr := flag.Int("quality", 0, "Качество видео (0 - авто, x264: CRF 1-51, VideoToolbox: битрейт = Q*100кбит/с)")
	presetPtr := flag.String("preset", "", "Пресет формата: 16:9, 9:16 (Shorts/TikTok), 4:5 (Instagram)")
	keepGoingPtr := flag.Bool("keep-going", false, "Best-effort: пропускать ошибочные слайды вместо остановки")
	keepArtifactsPtr := flag.Bool("keep-artifacts", false, "Сохранять промежуточные кадры и аудио")
	statsPtr := flag.Bool("stats", false, "Показать отчет о производительности")

	flag.Parse()

	cfg := config.Default()
	if *profilePtr != "" {
		if err := config.ApplyProfile(&cfg, *profilePtr); err != nil {
			log.Fatalf("[-] Ошибка: %v", err)
		}
	}

	// Явно указанные флаги главнее профиля.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "width":
			cfg.Width = *widthPtr
		case "height":
			cfg.Height = *heightPtr
		case "fps":
			cfg.FPS = *fpsPtr
		case "padding":
			cfg.PaddingPx = *paddingPtr
		case "bg":
			cfg.BackgroundColor = mustRGB(*bgPtr)
		case "fg":
			cfg.TextColor = mustRGB(*fgPtr)
		case "min-font":
			cfg.MinFontSize = *minFontPtr
		case "max-font":
			cfg.MaxFontSize = *maxFontPtr
		case "transitions":
			cfg.TransitionsEnabled = *transitionsPtr
		case "fade":
			cfg.TransitionDuration = *fadePtr
		case "counter":
			cfg.CounterEnabled = *counterPtr
		case "qr":
			cfg.QRLink = *qrPtr
		case "template":
			cfg.BackgroundTemplate = *templatePtr
		case "voice":
			cfg.Voice = *voicePtr
		case "lang":
			cfg.Language = *langPtr
		case "rate":
			cfg.RateWPM = *ratePtr
		case "music":
			cfg.MusicPath = *musicPtr
		case "music-volume":
			cfg.MusicVolume = *musicVolPtr
		case "workers":
			cfg.Workers = *workersPtr
		case "quality":
			cfg.Quality = *qualityPtr
		}
	})

	switch *presetPtr {
	case "16:9":
		cfg.Width, cfg.Height = 1280, 720
	case "9:16":
		cfg.Width, cfg.Height = 720, 1280
	case "4:5":
		cfg.Width, cfg.Height = 1080, 1350
	}

	inputPath := *inputPtr
	if inputPath == "" {
		latest, err := system.FindLatestDeck("input/deck")
		if err != nil {
			log.Fatalf("[-] Ошибка: %v. Положите деку в input/deck/", err)
		}
		inputPath = latest
		fmt.Printf("[*] Выбран файл: %s\n", inputPath)
	}
	cfg.InputPath = inputPath

	finalOutput := *outputPtr
	if finalOutput == "" {
		baseName := filepath.Base(inputPath)
		nameOnly := strings.TrimSuffix(baseName, filepath.Ext(baseName))
		cleanName := strings.ReplaceAll(nameOnly, " ", "_")
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		finalOutput = filepath.Join("output", fmt.Sprintf("%s_%s.mp4", cleanName, timestamp))
	}
	cfg.OutputVideo = finalOutput

	encoderName, _ := system.GetBestH264Encoder()
	if encoderName != "libx264" {
		fmt.Printf("[*] Обнаружено аппаратное ускорение: %s\n", encoderName)
	}
	cfg.VideoEncoder = encoderName
	if cfg.Quality == 0 {
		switch encoderName {
		case "h264_videotoolbox":
			cfg.Quality = 75
		case "h264_nvenc":
			cfg.Quality = 28
		default:
			cfg.Quality = 23
		}
	}

	cfg.KeepGoing = *keepGoingPtr
	cfg.KeepArtifacts = *keepArtifactsPtr
	cfg.ShowStats = *statsPtr
	cfg.BuildVersion = buildVersion

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[-] Ошибка конфигурации: %v", err)
	}

	deckSource, err := os.ReadFile(inputPath)
	if err != nil {
		log.Fatalf("[-] Не удалось прочитать деку: %v", err)
	}

	layoutEngine, err := layout.NewEngine(cfg)
	if err != nil {
		log.Fatalf("[-] Ошибка инициализации рендера: %v", err)
	}

	synth, err := narration.NewCommandSynthesizer()
	if err != nil {
		log.Fatalf("[-] Ошибка: %v", err)
	}
	fmt.Printf("[*] Синтезатор речи: %s\n", synth.Tool)

	// Ctrl+C отменяет контекст: воркеры останавливаются, временные
	// артефакты удаляются на выходе из Run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := &engine.Pipeline{
		Cfg:     cfg,
		Layout:  layoutEngine,
		Synth:   synth,
		Builder: &assembler.FFmpegAssembler{Cfg: cfg},
	}

	if _, err := pipeline.Run(ctx, deckSource); err != nil {
		log.Fatalf("[-] Ошибка сборки: %v", err)
	}

	fmt.Printf("[+++] Успех! Результат: %s\n", cfg.OutputVideo)
}

func mustRGB(s string) config.RGB {
	c, err := config.ParseRGB(s)
	if err != nil {
		log.Fatalf("[-] Ошибка: %v", err)
	}
	return c
}
