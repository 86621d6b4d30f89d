package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	evacam "github.com/Bin1119/EVA-CAM"
	"github.com/Bin1119/EVA-CAM/alpcam"
	"github.com/Bin1119/EVA-CAM/xarm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "evacam:", err)
		os.Exit(1)
	}
}

func run() error {
	evacam.LoadEnv()
	cfg := evacam.ConfigFromEnv()
	log := newLogger(cfg)

	arm, err := dialArm(cfg)
	if err != nil {
		return err
	}
	cam, err := dialCamera(cfg, log)
	if err != nil {
		arm.Close()
		return err
	}

	metrics := evacam.NewMetrics()
	estop := evacam.NewEmergencyStop()
	session := evacam.NewSessionController(cfg, arm, cam, estop, log, metrics)
	defer session.Close()

	ctx := context.Background()
	if err := session.Connect(ctx); err != nil {
		return err
	}

	var status *evacam.StatusServer
	if cfg.StatusAddr != "" {
		status = evacam.NewStatusServer(cfg.StatusAddr, session, metrics, log)
		go func() {
			if err := status.Start(); err != nil {
				log.Error("status server failed", "error", err)
			}
		}()
	}

	if err := session.StartInteractive(ctx); err != nil {
		return err
	}

	p := tea.NewProgram(newModel(session, cfg), tea.WithAltScreen())
	_, teaErr := p.Run()

	session.StopInteractive()
	if status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		status.Shutdown(shutdownCtx)
		cancel()
	}
	return teaErr
}

func newLogger(cfg evacam.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func dialArm(cfg evacam.Config) (evacam.ArmLink, error) {
	switch strings.ToLower(cfg.Arm.Transport) {
	case "tcp":
		return xarm.Dial(cfg.Arm.Addr, cfg.Arm.Timeout)
	case "serial":
		return xarm.DialSerial(cfg.Arm.SerialDev, cfg.Arm.SerialBaud, cfg.Arm.Timeout)
	default:
		return nil, fmt.Errorf("unknown arm transport %q (want tcp or serial)", cfg.Arm.Transport)
	}
}

func dialCamera(cfg evacam.Config, log *slog.Logger) (evacam.CameraLink, error) {
	if cfg.Camera.Simulate {
		log.Info("camera simulator enabled")
		return alpcam.NewSim(2 * time.Millisecond), nil
	}
	return alpcam.Dial(cfg.Camera.Addr, cfg.Camera.Timeout)
}
