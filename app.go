package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"wakeassist/internal/bootstrap"
	"wakeassist/internal/config"
	"wakeassist/internal/domain"
	"wakeassist/internal/logging"
)

const (
	eventPopup   = "wakeassist:popup"
	eventState   = "wakeassist:state"
	eventCommand = "wakeassist:command"
	eventError   = "wakeassist:error"
	eventLog     = "wakeassist:log"
)

// App is the Wails application root. It renders the popup and forwards
// assistant events and log lines to the frontend.
type App struct {
	ctx context.Context

	services *bootstrap.Services
	cfg      config.Config
	logger   *logging.Logger
	bootErr  error
	cancel   context.CancelFunc

	mu        sync.Mutex
	visible   bool
	popupText string
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load()
	if err != nil {
		a.bootFailed(err)
		return
	}
	a.cfg = cfg
	a.logger = logging.NewLogger(logging.Option{
		Hook:        logHook{app: a},
		Mode:        cfg.Log.Mode,
		ServiceName: "wakeassist",
		EncodeType:  logging.ParseEncodeType(cfg.Log.Encoding),
	})

	services, err := bootstrap.Build(cfg, a, a, a.logger)
	if err != nil {
		a.bootFailed(err)
		return
	}
	a.services = services

	watchCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go func() {
		if err := services.WatchVocabulary(watchCtx); err != nil {
			a.logger.Warnf("vocabulary watch stopped: %v", err)
		}
	}()

	a.StateChanged(domain.StateIdle, domain.ReasonStopped)
}

func (a *App) shutdown(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if a.services != nil {
		_ = a.services.Shutdown(ctx)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *App) bootFailed(err error) {
	a.bootErr = err
	a.AssistantError(domain.ErrorCodeStartup, err.Error())
}

// StartAssistant begins monitoring and reports whether it is running.
func (a *App) StartAssistant() bool {
	if err := a.requireReady(); err != nil {
		return false
	}
	if err := a.services.Start(a.ctx); err != nil {
		a.logger.Errorf("start assistant: %v", err)
		a.AssistantError(domain.ErrorCodeProviderUnavailable, err.Error())
		return false
	}
	return true
}

// StopAssistant stops monitoring. It is a no-op when nothing runs.
func (a *App) StopAssistant() {
	if a.services == nil {
		return
	}
	a.services.Stop()
}

// GetStatus returns the current assistant status.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.StateIdle, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.StateIdle}
	}
	return a.services.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"recognizer":     a.cfg.Recognizer.Kind,
		"wakeupPhrases":  strings.Join(a.cfg.Recognizer.WakeupPhrases, ", "),
		"vocabularyFile": a.cfg.Vocabulary.Path,
		"matchMode":      a.cfg.Vocabulary.MatchMode,
		"commandTimeout": a.cfg.Assistant.CommandTimeout.String(),
	}
	if a.cfg.Recognizer.Kind == config.RecognizerScript {
		info["script"] = a.cfg.Recognizer.ScriptPath
		return info
	}
	info["provider"] = "Deepgram"
	info["model"] = a.cfg.Deepgram.Model
	info["language"] = a.cfg.Deepgram.Language
	info["audioInput"] = a.cfg.Audio.InputDevice
	info["audioInputFormat"] = a.cfg.Audio.InputFormat
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// Show displays the popup.
func (a *App) Show(text string) {
	a.mu.Lock()
	a.visible = true
	a.popupText = text
	a.mu.Unlock()
	a.emit(eventPopup, map[string]any{"visible": true, "text": text})
}

// Hide dismisses the popup.
func (a *App) Hide() {
	a.mu.Lock()
	wasVisible := a.visible
	a.visible = false
	a.popupText = ""
	a.mu.Unlock()
	if wasVisible {
		a.emit(eventPopup, map[string]any{"visible": false})
	}
}

// GetPopup returns the popup currently on screen, for a frontend that
// reloads while one is visible.
func (a *App) GetPopup() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]any{"visible": a.visible, "text": a.popupText}
}

func (a *App) IsVisible() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visible
}

// StateChanged emits assistant state updates to the frontend.
func (a *App) StateChanged(state domain.AssistantState, reason domain.StateReason) {
	a.emit(eventState, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": stateReasonMessage(reason),
	})
}

// CommandRecognized emits a recognized command.
func (a *App) CommandRecognized(text string, success bool) {
	a.emit(eventCommand, map[string]any{"text": text, "success": success})
}

// AssistantError emits backend errors to the UI.
func (a *App) AssistantError(code domain.ErrorCode, detail string) {
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

// logHook forwards encoded log lines to the log view.
type logHook struct {
	app *App
}

func (h logHook) Write(p []byte) (int, error) {
	if line := strings.TrimRight(string(p), "\n"); line != "" {
		h.app.emit(eventLog, line)
	}
	return len(p), nil
}

func stateReasonMessage(reason domain.StateReason) string {
	switch reason {
	case domain.ReasonStarted:
		return "等待唤醒"
	case domain.ReasonWakeupDetected:
		return "已唤醒，请说出命令"
	case domain.ReasonCommandMatched:
		return "已识别命令"
	case domain.ReasonEsrSuccess:
		return "命令识别完成"
	case domain.ReasonCommandTimeout:
		return "命令超时，重新等待唤醒"
	case domain.ReasonCommandDispatched:
		return "命令已执行"
	case domain.ReasonFailureRecovery:
		return "识别服务恢复中"
	case domain.ReasonStopped:
		return "已停止"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "启动失败"
	case domain.ErrorCodeProviderUnavailable:
		return "识别服务不可用"
	case domain.ErrorCodeTransientRead:
		return "读取识别结果失败"
	case domain.ErrorCodeFailureEscalation:
		return "识别服务连续失败，正在恢复"
	default:
		if detail == "" {
			return "未知错误"
		}
		return detail
	}
}
