package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tiroq/memofy/internal/aigen"
	"github.com/tiroq/memofy/internal/asr"
	"github.com/tiroq/memofy/internal/asr/googlestt"
	"github.com/tiroq/memofy/internal/asr/localwhisper"
	"github.com/tiroq/memofy/internal/asr/remotewhisper"
	"github.com/tiroq/memofy/internal/config"
	"github.com/tiroq/memofy/internal/crashlog"
	"github.com/tiroq/memofy/internal/diaglog"
	"github.com/tiroq/memofy/internal/ipc"
	"github.com/tiroq/memofy/internal/meeting"
	"github.com/tiroq/memofy/internal/obsws"
	"github.com/tiroq/memofy/internal/pidfile"
	"github.com/tiroq/memofy/internal/queue"
	"github.com/tiroq/memofy/internal/recorder"
	"github.com/tiroq/memofy/internal/recordstore"
	"github.com/tiroq/memofy/internal/sysevents"
	"github.com/tiroq/memofy/internal/transcript"
	"github.com/tiroq/memofy/internal/validation"
)

const (
	obsWebSocketURL = "ws://localhost:4455"
	obsPassword     = "" // Default: no password
	logPrefix       = "[memofy-core]"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"

	outLog *log.Logger
	errLog *log.Logger
)

// ambient holds the status fields the daemon tracks outside the detector
// and queue (operating mode, last action/error, OBS connectivity), guarded
// by mu so the command watcher and detection loop can both update it.
type ambient struct {
	mu           sync.Mutex
	mode         ipc.OperatingMode
	lastAction   string
	lastError    string
	obsConnected bool
}

func (a *ambient) snapshot() (ipc.OperatingMode, string, string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode, a.lastAction, a.lastError, a.obsConnected
}

func (a *ambient) setMode(m ipc.OperatingMode) {
	a.mu.Lock()
	a.mode = m
	a.mu.Unlock()
}

func (a *ambient) setAction(action string) {
	a.mu.Lock()
	a.lastAction = action
	a.lastError = ""
	a.mu.Unlock()
}

func (a *ambient) setError(err error) {
	a.mu.Lock()
	a.lastError = err.Error()
	a.mu.Unlock()
}

func (a *ambient) setOBSConnected(v bool) {
	a.mu.Lock()
	a.obsConnected = v
	a.mu.Unlock()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--export-diag" {
		runExportDiag()
		return
	}

	crashLogger, crashErr := crashlog.Open(crashlog.DefaultPath())
	if crashErr != nil {
		fmt.Fprintf(os.Stderr, "Failed to open crash log: %v\n", crashErr)
	} else {
		defer crashLogger.Close()
		defer crashLogger.RecoverAndLog()
		removeSignalHandlers := crashLogger.InstallSignalHandlers()
		defer removeSignalHandlers()
	}

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	outLog.Println("===========================================")
	outLog.Println("Starting Memofy Core v" + Version + "...")
	outLog.Printf("PID: %d", os.Getpid())
	outLog.Printf("Timestamp: %s", time.Now().Format(time.RFC3339))
	outLog.Println("===========================================")

	outLog.Println("[STARTUP] Checking macOS permissions...")
	if err := checkPermissions(); err != nil {
		errLog.Printf("Permission check failed: %v", err)
		errLog.Println("Please grant Screen Recording and Accessibility permissions in System Preferences > Security & Privacy")
		os.Exit(1)
	}
	outLog.Println("[STARTUP] Permissions check passed")

	pidFilePath := pidfile.GetPIDFilePath("memofy-core")
	outLog.Printf("Checking PID file: %s", pidFilePath)
	pf, err := pidfile.New(pidFilePath)
	if err != nil {
		errLog.Printf("Failed to create PID file: %v", err)
		errLog.Println("Another instance of memofy-core may already be running.")
		os.Exit(1)
	}
	defer func() {
		outLog.Println("Cleaning up before exit...")
		if err := pf.Remove(); err != nil {
			errLog.Printf("Warning: failed to remove PID file: %v", err)
		}
	}()
	outLog.Printf("PID file created: %s (PID %d)", pidFilePath, os.Getpid())

	outLog.Println("[STARTUP] Loading detection configuration...")
	cfg, err := config.LoadDetectionRules()
	if err != nil {
		errLog.Printf("Failed to load detection config: %v", err)
		os.Exit(1)
	}
	outLog.Printf("[STARTUP] Loaded detection config: apps=%v custom=%d mic_interval=%.1fs grace=%.1fs",
		cfg.EnabledApps, len(cfg.CustomApps), cfg.MicrophonePollingInterval, cfg.MicDeactivationGracePeriod)

	asrRegistry := buildASRRegistry(cfg)

	outLog.Println("[STARTUP] Checking OBS status...")
	if err := obsws.StartOBSIfNeeded(); err != nil {
		errLog.Printf("[STARTUP] Failed to start OBS: %v (continuing anyway)", err)
	}

	outLog.Println("[STARTUP] Connecting to OBS WebSocket at " + obsWebSocketURL + "...")
	obsClient := obsws.NewClient(obsWebSocketURL, obsPassword)
	if err := obsClient.Connect(); err != nil {
		errLog.Printf("[STARTUP] Failed to connect to OBS: %v", err)
		errLog.Println("Please ensure OBS is running and WebSocket server is enabled")
		os.Exit(1)
	}
	outLog.Println("[STARTUP] Successfully connected to OBS")
	defer func() {
		outLog.Println("[SHUTDOWN] Disconnecting from OBS...")
		obsClient.Disconnect()
	}()

	obsVersion, wsVersion, _ := obsClient.GetVersion()
	outLog.Printf("[STARTUP] Connected to OBS %s (WebSocket %s)", obsVersion, wsVersion)

	healthCheck := validation.CheckOBSHealth(obsVersion, wsVersion)
	outLog.Printf("[STARTUP] OBS Health: %s", healthCheck.Message)
	if !healthCheck.OK {
		errLog.Println("[STARTUP] WARNING: OBS compatibility check found issues:")
		for _, issue := range healthCheck.Issues {
			errLog.Printf("  - %s", issue)
		}
	}

	outLog.Println("[STARTUP] Checking OBS recording sources...")
	if err := obsClient.EnsureRequiredSources(); err != nil {
		errLog.Printf("Warning: Could not ensure sources: %v", err)
	} else {
		outLog.Println("[STARTUP] OBS recording sources validated")
	}

	logPath := os.Getenv("MEMOFY_LOG_PATH")
	if logPath == "" {
		logPath = "/tmp/memofy-debug.log"
	}
	diagLogger, diagErr := diaglog.New(logPath)
	if diagErr != nil {
		errLog.Printf("[STARTUP] WARNING: could not open diagnostic log at %s: %v (continuing)", logPath, diagErr)
		diagLogger = diaglog.NewNoOp()
	}
	defer func() { _ = diagLogger.Close() }()
	diaglog.Version = Version
	obsClient.SetLogger(diagLogger)

	if asrRegistry != nil {
		runASRHealthChecks(asrRegistry, diagLogger)
	}

	recordingsDir := recordingsDirectory()
	if err := os.MkdirAll(recordingsDir, 0755); err != nil {
		errLog.Printf("Failed to create recordings directory %s: %v", recordingsDir, err)
		os.Exit(1)
	}
	store := recordstore.New(recordingsDir)

	recorder.AppVersion = Version
	sessionID := strconv.FormatInt(time.Now().Unix(), 10)
	controller := recorder.NewController(recorder.NewOBSAdapter(obsClient), func() string { return sessionID })
	controller.SetLogger(diagLogger)

	q := queue.NewQueue(nil)
	q.SetLogger(diagLogger)
	wireProcessingHandlers(q, asrRegistry, store, cfg)

	controller.OnRecordingFinished(func(recordingID, outputPath string) {
		q.EnqueueTranscription(recordingID, outputPath)
	})

	catalog := cfg.BuildCatalog()
	detector := meeting.NewDetector(cfg.ToMeetingConfig(), catalog, controller)
	detector.SetLogger(diagLogger)

	amb := &ambient{mode: ipc.ModeAuto, obsConnected: obsClient.IsConnected()}

	obsClient.OnRecordStateChanged(func(recording bool) {
		if recording {
			outLog.Println("[EVENT] OBS recording state changed: STARTED")
		} else {
			outLog.Println("[EVENT] OBS recording state changed: STOPPED")
		}
	})
	obsClient.OnDisconnected(func() {
		errLog.Println("[EVENT] OBS disconnected - will attempt reconnection")
		amb.setOBSConnected(false)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.ResumeIncompleteWork(ctx, store, cfg.ToResumeFlags()); err != nil {
		errLog.Printf("[STARTUP] Failed to resume incomplete processing work: %v", err)
	} else {
		outLog.Println("[STARTUP] Resumed incomplete transcription/AI-generation work from disk")
	}

	outLog.Println("[STARTUP] Starting meeting detector...")
	detector.Start()
	defer detector.Stop()

	bridge := sysevents.NewBridge(2 * time.Second)
	stopBridge := sysevents.Run(bridge, detector, cfg.CheckOnWake)
	defer stopBridge()
	outLog.Println("[STARTUP] System sleep/wake bridge started")

	outLog.Println("[STARTUP] Writing initial status...")
	if err := writeStatus(detector, q, amb); err != nil {
		errLog.Printf("Failed to write initial status: %v", err)
	}

	outLog.Println("[STARTUP] Starting command file watcher...")
	go watchCommands(detector, q, amb)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	outLog.Println("[STARTUP] Signal handlers registered (SIGINT, SIGTERM)")

	statusTicker := time.NewTicker(2 * time.Second)
	defer statusTicker.Stop()

	outLog.Println("===========================================")
	outLog.Println("[RUNNING] Memofy Core is running and monitoring")

	for {
		select {
		case <-statusTicker.C:
			amb.setOBSConnected(obsClient.IsConnected())
			if err := writeStatus(detector, q, amb); err != nil {
				errLog.Printf("Failed to write status: %v", err)
			}

		case <-sigChan:
			outLog.Println("===========================================")
			outLog.Printf("[SHUTDOWN] Received shutdown signal at %s", time.Now().Format(time.RFC3339))
			if detector.State().Phase == meeting.PhaseRecording {
				outLog.Println("[SHUTDOWN] Recording is active - stopping before shutdown...")
				if err := detector.ForceStopRecording(); err != nil {
					errLog.Printf("Failed to stop recording during shutdown: %v", err)
				}
			}
			outLog.Println("[SHUTDOWN] Shutting down gracefully")
			outLog.Println("===========================================")
			return
		}
	}
}

func runExportDiag() {
	logPath := os.Getenv("MEMOFY_LOG_PATH")
	if logPath == "" {
		logPath = "/tmp/memofy-debug.log"
	}
	diaglog.Version = Version
	path, n, err := diaglog.Export(logPath, ".")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "hint: run with MEMOFY_DEBUG_RECORDING=true to enable logging")
			os.Exit(1)
		}
		os.Exit(2)
	}
	fmt.Printf("Wrote: %s (%d lines)\n", path, n)
}

func recordingsDirectory() string {
	if dir := os.Getenv("MEMOFY_RECORDINGS_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.Getenv("HOME"), "Movies", "Memofy")
}

func buildASRRegistry(cfg *config.DetectionConfig) *asr.Registry {
	if cfg.ASR == nil || !cfg.ASR.Enabled {
		outLog.Println("[STARTUP] ASR disabled (not configured)")
		return nil
	}
	registry := asr.NewRegistry()
	switch cfg.ASR.Backend {
	case "remote_whisper_api":
		registry.Register("remote_whisper_api", remotewhisper.NewClient(remotewhisper.Config{
			BaseURL:        cfg.ASR.Remote.BaseURL,
			Token:          cfg.ASR.Remote.Token,
			TimeoutSeconds: cfg.ASR.Remote.TimeoutSeconds,
			Retries:        cfg.ASR.Remote.Retries,
			Model:          cfg.ASR.Remote.Model,
		}))
	case "local_whisper":
		registry.Register("local_whisper", localwhisper.NewBackend(localwhisper.Config{
			BinaryPath: cfg.ASR.Local.BinaryPath,
			ModelPath:  cfg.ASR.Local.ModelPath,
			Model:      cfg.ASR.Local.Model,
			Threads:    cfg.ASR.Local.Threads,
		}))
	case "google_stt":
		registry.Register("google_stt", googlestt.NewBackend(googlestt.Config{
			CredentialsFile: cfg.ASR.Google.CredentialsFile,
			LanguageCode:    cfg.ASR.Google.LanguageCode,
		}))
	}
	if cfg.ASR.FallbackBackend != "" {
		registry.SetFallback(cfg.ASR.FallbackBackend)
	}
	outLog.Printf("[STARTUP] ASR enabled (backend=%s, mode=%s)", cfg.ASR.Backend, cfg.ASR.Mode)
	return registry
}

func runASRHealthChecks(registry *asr.Registry, diagLogger *diaglog.Logger) {
	for _, name := range registry.Backends() {
		b, _ := registry.Get(name)
		if b == nil {
			continue
		}
		hs, err := b.HealthCheck()
		if err != nil {
			errLog.Printf("[STARTUP] ASR health check error (backend=%s): %v", name, err)
			continue
		}
		if !hs.OK {
			errLog.Printf("[STARTUP] WARNING: ASR backend %s unhealthy: %s", name, hs.Message)
		} else {
			outLog.Printf("[STARTUP] ASR backend %s healthy (latency=%s)", name, hs.Latency)
		}
		diagLogger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentASR,
			Event:     diaglog.EventASRHealthCheck,
			Payload:   map[string]interface{}{"backend": name, "ok": hs.OK},
		})
	}
}

// wireProcessingHandlers connects the queue's two lanes to the ASR registry
// and the aigen summarizer, both sourcing/sinking through store.
func wireProcessingHandlers(q *queue.Queue, asrRegistry *asr.Registry, store *recordstore.Store, cfg *config.DetectionConfig) {
	if asrRegistry != nil {
		formats := []string{"txt"}
		if cfg.ASR != nil && len(cfg.ASR.OutputFormats) > 0 {
			formats = cfg.ASR.OutputFormats
		}
		q.SetTranscriptionHandler(func(ctx context.Context, recordingID, audioPath string) error {
			t, err := asrRegistry.TranscribeWithFallback(audioPath, asr.TranscribeOptions{Timestamps: true})
			if err != nil {
				return fmt.Errorf("transcribe %s: %w", recordingID, err)
			}
			ext := filepath.Ext(audioPath)
			basePath := audioPath[:len(audioPath)-len(ext)]
			if err := transcript.WriteAll(basePath, t, formats); err != nil {
				return fmt.Errorf("write transcript for %s: %w", recordingID, err)
			}
			outLog.Printf("ASR transcript written: %s", basePath)
			return nil
		})
	}

	if cfg.AutoGenerateSummary || cfg.AutoGenerateActionItems {
		model := os.Getenv("MEMOFY_AI_MODEL")
		if model == "" {
			model = "llama3"
		}
		generator, err := aigen.NewGenerator(model, store)
		if err != nil {
			errLog.Printf("[STARTUP] Failed to initialize AI generator (model=%s): %v (AI generation disabled)", model, err)
			return
		}
		q.SetAIGenerationHandler(func(ctx context.Context, recordingID string) error {
			return generator.Generate(ctx, recordingID)
		})
	}
}

func writeStatus(det *meeting.Detector, q *queue.Queue, amb *ambient) error {
	mode, lastAction, lastError, obsConnected := amb.snapshot()
	snapshot := ipc.BuildStatusSnapshot(det, q, mode, lastAction, lastError, obsConnected)
	return ipc.WriteStatus(&snapshot)
}

// watchCommands monitors cmd.txt for manual control commands.
func watchCommands(det *meeting.Detector, q *queue.Queue, amb *ambient) {
	cmdPath := filepath.Join(os.Getenv("HOME"), ".cache", "memofy", "cmd.txt")
	cmdDir := filepath.Dir(cmdPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errLog.Printf("fsnotify not available, falling back to polling: %v", err)
		watchCommandsWithPolling(cmdPath, det, q, amb)
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			errLog.Printf("Failed to close watcher: %v", err)
		}
	}()

	if err := watcher.Add(cmdDir); err != nil {
		errLog.Printf("Failed to watch command directory, falling back to polling: %v", err)
		watchCommandsWithPolling(cmdPath, det, q, amb)
		return
	}

	outLog.Println("Command watcher started (using fsnotify)")

	pollTicker := time.NewTicker(1 * time.Second)
	defer pollTicker.Stop()
	lastCheckTime := time.Now()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				outLog.Println("fsnotify watcher closed, switching to polling")
				watchCommandsWithPolling(cmdPath, det, q, amb)
				return
			}
			if event.Name == cmdPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
				time.Sleep(50 * time.Millisecond)
				cmd, err := ipc.ReadCommand()
				if err != nil || cmd == "" {
					continue
				}
				handleCommand(cmd, det, q, amb)
				lastCheckTime = time.Now()
			}

		case <-pollTicker.C:
			if fileInfo, err := os.Stat(cmdPath); err == nil {
				if fileInfo.ModTime().After(lastCheckTime) {
					time.Sleep(50 * time.Millisecond)
					cmd, err := ipc.ReadCommand()
					if err == nil && cmd != "" {
						handleCommand(cmd, det, q, amb)
						lastCheckTime = time.Now()
					}
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				outLog.Println("fsnotify error channel closed, switching to polling")
				watchCommandsWithPolling(cmdPath, det, q, amb)
				return
			}
			errLog.Printf("File watcher error: %v", err)
		}
	}
}

func watchCommandsWithPolling(cmdPath string, det *meeting.Detector, q *queue.Queue, amb *ambient) {
	outLog.Println("Command watcher started (using polling fallback, 1s interval)")
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	lastCheckTime := time.Now()

	for range ticker.C {
		fileInfo, err := os.Stat(cmdPath)
		if err != nil {
			continue
		}
		if fileInfo.ModTime().After(lastCheckTime) {
			time.Sleep(50 * time.Millisecond)
			cmd, err := ipc.ReadCommand()
			if err == nil && cmd != "" {
				handleCommand(cmd, det, q, amb)
			}
			lastCheckTime = time.Now()
		}
	}
}

func handleCommand(cmd ipc.Command, det *meeting.Detector, q *queue.Queue, amb *ambient) {
	outLog.Printf("Received command: %s", cmd)

	switch cmd {
	case ipc.CmdStart, ipc.CmdForceStart:
		if err := det.ForceStartRecording("Manual"); err != nil {
			errLog.Printf("ForceStartRecording failed: %v", err)
			amb.setError(err)
			return
		}
		amb.setAction("manual_start")

	case ipc.CmdStop, ipc.CmdForceStop:
		if err := det.ForceStopRecording(); err != nil {
			errLog.Printf("ForceStopRecording failed: %v", err)
			amb.setError(err)
			return
		}
		amb.setAction("manual_stop")

	case ipc.CmdReset:
		det.ResetRecordingState()
		amb.setAction("reset")

	case ipc.CmdAuto:
		amb.setMode(ipc.ModeAuto)
		amb.setAction("mode_auto")
		outLog.Println("Mode changed to AUTO")

	case ipc.CmdPause:
		amb.setMode(ipc.ModePaused)
		amb.setAction("mode_paused")
		outLog.Println("Mode changed to PAUSED")

	case ipc.CmdManual:
		amb.setMode(ipc.ModeManual)
		amb.setAction("mode_manual")
		outLog.Println("Mode changed to MANUAL")

	case ipc.CmdToggle:
		if det.State().Phase == meeting.PhaseRecording {
			if err := det.ForceStopRecording(); err != nil {
				errLog.Printf("ForceStopRecording failed: %v", err)
				amb.setError(err)
				return
			}
			amb.setAction("toggle_stop")
		} else {
			if err := det.ForceStartRecording("Manual"); err != nil {
				errLog.Printf("ForceStartRecording failed: %v", err)
				amb.setError(err)
				return
			}
			amb.setAction("toggle_start")
		}

	case ipc.CmdQuit:
		outLog.Println("Quit command received - shutting down")
		os.Exit(0)

	default:
		errLog.Printf("Unknown command: %s", cmd)
	}

	if err := writeStatus(det, q, amb); err != nil {
		errLog.Printf("Failed to write status after command: %v", err)
	}
}

// initLogging sets up log files with rotation support.
func initLogging() error {
	logDir := "/tmp"
	outLogPath := filepath.Join(logDir, "memofy-core.out.log")
	errLogPath := filepath.Join(logDir, "memofy-core.err.log")

	if err := rotateLogIfNeeded(outLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate out log: %v\n", err)
	}
	if err := rotateLogIfNeeded(errLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate err log: %v\n", err)
	}

	outFile, err := os.OpenFile(outLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	errFile, err := os.OpenFile(errLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	outLog = log.New(outFile, logPrefix+" ", log.LstdFlags)
	errLog = log.New(errFile, logPrefix+" ERROR: ", log.LstdFlags)
	return nil
}

// checkPermissions verifies required macOS permissions. Actual checks
// require CGO and macOS frameworks (CGPreflightScreenCaptureAccess,
// AXIsProcessTrusted); this best-effort probe just confirms we can write to
// the working directories recording/logging depend on.
func checkPermissions() error {
	outLog.Println("[PERMS] Screen Recording - OK (assumed)")
	outLog.Println("[PERMS] Accessibility - OK (assumed)")

	testFile := filepath.Join("/tmp", ".memofy-core-test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		outLog.Printf("[PERMS] WARNING: Cannot write to /tmp: %v", err)
	} else {
		_ = os.Remove(testFile)
		outLog.Println("[PERMS] Write test to /tmp: PASS")
	}
	return nil
}

func rotateLogIfNeeded(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	oldPath := logPath + ".old"
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old log: %w", err)
	}
	return os.Rename(logPath, oldPath)
}
