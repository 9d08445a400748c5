package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tiroq/memofy/internal/detect"
	"github.com/tiroq/memofy/internal/meeting"
	"github.com/tiroq/memofy/internal/queue"
)

// CustomApp is a user-registered catalog entry, merged into detect.Catalog
// alongside the built-in defaults.
type CustomApp struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	BundleID    string `json:"bundle_id"`
	ProcessName string `json:"process_name"`
}

// DetectionConfig holds the full configuration surface: which apps the
// catalog recognises, the detector's polling and grace-period timings, and
// the processing-queue resume flags.
type DetectionConfig struct {
	EnabledApps []string    `json:"enabled_apps"`
	CustomApps  []CustomApp `json:"custom_apps,omitempty"`
	BrowserApps []string    `json:"browser_apps,omitempty"`

	CheckOnWake                bool    `json:"check_on_wake"`
	MicrophonePollingInterval  float64 `json:"microphone_polling_interval"`
	MicDeactivationGracePeriod float64 `json:"mic_deactivation_grace_period"`
	WindowTitlePollingInterval float64 `json:"window_title_polling_interval"`
	EnableWindowTitleDetection bool    `json:"enable_window_title_detection"`
	WindowTargetProcess        string  `json:"window_target_process,omitempty"`

	AutoTranscribe          bool `json:"auto_transcribe"`
	AutoGenerateSummary     bool `json:"auto_generate_summary"`
	AutoGenerateActionItems bool `json:"auto_generate_action_items"`

	ASR *ASRConfig `json:"asr,omitempty"` // nil disables transcription entirely
}

// DefaultDetectionConfig returns the daemon's out-of-the-box configuration.
func DefaultDetectionConfig() *DetectionConfig {
	return &DetectionConfig{
		EnabledApps:                []string{"zoom", "teams", "meet", "slack", "discord"},
		CheckOnWake:                true,
		MicrophonePollingInterval:  1.0,
		MicDeactivationGracePeriod: 8.0,
		WindowTitlePollingInterval: 1.0,
		EnableWindowTitleDetection: false,
		WindowTargetProcess:        "zoom.us",
		AutoTranscribe:             true,
		AutoGenerateSummary:        true,
		AutoGenerateActionItems:    true,
	}
}

// LoadDetectionRules reads configuration from ~/.config/memofy/detection-rules.json
// Falls back to configs/default-detection-rules.json if user config doesn't exist
func LoadDetectionRules() (*DetectionConfig, error) {
	// Try user config first
	configDir := filepath.Join(os.Getenv("HOME"), ".config", "memofy")
	userConfigPath := filepath.Join(configDir, "detection-rules.json")

	data, err := os.ReadFile(userConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Fall back to default config
			defaultPath := "configs/default-detection-rules.json"
			data, err = os.ReadFile(defaultPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}

			// Create user config directory for future saves
			if err := os.MkdirAll(configDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create config directory: %w", err)
			}
		} else {
			return nil, err
		}
	}

	config := DefaultDetectionConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveDetectionRules writes configuration to ~/.config/memofy/detection-rules.json
func SaveDetectionRules(config *DetectionConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	configDir := filepath.Join(os.Getenv("HOME"), ".config", "memofy")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	configPath := filepath.Join(configDir, "detection-rules.json")

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// Validate checks DetectionConfig for validity.
func (c *DetectionConfig) Validate() error {
	if c.MicrophonePollingInterval <= 0 {
		return fmt.Errorf("microphone_polling_interval must be > 0, got %v", c.MicrophonePollingInterval)
	}
	if c.WindowTitlePollingInterval <= 0 {
		return fmt.Errorf("window_title_polling_interval must be > 0, got %v", c.WindowTitlePollingInterval)
	}
	if c.MicDeactivationGracePeriod <= 0 {
		return fmt.Errorf("mic_deactivation_grace_period must be > 0, got %v", c.MicDeactivationGracePeriod)
	}
	if len(c.EnabledApps) == 0 && len(c.CustomApps) == 0 {
		return fmt.Errorf("at least one enabled_app or custom_app is required")
	}

	if err := c.validateASR(); err != nil {
		return err
	}

	return nil
}

// EnabledAppSet converts EnabledApps into the map detect.NewCatalog expects.
func (c *DetectionConfig) EnabledAppSet() map[string]bool {
	set := make(map[string]bool, len(c.EnabledApps))
	for _, id := range c.EnabledApps {
		set[id] = true
	}
	return set
}

// BuildCatalog constructs a detect.Catalog reflecting EnabledApps,
// CustomApps, and BrowserApps.
func (c *DetectionConfig) BuildCatalog() *detect.Catalog {
	catalog := detect.NewCatalog(c.EnabledAppSet())
	for _, custom := range c.CustomApps {
		catalog.AddCustomApp(detect.App{
			ID:          custom.ID,
			DisplayName: custom.DisplayName,
			BundleID:    custom.BundleID,
			ProcessName: custom.ProcessName,
		})
	}
	for _, fragment := range c.BrowserApps {
		catalog.AddBrowserNameFragment(fragment)
	}
	return catalog
}

// ToMeetingConfig converts the detector-relevant subset into meeting.Config.
func (c *DetectionConfig) ToMeetingConfig() meeting.Config {
	cfg := meeting.DefaultConfig()
	cfg.CheckOnWake = c.CheckOnWake
	cfg.MicPollingInterval = time.Duration(c.MicrophonePollingInterval * float64(time.Second))
	cfg.WindowPollingInterval = time.Duration(c.WindowTitlePollingInterval * float64(time.Second))
	cfg.EnableWindowTitleDetection = c.EnableWindowTitleDetection
	cfg.GracePeriod = time.Duration(c.MicDeactivationGracePeriod * float64(time.Second))
	if c.WindowTargetProcess != "" {
		cfg.WindowTargetProcess = c.WindowTargetProcess
	}
	return cfg
}

// ToResumeFlags converts the processing flags into queue.ResumeFlags.
func (c *DetectionConfig) ToResumeFlags() queue.ResumeFlags {
	return queue.ResumeFlags{
		AutoTranscribe:          c.AutoTranscribe,
		AutoGenerateSummary:     c.AutoGenerateSummary,
		AutoGenerateActionItems: c.AutoGenerateActionItems,
	}
}

// ASRConfig holds Automatic Speech Recognition settings.
type ASRConfig struct {
	Enabled         bool     `json:"enabled"`                    // false = ASR disabled entirely
	Mode            string   `json:"mode"`                       // "batch" | "live" | "hybrid" (default "batch")
	Backend         string   `json:"backend"`                    // "remote_whisper_api" | "local_whisper" | "google_stt"
	FallbackBackend string   `json:"fallback_backend,omitempty"` // optional fallback
	DraftModel      string   `json:"draft_model,omitempty"`      // future: live/hybrid
	RecoveryModel   string   `json:"recovery_model,omitempty"`   // future: two-pass
	OutputFormats   []string `json:"output_formats,omitempty"`   // ["txt", "srt", "vtt"] default ["txt"]

	Remote RemoteWhisperConfig `json:"remote,omitempty"`
	Local  LocalWhisperConfig  `json:"local,omitempty"`
	Google GoogleSTTConfig     `json:"google,omitempty"`
}

// RemoteWhisperConfig holds remote Whisper API backend settings.
type RemoteWhisperConfig struct {
	BaseURL        string `json:"base_url"`
	Token          string `json:"token,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"` // default 120
	Retries        int    `json:"retries"`         // default 3
	Model          string `json:"model"`           // default "small"
}

// LocalWhisperConfig holds local whisper CLI backend settings.
type LocalWhisperConfig struct {
	BinaryPath string `json:"binary_path"`
	ModelPath  string `json:"model_path"`
	Model      string `json:"model"`   // no default is applied when empty
	Threads    int    `json:"threads"` // 0 = auto
}

// GoogleSTTConfig holds Google Cloud Speech-to-Text settings.
type GoogleSTTConfig struct {
	CredentialsFile string `json:"credentials_file,omitempty"`
	LanguageCode    string `json:"language_code,omitempty"` // e.g. "en-US"; no default is applied when empty
}

// validASRModes lists accepted ASR modes.
var validASRModes = map[string]bool{
	"batch":  true,
	"live":   true,
	"hybrid": true,
}

// validASRBackends lists accepted ASR backend names.
var validASRBackends = map[string]bool{
	"remote_whisper_api": true,
	"local_whisper":      true,
	"google_stt":         true,
}

// validOutputFormats lists accepted transcript output formats.
var validOutputFormats = map[string]bool{
	"txt": true,
	"srt": true,
	"vtt": true,
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (a *ASRConfig) applyDefaults() {
	if a.Mode == "" {
		a.Mode = "batch"
	}
	if len(a.OutputFormats) == 0 {
		a.OutputFormats = []string{"txt"}
	}
}

// validateASR validates ASR configuration if present and enabled.
func (c *DetectionConfig) validateASR() error {
	if c.ASR == nil || !c.ASR.Enabled {
		return nil
	}

	c.ASR.applyDefaults()

	if !validASRModes[c.ASR.Mode] {
		return fmt.Errorf("asr.mode must be \"batch\", \"live\", or \"hybrid\", got %q", c.ASR.Mode)
	}
	if !validASRBackends[c.ASR.Backend] {
		return fmt.Errorf("asr.backend must be \"remote_whisper_api\", \"local_whisper\", or \"google_stt\", got %q", c.ASR.Backend)
	}
	if c.ASR.FallbackBackend != "" {
		if !validASRBackends[c.ASR.FallbackBackend] {
			return fmt.Errorf("asr.fallback_backend must be a valid backend name, got %q", c.ASR.FallbackBackend)
		}
		if c.ASR.FallbackBackend == c.ASR.Backend {
			return fmt.Errorf("asr.fallback_backend must differ from asr.backend")
		}
	}
	for _, f := range c.ASR.OutputFormats {
		if !validOutputFormats[f] {
			return fmt.Errorf("asr.output_formats: unknown format %q", f)
		}
	}
	return nil
}
