// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	AppName       = "beatdetect"
	ConfigType    = "yaml"
	DefaultConfig = `# Beat Detector Configuration

# Audio input settings
device_index: -1        # -1 for default capture device
sample_rate: 44100      # Audio sample rate in Hz
channels: 1             # Number of channels (1=mono)
transform_size: 2048    # FFT size behind the magnitude spectrum (power of 2)
smoothing: 0.5          # Temporal smoothing of the byte spectrum (0.0-0.99)
input_file: ""          # WAV file to analyze instead of live capture

# Frequency bands
kick_min_hz: 40         # Lower edge of the discriminating kick band
kick_max_hz: 120        # Upper edge of the kick band
bass_min_hz: 120        # Lower edge of the competing bass band
bass_max_hz: 300        # Upper edge of the bass band
flux_max_hz: 4000       # Spectral flux is computed over bins up to this frequency

# Detection
policy: "impulse"       # Decision policy: impulse (kick impulse + band dominance)
                        # or flux (energy/flux blend + variance-adaptive threshold)
history_size: 43        # Rolling history capacity; also the warm-up length in ticks
threshold_floor: 0.18   # Minimum threshold; dominates near silence
threshold_multiplier: 1.5  # Rolling-mean multiplier (impulse policy)
dominance: 1.1          # Kick impulse must exceed bass impulse by this factor (>1.0)
flux_weight: 0.6        # Convex weight on flux in the flux policy scalar
adaptive_offset: 0.5    # Base threshold offset above the rolling mean (flux policy)
adaptive_noisy_offset: 0.25  # Offset used when variance exceeds the tolerance
variance_tolerance: 0.005    # Rolling-variance level separating calm from noisy

# Timing
lookahead_ms: 90        # Delay between detection and event release
refractory_ms: 180      # Hard minimum interval between detections
tick_ms: 16             # Scheduling period for detect+drain (~display refresh)

# Session
ready_polls: 50         # Bounded readiness wait: number of polls before giving up
ready_poll_ms: 100      # Sleep between readiness polls

# Output
debug: false            # Enable per-tick diagnostics
`
)

// Settings holds all application configuration
type Settings struct {
	// Audio input settings
	DeviceIndex   int     `mapstructure:"device_index"`
	SampleRate    float64 `mapstructure:"sample_rate"`
	Channels      int     `mapstructure:"channels"`
	TransformSize int     `mapstructure:"transform_size"`
	Smoothing     float64 `mapstructure:"smoothing"`
	InputFile     string  `mapstructure:"input_file"`

	// Frequency bands
	KickMinHz float64 `mapstructure:"kick_min_hz"`
	KickMaxHz float64 `mapstructure:"kick_max_hz"`
	BassMinHz float64 `mapstructure:"bass_min_hz"`
	BassMaxHz float64 `mapstructure:"bass_max_hz"`
	FluxMaxHz float64 `mapstructure:"flux_max_hz"`

	// Detection
	Policy              string  `mapstructure:"policy"`
	HistorySize         int     `mapstructure:"history_size"`
	ThresholdFloor      float64 `mapstructure:"threshold_floor"`
	ThresholdMultiplier float64 `mapstructure:"threshold_multiplier"`
	Dominance           float64 `mapstructure:"dominance"`
	FluxWeight          float64 `mapstructure:"flux_weight"`
	AdaptiveOffset      float64 `mapstructure:"adaptive_offset"`
	AdaptiveNoisyOffset float64 `mapstructure:"adaptive_noisy_offset"`
	VarianceTolerance   float64 `mapstructure:"variance_tolerance"`

	// Timing
	LookaheadMs  int `mapstructure:"lookahead_ms"`
	RefractoryMs int `mapstructure:"refractory_ms"`
	TickMs       int `mapstructure:"tick_ms"`

	// Session
	ReadyPolls  int `mapstructure:"ready_polls"`
	ReadyPollMs int `mapstructure:"ready_poll_ms"`

	// Output
	Debug bool `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/beatdetect/
func Init() error {
	// Set defaults
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 44100)
	viper.SetDefault("channels", 1)
	viper.SetDefault("transform_size", 2048)
	viper.SetDefault("smoothing", 0.5)
	viper.SetDefault("input_file", "")
	viper.SetDefault("kick_min_hz", 40)
	viper.SetDefault("kick_max_hz", 120)
	viper.SetDefault("bass_min_hz", 120)
	viper.SetDefault("bass_max_hz", 300)
	viper.SetDefault("flux_max_hz", 4000)
	viper.SetDefault("policy", "impulse")
	viper.SetDefault("history_size", 43)
	viper.SetDefault("threshold_floor", 0.18)
	viper.SetDefault("threshold_multiplier", 1.5)
	viper.SetDefault("dominance", 1.1)
	viper.SetDefault("flux_weight", 0.6)
	viper.SetDefault("adaptive_offset", 0.5)
	viper.SetDefault("adaptive_noisy_offset", 0.25)
	viper.SetDefault("variance_tolerance", 0.005)
	viper.SetDefault("lookahead_ms", 90)
	viper.SetDefault("refractory_ms", 180)
	viper.SetDefault("tick_ms", 16)
	viper.SetDefault("ready_polls", 50)
	viper.SetDefault("ready_poll_ms", 100)
	viper.SetDefault("debug", false)

	// Support both config.yaml and .config.yaml
	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		// Try config.yaml as fallback
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	// Read config file - if not found, create default in XDG config dir
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config found - create default in ~/.config/beatdetect/
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			// Read the newly created config
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Audio input settings
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %v", s.SampleRate))
	}
	if s.Channels < 1 || s.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels must be 1 or 2, got %d", s.Channels))
	}
	if s.TransformSize < 256 || s.TransformSize > 16384 {
		errs = append(errs, fmt.Errorf("transform_size must be between 256 and 16384, got %d", s.TransformSize))
	}
	if s.TransformSize&(s.TransformSize-1) != 0 {
		errs = append(errs, fmt.Errorf("transform_size must be a power of 2, got %d", s.TransformSize))
	}
	if s.Smoothing < 0 || s.Smoothing >= 1 {
		errs = append(errs, fmt.Errorf("smoothing must be between 0.0 and 0.99, got %v", s.Smoothing))
	}

	// Frequency bands
	if s.KickMinHz < 0 || s.KickMinHz >= s.KickMaxHz {
		errs = append(errs, fmt.Errorf("kick band must satisfy 0 <= min < max, got [%v, %v]", s.KickMinHz, s.KickMaxHz))
	}
	if s.BassMinHz < 0 || s.BassMinHz >= s.BassMaxHz {
		errs = append(errs, fmt.Errorf("bass band must satisfy 0 <= min < max, got [%v, %v]", s.BassMinHz, s.BassMaxHz))
	}
	if s.FluxMaxHz <= 0 {
		errs = append(errs, fmt.Errorf("flux_max_hz must be positive, got %v", s.FluxMaxHz))
	}

	// Detection
	if s.Policy != "impulse" && s.Policy != "flux" {
		errs = append(errs, fmt.Errorf("policy must be impulse or flux, got %q", s.Policy))
	}
	if s.HistorySize < 1 || s.HistorySize > 256 {
		errs = append(errs, fmt.Errorf("history_size must be between 1 and 256, got %d", s.HistorySize))
	}
	if s.ThresholdFloor < 0 || s.ThresholdFloor > 1 {
		errs = append(errs, fmt.Errorf("threshold_floor must be between 0.0 and 1.0, got %v", s.ThresholdFloor))
	}
	if s.ThresholdMultiplier < 1 {
		errs = append(errs, fmt.Errorf("threshold_multiplier must be >= 1.0, got %v", s.ThresholdMultiplier))
	}
	if s.Dominance <= 1 {
		errs = append(errs, fmt.Errorf("dominance must be > 1.0, got %v", s.Dominance))
	}
	if s.FluxWeight < 0 || s.FluxWeight > 1 {
		errs = append(errs, fmt.Errorf("flux_weight must be between 0.0 and 1.0, got %v", s.FluxWeight))
	}
	if s.AdaptiveOffset < 0 || s.AdaptiveNoisyOffset < 0 || s.AdaptiveNoisyOffset > s.AdaptiveOffset {
		errs = append(errs, fmt.Errorf("adaptive offsets must satisfy 0 <= noisy <= base, got base %v noisy %v", s.AdaptiveOffset, s.AdaptiveNoisyOffset))
	}
	if s.VarianceTolerance <= 0 {
		errs = append(errs, fmt.Errorf("variance_tolerance must be positive, got %v", s.VarianceTolerance))
	}

	// Timing
	if s.LookaheadMs < 0 || s.LookaheadMs > 2000 {
		errs = append(errs, fmt.Errorf("lookahead_ms must be between 0 and 2000, got %d", s.LookaheadMs))
	}
	if s.RefractoryMs < 1 || s.RefractoryMs > 5000 {
		errs = append(errs, fmt.Errorf("refractory_ms must be between 1 and 5000, got %d", s.RefractoryMs))
	}
	if s.TickMs < 1 || s.TickMs > 1000 {
		errs = append(errs, fmt.Errorf("tick_ms must be between 1 and 1000, got %d", s.TickMs))
	}

	// Session
	if s.ReadyPolls < 1 {
		errs = append(errs, fmt.Errorf("ready_polls must be positive, got %d", s.ReadyPolls))
	}
	if s.ReadyPollMs < 1 {
		errs = append(errs, fmt.Errorf("ready_poll_ms must be positive, got %d", s.ReadyPollMs))
	}

	// Nyquist check: every band of interest must fit below half the sample rate
	nyquist := s.SampleRate / 2
	if s.KickMaxHz >= nyquist || s.BassMaxHz >= nyquist || s.FluxMaxHz >= nyquist {
		errs = append(errs, fmt.Errorf("band edges must be below the Nyquist frequency (%v Hz)", nyquist))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
