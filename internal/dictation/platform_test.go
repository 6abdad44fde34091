package dictation

import (
	"testing"
	"time"

	"github.com/lexiqai/dictation-gateway/internal/config"
)

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		expected  Platform
	}{
		{
			"iPhone Safari",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
			PlatformIOS,
		},
		{
			"iPad Chrome",
			"Mozilla/5.0 (iPad; CPU OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/123.0 Mobile/15E148 Safari/604.1",
			PlatformIOS,
		},
		{
			"Android Chrome",
			"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0 Mobile Safari/537.36",
			PlatformAndroid,
		},
		{
			"macOS Safari",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
			PlatformSafari,
		},
		{
			"macOS Chrome",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0 Safari/537.36",
			PlatformDesktop,
		},
		{
			"Windows Edge",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0 Safari/537.36 Edg/123.0",
			PlatformDesktop,
		},
		{
			"Firefox",
			"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
			PlatformDesktop,
		},
		{"empty", "", PlatformDesktop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectPlatform(tt.userAgent); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestDefaultProfile(t *testing.T) {
	android := DefaultProfile(PlatformAndroid)
	desktop := DefaultProfile(PlatformDesktop)

	if !android.LoopProne || desktop.LoopProne {
		t.Error("Expected only mobile and Safari profiles to be loop-prone")
	}
	if android.MaxAttempts >= desktop.MaxAttempts {
		t.Errorf("Expected Android to allow fewer attempts than desktop, got %d vs %d", android.MaxAttempts, desktop.MaxAttempts)
	}
	if android.RapidEndThreshold <= desktop.RapidEndThreshold {
		t.Error("Expected Android to use a stricter rapid-end threshold")
	}
	if !DefaultProfile(PlatformIOS).RequiresPermissionPrompt {
		t.Error("Expected iOS to require a permission prompt")
	}
	if DefaultProfile(PlatformSafari).RequiresPermissionPrompt {
		t.Error("Expected desktop Safari not to require a permission prompt")
	}
	if got := DefaultProfile(Platform("unknown")).Platform; got != PlatformDesktop {
		t.Errorf("Expected unknown platforms to fall back to desktop, got %s", got)
	}
}

func TestProfileFor_Overrides(t *testing.T) {
	profiles, err := config.ParseProfiles([]byte(`
profiles:
  android:
    base_delay_ms: 500
    max_attempts: 6
`))
	if err != nil {
		t.Fatalf("ParseProfiles failed: %v", err)
	}

	android := ProfileFor(PlatformAndroid, profiles)
	if android.BaseDelay != 500*time.Millisecond {
		t.Errorf("Expected base delay 500ms, got %v", android.BaseDelay)
	}
	if android.MaxAttempts != 6 {
		t.Errorf("Expected max attempts 6, got %d", android.MaxAttempts)
	}
	if android.MaxDelay != 8*time.Second {
		t.Errorf("Expected default max delay to be kept, got %v", android.MaxDelay)
	}

	if got := ProfileFor(PlatformDesktop, profiles); got != DefaultProfile(PlatformDesktop) {
		t.Errorf("Expected desktop profile to be unchanged, got %+v", got)
	}
	if got := ProfileFor(PlatformIOS, nil); got != DefaultProfile(PlatformIOS) {
		t.Errorf("Expected nil overrides to keep defaults, got %+v", got)
	}
}

func TestProfile_WithOverrideClampsMaxDelay(t *testing.T) {
	p := DefaultProfile(PlatformDesktop).WithOverride(config.ProfileOverride{BaseDelayMs: 5000})
	if p.MaxDelay != p.BaseDelay {
		t.Errorf("Expected max delay to be raised to the base delay, got %v < %v", p.MaxDelay, p.BaseDelay)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		DeepgramLanguage:          "en-GB",
		DictationSilenceMs:        1200,
		DictationFallbackMs:       9000,
		DictationSettleMs:         100,
		DictationTransientRetryMs: 700,
		DictationContinuous:       true,
		AudioBufferSize:           32000,
	}

	opts := OptionsFromConfig(cfg, PlatformSafari)

	if opts.Profile.Platform != PlatformSafari {
		t.Errorf("Expected safari profile, got %s", opts.Profile.Platform)
	}
	if opts.Locale != "en-GB" || !opts.Continuous || opts.PrerollBytes != 32000 {
		t.Errorf("Unexpected options: %+v", opts)
	}
	if opts.SilenceTimeout != 1200*time.Millisecond || opts.FallbackTimeout != 9*time.Second {
		t.Errorf("Unexpected timers: silence %v, fallback %v", opts.SilenceTimeout, opts.FallbackTimeout)
	}
	if opts.SettleDelay != 100*time.Millisecond || opts.TransientRetryDelay != 700*time.Millisecond {
		t.Errorf("Unexpected delays: settle %v, retry %v", opts.SettleDelay, opts.TransientRetryDelay)
	}
}
