package dictation

import (
	"strings"
	"time"

	"github.com/lexiqai/dictation-gateway/internal/config"
)

// Platform is the client family, sniffed once from the User-Agent
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformSafari  Platform = "safari"
	PlatformDesktop Platform = "desktop"
)

// DetectPlatform classifies a User-Agent string. Every iOS browser is WebKit
// underneath, so iOS wins over the browser brand.
func DetectPlatform(userAgent string) Platform {
	ua := strings.ToLower(userAgent)

	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return PlatformIOS
	case strings.Contains(ua, "android"):
		return PlatformAndroid
	case strings.Contains(ua, "safari") &&
		!strings.Contains(ua, "chrome") &&
		!strings.Contains(ua, "chromium") &&
		!strings.Contains(ua, "edg"):
		return PlatformSafari
	default:
		return PlatformDesktop
	}
}

// Profile holds the restart heuristics for one platform
type Profile struct {
	Platform          Platform
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RapidEndThreshold time.Duration
	MaxAttempts       int

	// LoopProne platforms end sessions spuriously and get one transient retry
	LoopProne bool

	// RequiresPermissionPrompt platforms must ask for the microphone before
	// the first session starts
	RequiresPermissionPrompt bool
}

// DefaultProfile returns the built-in profile for p
func DefaultProfile(p Platform) Profile {
	switch p {
	case PlatformAndroid, PlatformIOS, PlatformSafari:
		return Profile{
			Platform:                 p,
			BaseDelay:                1000 * time.Millisecond,
			MaxDelay:                 8000 * time.Millisecond,
			RapidEndThreshold:        2000 * time.Millisecond,
			MaxAttempts:              3,
			LoopProne:                true,
			RequiresPermissionPrompt: p == PlatformIOS,
		}
	default:
		return Profile{
			Platform:          PlatformDesktop,
			BaseDelay:         250 * time.Millisecond,
			MaxDelay:          3000 * time.Millisecond,
			RapidEndThreshold: 1000 * time.Millisecond,
			MaxAttempts:       5,
		}
	}
}

// WithOverride applies the non-zero fields of o
func (p Profile) WithOverride(o config.ProfileOverride) Profile {
	if o.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(o.BaseDelayMs) * time.Millisecond
	}
	if o.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(o.MaxDelayMs) * time.Millisecond
	}
	if o.RapidEndThresholdMs > 0 {
		p.RapidEndThreshold = time.Duration(o.RapidEndThresholdMs) * time.Millisecond
	}
	if o.MaxAttempts > 0 {
		p.MaxAttempts = o.MaxAttempts
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// ProfileFor returns the default profile for p with any file overrides applied
func ProfileFor(p Platform, profiles *config.ProfilesFile) Profile {
	profile := DefaultProfile(p)
	if o, ok := profiles.Override(string(p)); ok {
		profile = profile.WithOverride(o)
	}
	return profile
}
