package enums

import (
	"fmt"
	"strings"
)

// Platform maps to the platform enum in Postgres.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
)

var validPlatforms = []Platform{
	PlatformYouTube,
	PlatformTikTok,
	PlatformInstagram,
}

// Platforms returns every supported platform in a stable order.
func Platforms() []Platform {
	out := make([]Platform, len(validPlatforms))
	copy(out, validPlatforms)
	return out
}

func (p Platform) String() string {
	return string(p)
}

// IsValid reports whether the value matches the canonical platform enum.
func (p Platform) IsValid() bool {
	for _, candidate := range validPlatforms {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlatform converts raw input into Platform. Matching ignores case and surrounding spaces.
func ParsePlatform(value string) (Platform, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPlatforms {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid platform %q", value)
}
