// Package auth generates the gateway's API keys
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Word lists keep generated keys readable; the random hex part carries the entropy
var (
	keyPrefixes = []string{"flip", "turn", "spin", "tilt"}

	keyWords = []string{
		"amber", "azure", "blurry", "bold", "bright", "cobalt", "crisp", "dim",
		"faded", "glossy", "grainy", "hazy", "inky", "matte", "misty", "muted",
		"pastel", "pixel", "raw", "sepia", "sharp", "silver", "soft", "tinted",
		"vivid", "warm", "cool", "deep", "pale", "gilded", "dusky", "lucid",
	}

	keyNouns = []string{
		"aperture", "canvas", "crop", "exposure", "frame", "gallery", "glyph", "grain",
		"histogram", "lens", "mosaic", "negative", "palette", "panorama", "photo", "pixel",
		"portrait", "prism", "raster", "shutter", "sketch", "sprite", "still", "swatch",
		"texture", "thumbnail", "tile", "vignette", "viewfinder", "polaroid", "slide", "print",
	}

	keyHexPattern = regexp.MustCompile(`^[A-F0-9]{24}$`)
)

// GenerateAPIKey returns a key of the form {prefix}-{word}-{noun}-{word}-{24 hex}
func GenerateAPIKey() (string, error) {
	picks := make([]byte, 4)
	if _, err := rand.Read(picks); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	secret := make([]byte, 12)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate key secret: %w", err)
	}

	return strings.Join([]string{
		keyPrefixes[int(picks[0])%len(keyPrefixes)],
		keyWords[int(picks[1])%len(keyWords)],
		keyNouns[int(picks[2])%len(keyNouns)],
		keyWords[int(picks[3])%len(keyWords)],
		strings.ToUpper(hex.EncodeToString(secret)),
	}, "-"), nil
}

// ValidateAPIKeyFormat reports whether apiKey has the shape GenerateAPIKey produces
func ValidateAPIKeyFormat(apiKey string) bool {
	parts := strings.Split(apiKey, "-")
	if len(parts) != 5 {
		return false
	}

	return slices.Contains(keyPrefixes, parts[0]) &&
		slices.Contains(keyWords, parts[1]) &&
		slices.Contains(keyNouns, parts[2]) &&
		slices.Contains(keyWords, parts[3]) &&
		keyHexPattern.MatchString(parts[4])
}
