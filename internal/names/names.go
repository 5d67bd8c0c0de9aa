// Package names generates friendly session names and validates the session
// and branch naming grammars that the rest of para enforces at every
// boundary where a user-supplied or generated name crosses into git.
package names

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

var adjectives = []string{
	"agile", "bold", "calm", "deep", "eager", "fast", "keen", "neat", "quick", "smart",
	"swift", "wise", "zesty", "bright", "clever", "dynamic", "elegant", "fresh", "gentle", "happy",
	"intense", "jovial", "lively", "modern", "nimble", "optimistic", "polished", "quiet", "robust", "sleek",
	"tender", "unique", "vibrant", "warm", "xenial", "youthful", "zealous", "active", "brave", "crisp",
	"daring", "epic", "fluid", "golden", "heroic", "ideal", "jazzy", "kinetic", "lucid", "magical",
	"noble", "organic", "perfect", "radiant", "serene", "timeless", "unstoppable", "vivid", "wonderful", "excellent",
	"young",
}

var nouns = []string{
	"alpha", "beta", "gamma", "delta", "omega", "sigma", "theta", "lambda", "aurora", "cosmos",
	"nebula", "quasar", "pulsar", "galaxy", "comet", "meteor", "planet", "stellar", "lunar", "solar",
	"crystal", "diamond", "emerald", "sapphire", "ruby", "amber", "pearl", "coral", "jade", "opal",
	"topaz", "obsidian", "granite", "marble", "bronze", "silver", "platinum", "titanium", "cobalt", "copper",
	"iron", "steel", "carbon", "helium", "neon", "argon", "xenon", "radon", "krypton", "mercury",
	"phoenix", "dragon", "falcon", "eagle", "hawk", "raven", "dove", "swan", "crane", "heron",
	"owl", "robin", "sparrow", "wren", "oak", "pine", "maple", "birch", "cedar", "willow",
	"elm", "ash", "palm", "bamboo", "fern", "moss", "ivy", "vine", "rose", "lily",
	"iris", "tulip", "daisy", "orchid", "lotus", "jasmine", "lavender", "mint", "sage", "basil",
	"thyme", "rosemary", "ginger", "cinnamon", "vanilla", "honey", "sugar", "spice", "pepper", "salt",
	"lemon", "lime", "orange", "apple", "cherry", "berry", "grape", "peach",
}

const maxUniqueAttempts = 50

var sessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*[a-zA-Z0-9]$`)

func randIndex(n int) int {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// fixed index rather than panicking a long-running daemon.
		return 0
	}
	return int(i.Int64())
}

// GenerateFriendlyName returns an "<adjective>_<noun>" name, e.g. "calm_oak".
func GenerateFriendlyName() string {
	return fmt.Sprintf("%s_%s", adjectives[randIndex(len(adjectives))], nouns[randIndex(len(nouns))])
}

// GenerateTimestamp returns the current UTC time as "YYYYMMDD-HHMMSS".
func GenerateTimestamp() string {
	return time.Now().UTC().Format("20060102-150405")
}

// GenerateBranchName returns "<prefix>/<timestamp>".
func GenerateBranchName(prefix string) string {
	return fmt.Sprintf("%s/%s", prefix, GenerateTimestamp())
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// GenerateUniqueName produces a name not present in existing, trying plain
// friendly names first, then numeric suffixes, then a timestamp suffix as a
// final, always-unique fallback.
func GenerateUniqueName(existing []string) string {
	for attempt := 0; attempt < maxUniqueAttempts; attempt++ {
		name := GenerateFriendlyName()
		if !contains(existing, name) {
			return name
		}
	}

	for suffix := 1; suffix < 100; suffix++ {
		candidate := fmt.Sprintf("%s_%d", GenerateFriendlyName(), suffix)
		if !contains(existing, candidate) {
			return candidate
		}
	}

	return fmt.Sprintf("%s_%s", GenerateFriendlyName(), GenerateTimestamp())
}

// ValidateSessionName enforces the session-name grammar: 1-100 characters,
// alphanumeric start/end, interior letters/digits/hyphen/underscore only, no
// leading/trailing hyphen or underscore, no consecutive "--" or "__".
func ValidateSessionName(name string) error {
	if name == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("session name cannot be longer than 100 characters")
	}

	if len(name) == 1 {
		c := name[0]
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum {
			return fmt.Errorf("single character session name must be alphanumeric")
		}
	} else if !sessionNameRe.MatchString(name) {
		return fmt.Errorf("session name must start and end with alphanumeric characters and contain only letters, numbers, hyphens, and underscores")
	}

	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return fmt.Errorf("session name cannot start or end with a hyphen")
	}
	if strings.HasPrefix(name, "_") || strings.HasSuffix(name, "_") {
		return fmt.Errorf("session name cannot start or end with an underscore")
	}
	if strings.Contains(name, "__") || strings.Contains(name, "--") {
		return fmt.Errorf("session name cannot contain consecutive underscores or hyphens")
	}

	return nil
}

var branchInvalidChars = []rune{'~', '^', ':', '?', '*', '[', ']', '\\', ' ', '\t', '\n', '\r', '@', '{', '}'}

// ValidateBranchName enforces the branch-name grammar git itself layers on
// top of: ≤250 chars, no leading/trailing hyphen or dot, no "..", no "//",
// none of the characters git's own refname rules forbid, and never the bare
// string "@".
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if len(name) > 250 {
		return fmt.Errorf("branch name cannot be longer than 250 characters")
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return fmt.Errorf("branch name cannot start or end with a hyphen")
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("branch name cannot start or end with a dot")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("branch name cannot contain consecutive dots")
	}
	if strings.Contains(name, "//") {
		return fmt.Errorf("branch name cannot contain consecutive slashes")
	}
	for _, c := range branchInvalidChars {
		if strings.ContainsRune(name, c) {
			return fmt.Errorf("branch name cannot contain character: %q", c)
		}
	}
	if name == "@" {
		return fmt.Errorf("branch name cannot be '@'")
	}
	if strings.HasPrefix(name, "refs/") {
		return fmt.Errorf("branch name cannot start with 'refs/'")
	}
	return nil
}

// SanitizeBranchName coerces an arbitrary string into something that will
// pass ValidateBranchName: whitespace becomes "-", git-forbidden characters
// and "/" are dropped, ".." is removed, runs of "-" are collapsed to one, and
// leading/trailing "-"/"." are trimmed. Falls back to "branch" if nothing
// survives.
func SanitizeBranchName(name string) string {
	r := name
	r = strings.ReplaceAll(r, " ", "-")
	r = strings.ReplaceAll(r, "\t", "-")
	r = strings.ReplaceAll(r, "\n", "-")
	r = strings.ReplaceAll(r, "\r", "")

	for _, c := range []string{"~", "^", ":", "?", "*", "[", "]", "\\", "/", "@", "{", "}"} {
		r = strings.ReplaceAll(r, c, "")
	}

	r = strings.ReplaceAll(r, "..", "")

	for strings.Contains(r, "--") {
		r = strings.ReplaceAll(r, "--", "-")
	}

	r = strings.Trim(r, "-")
	r = strings.Trim(r, ".")

	if r == "" {
		r = "branch"
	}
	return r
}

// SanitizeCommitMessage trims trailing whitespace from each line and drops
// trailing blank lines, preserving the order of what remains. It is
// idempotent: sanitizing an already-sanitized message returns it unchanged.
func SanitizeCommitMessage(message string) string {
	lines := strings.Split(message, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// ExtractSessionNameFromBranch returns the session name encoded in a
// "<prefix>/<name>" branch, or ok=false if branch doesn't start with
// prefix+"/".
func ExtractSessionNameFromBranch(branch, prefix string) (string, bool) {
	p := prefix + "/"
	if strings.HasPrefix(branch, p) {
		return strings.TrimPrefix(branch, p), true
	}
	return "", false
}
