package fetcher

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Flags that would let configured extra args redirect output or run commands.
var blockedFlags = map[string]bool{
	"-o":                     true,
	"--output":               true,
	"-P":                     true,
	"--paths":                true,
	"--exec":                 true,
	"--exec-before-download": true,
	"--config-location":      true,
	"--config-locations":     true,
	"-a":                     true,
	"--batch-file":           true,
	"--load-info-json":       true,
}

// SplitArgs splits an argument string without involving a shell.
func SplitArgs(raw string) ([]string, error) {
	args, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid argument syntax: %w", err)
	}
	return args, nil
}

// ValidateArgs rejects shell metacharacters and flags that override where
// yt-dlp writes or what it executes.
func ValidateArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
		name := arg
		if i := strings.IndexByte(arg, '='); i > 0 && strings.HasPrefix(arg, "--") {
			name = arg[:i]
		}
		if blockedFlags[name] {
			return fmt.Errorf("argument not allowed: %s", name)
		}
	}
	return nil
}

// ParseExtraArgs splits and validates extra yt-dlp arguments from config.
func ParseExtraArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := SplitArgs(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}
