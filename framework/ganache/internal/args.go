package internal

import (
	"regexp"
	"strconv"
	"strings"
)

// Redacted replaces secret argument values in logged command lines.
const Redacted = "<redacted>"

// secretFlags are flags whose values must never be logged.
var secretFlags = map[string]bool{
	"wallet.mnemonic": true,
	"wallet.seed":     true,
}

// RedactArgs returns a copy of args with the values of secret flags replaced by Redacted.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	redactNext := false
	for i, arg := range args {
		key, _, isFlag, hasValue := splitFlag(arg)
		switch {
		case isFlag && secretFlags[key] && hasValue:
			out[i] = arg[:strings.Index(arg, "=")+1] + Redacted
			redactNext = false
		case isFlag:
			out[i] = arg
			redactNext = secretFlags[key]
		case redactNext:
			out[i] = Redacted
			redactNext = false
		default:
			out[i] = arg
		}
	}
	return out
}

// JoinArgs renders args as a single shell-like string, quoting arguments that contain spaces.
func JoinArgs(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			parts[i] = strconv.Quote(a)
			continue
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

// splitFlag removes the leading dashes from arg and splits it into key and value at the first "=".
// Negative numbers are not treated as flags.
func splitFlag(arg string) (key, value string, isFlag, hasValue bool) {
	var trimmed string
	switch {
	case strings.HasPrefix(arg, "--"):
		trimmed = strings.TrimPrefix(arg, "--")
	case strings.HasPrefix(arg, "-") && len(arg) > 1 && !isNumber(arg[1:]):
		trimmed = strings.TrimPrefix(arg, "-")
	default:
		return "", "", false, false
	}
	if k, v, ok := strings.Cut(trimmed, "="); ok {
		return k, v, true, true
	}
	return trimmed, "", true, false
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// CondenseHostName truncates the middle of the given name
// if it is 64 characters or longer.
//
// Docker rejects longer container hostnames with "sethostname: invalid argument".
func CondenseHostName(name string) string {
	if len(name) < 64 {
		return name
	}
	return name[:30] + "_._" + name[len(name)-30:]
}

var validContainerCharsRE = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// SanitizeDockerResourceName returns name with any
// invalid characters replaced with underscores.
func SanitizeDockerResourceName(name string) string {
	return validContainerCharsRE.ReplaceAllLiteralString(name, "_")
}
