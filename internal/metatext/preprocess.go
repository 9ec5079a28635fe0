package metatext

import "strings"

// knownKeys is the set of string-valued keys whose values are known to
// carry apostrophes, embedded quotes, or leading commas that break naive
// YAML quoting. See:
// https://forums.iracing.com/discussion/comment/374646#Comment_374646
var knownKeys = []string{
	"AbbrevName:",
	"TeamName:",
	"UserName:",
	"Initials:",
	"DriverSetupName:",
	"CarDesignStr:",
}

// Preprocess cleans the simulator's non-standard metadata text: it strips
// control characters (everything below 0x20 except \n, \r, \t) and, for
// each line whose first matching known key's value is not already quoted,
// rewrites that value as a single-quoted string with doubled apostrophes.
// Preprocess is idempotent: Preprocess(Preprocess(x)) == Preprocess(x) for
// any x.
func Preprocess(text string) string {
	cleaned := stripControlChars(text)
	if strings.TrimSpace(cleaned) == "" {
		return cleaned
	}

	lines := strings.Split(cleaned, "\n")
	for i, line := range lines {
		lines[i] = quoteKnownKeyValue(line)
	}
	return strings.Join(lines, "\n")
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// quoteKnownKeyValue rewrites the value on line if line contains one of
// knownKeys and the value isn't already quoted. Only the first key of
// knownKeys found in the line is considered.
func quoteKnownKeyValue(line string) string {
	for _, key := range knownKeys {
		colonPos := strings.Index(line, key)
		if colonPos < 0 {
			continue
		}
		afterColon := colonPos + len(key)
		rest := line[afterColon:]

		valueStart := -1
		for i, r := range rest {
			if r != ' ' && r != '\t' {
				valueStart = i
				break
			}
		}
		if valueStart < 0 {
			break
		}

		actualValueStart := afterColon + valueStart
		value := strings.TrimSpace(line[actualValueStart:])
		if value == "" || strings.HasPrefix(value, "'") || strings.HasPrefix(value, "\"") {
			break
		}

		escaped := strings.ReplaceAll(value, "'", "''")
		return line[:afterColon] + line[afterColon:actualValueStart] + " '" + escaped + "'"
	}
	return line
}
