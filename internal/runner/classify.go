package runner

import (
	"regexp"
	"strings"
)

// errorPhrases is the vendor error vocabulary scanned for in command output.
// The list cannot be exhaustive and legitimate output containing words like
// "error" as data will false-positive; DeviceError is a best-effort
// reporting signal, not a hard failure.
var errorPhrases = []string{
	"% invalid input detected",
	"invalid command",
	"-ash: invalid",
	"not found",
	"% error",
	"syntax error",
	"unknown command",
	"incomplete command",
	"ambiguous command",
	"% unknown command",
	"% incomplete command",
	"% ambiguous command",
}

// promptStripPatterns remove trailing prompt echoes the transport layer did
// not already strip, covering the common vendor prompt styles.
var promptStripPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[\r\n]+[\w\-.]+[#>][ \t]*$`),                      // Cisco/Linux style
	regexp.MustCompile(`[\r\n]+\S+@\S+:[~\w\d/\-.]+[#$][ \t]*$`),          // user@host:path$
	regexp.MustCompile(`[\r\n]+<[\w\-.]+>[ \t]*$`),                        // Juniper/XML style
	regexp.MustCompile(`[\r\n]+\[[\w\-.]+\][#>][ \t]*$`),                  // bracket style
	regexp.MustCompile(`[\r\n]+[\w\-.]+\(config[\w\-.]*\)#[ \t]*$`),       // Cisco config mode
	regexp.MustCompile(`[\r\n]+[\w\-.]+\([\w\-.]+\)#[ \t]*$`),             // general context mode
}

// StripPrompts removes known prompt echoes from the tail of command output.
func StripPrompts(output string) string {
	for _, re := range promptStripPatterns {
		output = re.ReplaceAllString(output, "")
	}
	return output
}

// IsDeviceError reports whether command output indicates the device rejected
// the command. It scans line by line for the vendor error vocabulary, and
// treats suspiciously short output containing an error marker as a rejection
// as well.
func IsDeviceError(output string) bool {
	lines := strings.Split(strings.ToLower(output), "\n")

	for _, line := range lines {
		for _, phrase := range errorPhrases {
			if strings.Contains(line, phrase) {
				return true
			}
		}
	}

	if len(lines) <= 2 && strings.TrimSpace(output) != "" {
		for _, line := range lines {
			if hasErrorMarker(line) {
				return true
			}
		}
	}
	return false
}

func hasErrorMarker(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "%") || strings.Contains(line, "error")
}
