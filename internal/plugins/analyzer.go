package plugins

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// crashNamespace scopes content-derived crash uuids.
var crashNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://example.org/crashd/crash"))

// contentUUID hashes the identifying parts of a crash into a stable uuid.
func contentUUID(parts ...string) string {
	return uuid.NewSHA1(crashNamespace, []byte(strings.Join(parts, "\x00"))).String()
}

const maxFrames = 5

var gdbFrame = regexp.MustCompile(`^#\d+\s+(?:0x[0-9a-f]+\s+in\s+)?([^\s(]+)`)

// nativeFrames returns up to maxFrames function names from a gdb backtrace,
// skipping unresolved "??" frames.
func nativeFrames(backtrace string) []string {
	var frames []string
	for _, line := range strings.Split(backtrace, "\n") {
		m := gdbFrame.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || m[1] == "??" {
			continue
		}
		frames = append(frames, m[1])
		if len(frames) == maxFrames {
			break
		}
	}
	return frames
}
