package packages

import "strings"

// ShortName strips the version and release from a name-version-release string.
// "bash-5.2.15-3.fc39" yields "bash"; strings with fewer than three parts are
// returned unchanged.
func ShortName(nvr string) string {
	nvr = strings.TrimSpace(nvr)
	rel := strings.LastIndexByte(nvr, '-')
	if rel <= 0 {
		return nvr
	}
	ver := strings.LastIndexByte(nvr[:rel], '-')
	if ver <= 0 {
		return nvr
	}
	return nvr[:ver]
}

// ComponentFromSourceRPM maps "glibc-2.38-1.fc39.src.rpm" to "glibc".
func ComponentFromSourceRPM(srpm string) string {
	srpm = strings.TrimSpace(srpm)
	srpm = strings.TrimSuffix(srpm, ".rpm")
	srpm = strings.TrimSuffix(srpm, ".src")
	srpm = strings.TrimSuffix(srpm, ".nosrc")
	return ShortName(srpm)
}
