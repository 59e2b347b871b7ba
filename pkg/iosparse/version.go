package iosparse

import (
	"regexp"
	"strconv"
	"strings"
)

// VersionInfo is what can be recovered from `show version`. Fields that
// were not found stay empty.
type VersionInfo struct {
	IOSLine   string `json:"ios_line,omitempty"`
	Version   string `json:"ios_version,omitempty"`
	ModelLine string `json:"model_line,omitempty"`
	Model     string `json:"model,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
}

var (
	versionRe  = regexp.MustCompile(`Version\s+(\S+)`)
	modelRe    = regexp.MustCompile(`^[Cc]isco\s+(\S+)`)
	hostnameRe = regexp.MustCompile(`^(\S+)\s+uptime is`)
)

// ParseShowVersion extracts software version, hostname and model
func ParseShowVersion(output string) VersionInfo {
	var info VersionInfo
	for _, line := range splitLines(output) {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}

		if info.IOSLine == "" && (strings.Contains(s, "Cisco IOS Software") || strings.Contains(s, "IOS (tm)")) {
			info.IOSLine = s
			if m := versionRe.FindStringSubmatch(s); m != nil {
				info.Version = strings.TrimRight(m[1], ",")
			}
		}

		lower := strings.ToLower(s)
		if strings.HasPrefix(lower, "cisco") && (strings.Contains(lower, "processor") || strings.Contains(lower, "bytes of memory")) {
			info.ModelLine = s
			if m := modelRe.FindStringSubmatch(s); m != nil {
				info.Model = m[1]
			}
		}

		if m := hostnameRe.FindStringSubmatch(s); m != nil {
			info.Hostname = m[1]
		}
	}
	return info
}

// IsZero reports whether nothing was recognised
func (v VersionInfo) IsZero() bool {
	return v == VersionInfo{}
}

var (
	serviceKVRe     = regexp.MustCompile(`^([\w\s\-]+?)\s*[:=]\s*(.+)$`)
	maxEphonesRe    = regexp.MustCompile(`(?i)^max-ephones\s+(\d+)`)
	maxDNRe         = regexp.MustCompile(`(?i)^max-dn\s+(\d+)`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
)

// ParseTelephonyService flattens `show telephony-service` into a map.
// "key: value" and "key = value" lines become string entries with
// snake_cased keys; max-ephones and max-dn become ints under max_ephones
// and max_dn. Anything else is ignored.
func ParseTelephonyService(output string) map[string]interface{} {
	data := make(map[string]interface{})
	for _, line := range splitLines(output) {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}

		if m := serviceKVRe.FindStringSubmatch(s); m != nil {
			key := whitespaceRunRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(m[1])), "_")
			data[key] = strings.TrimSpace(m[2])
		}
		if m := maxEphonesRe.FindStringSubmatch(s); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				data["max_ephones"] = n
			}
		}
		if m := maxDNRe.FindStringSubmatch(s); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				data["max_dn"] = n
			}
		}
	}
	return data
}
