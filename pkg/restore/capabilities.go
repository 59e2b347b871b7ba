package restore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/zph/cmectl/pkg/iosparse"
	"github.com/zph/cmectl/pkg/logger"
	"github.com/zph/cmectl/pkg/transport"
)

// Shower runs exec-mode commands
type Shower interface {
	SendShow(ctx context.Context, command string) (transport.CommandResult, error)
}

// Feature keys in Capabilities.DetectedFeatures
const (
	FeatureConfigureReplace = "configure_replace"
	FeatureArchive          = "archive"
	FeatureFlash            = "flash_available"
	FeatureReplaceRelease   = "release_supports_replace"
)

// replaceConstraint is the first IOS release with `configure replace`, 12.3(7)T
const replaceConstraint = ">= 12.3.7"

// Capabilities is what the router offers for restore and rollback
type Capabilities struct {
	ConfigureReplaceAvailable bool            `json:"configure_replace_available"`
	ArchiveAvailable          bool            `json:"archive_available"`
	IOSVersion                string          `json:"ios_version"`
	Hostname                  string          `json:"hostname"`
	Model                     string          `json:"model"`
	DetectedFeatures          map[string]bool `json:"detected_features"`
}

// DetectCapabilities probes the router. Individual probe failures only
// mark that feature unavailable.
func DetectCapabilities(ctx context.Context, s Shower) Capabilities {
	caps := Capabilities{DetectedFeatures: make(map[string]bool)}

	if r, err := s.SendShow(ctx, "show version"); err != nil {
		logger.WithFields(logger.Fields{"error": err.Error()}).Warn("capabilities.version_failed")
	} else {
		info := iosparse.ParseShowVersion(r.Output)
		caps.IOSVersion = info.Version
		caps.Hostname = info.Hostname
		caps.Model = info.Model
		if caps.IOSVersion != "" {
			caps.DetectedFeatures[FeatureReplaceRelease] = ReleaseSupportsReplace(caps.IOSVersion)
		}
	}

	if r, err := s.SendShow(ctx, "configure replace ?"); err == nil {
		out := strings.ToLower(r.Output)
		caps.ConfigureReplaceAvailable = !strings.Contains(out, "invalid") && !strings.Contains(out, "unrecognized")
	}
	caps.DetectedFeatures[FeatureConfigureReplace] = caps.ConfigureReplaceAvailable

	if r, err := s.SendShow(ctx, "show archive"); err == nil {
		out := strings.ToLower(r.Output)
		caps.ArchiveAvailable = !strings.Contains(out, "invalid") && !strings.Contains(out, "not been configured")
	}
	caps.DetectedFeatures[FeatureArchive] = caps.ArchiveAvailable

	r, err := s.SendShow(ctx, "show flash: | include bytes")
	caps.DetectedFeatures[FeatureFlash] = err == nil && !r.Failed

	logger.WithFields(logger.Fields{"features": caps.DetectedFeatures}).Info("capabilities.detected")
	return caps
}

var iosTrainRe = regexp.MustCompile(`^(\d+)\.(\d+)(?:\((\d+)[a-z]?\))?`)

// ParseIOSVersion turns an IOS release string such as "15.1(4)M4" into a
// comparable version (15.1.4). The train letters are dropped.
func ParseIOSVersion(s string) (*version.Version, error) {
	m := iosTrainRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, fmt.Errorf("unrecognised IOS version %q", s)
	}
	v := m[1] + "." + m[2]
	if m[3] != "" {
		v += "." + m[3]
	}
	return version.NewVersion(v)
}

// ReleaseSupportsReplace reports whether the IOS release is new enough for
// `configure replace`. Unparseable versions report false.
func ReleaseSupportsReplace(iosVersion string) bool {
	v, err := ParseIOSVersion(iosVersion)
	if err != nil {
		return false
	}
	constraint, err := version.NewConstraint(replaceConstraint)
	if err != nil {
		return false
	}
	return constraint.Check(v)
}
