// Package cme reads phones, directory numbers and configuration sections
// from the router. Every command goes through the exec filter first.
package cme

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zph/cmectl/pkg/filter"
	"github.com/zph/cmectl/pkg/iosparse"
	"github.com/zph/cmectl/pkg/transport"
)

// ErrDenied is returned when the filter refuses an exec command
var ErrDenied = errors.New("command blocked by allowlist")

// Shower runs exec-mode commands
type Shower interface {
	SendShow(ctx context.Context, command string) (transport.CommandResult, error)
}

// Reader runs read-only lookups against the router
type Reader struct {
	session Shower
	filter  *filter.Filter
}

// NewReader wires a reader
func NewReader(session Shower, f *filter.Filter) *Reader {
	return &Reader{session: session, filter: f}
}

// Show runs one filtered exec command
func (r *Reader) Show(ctx context.Context, command string) (transport.CommandResult, error) {
	if v := r.filter.CheckExec(command); !v.Allowed {
		return transport.CommandResult{Command: command, Failed: true}, fmt.Errorf("%w: %s", ErrDenied, v.Reason)
	}
	return r.session.SendShow(ctx, command)
}

// Ephones lists phones from `show ephone summary`
func (r *Reader) Ephones(ctx context.Context) ([]iosparse.Ephone, string, error) {
	res, err := r.Show(ctx, "show ephone summary")
	if err != nil {
		return nil, "", err
	}
	return iosparse.ParseEphoneSummary(res.Output), res.Output, nil
}

// Ephone returns one phone's `show ephone` block, parsed. A phone that is
// not present yields an empty detail and block.
func (r *Reader) Ephone(ctx context.Context, id int) (iosparse.EphoneDetail, string, error) {
	res, err := r.Show(ctx, "show ephone")
	if err != nil {
		return iosparse.EphoneDetail{}, "", err
	}
	if res.Failed {
		return iosparse.EphoneDetail{}, "", fmt.Errorf("router command failed: %s", strings.TrimSpace(res.Output))
	}
	block := iosparse.ExtractEphoneBlock(res.Output, id)
	return iosparse.ParseEphoneDetail(block), block, nil
}

// DNs lists directory numbers. Some IOS trains answer `show ephone-dn
// summary` with a voice-port table; the running config is read instead.
func (r *Reader) DNs(ctx context.Context) ([]iosparse.DN, string, error) {
	res, err := r.Show(ctx, "show ephone-dn summary")
	if err != nil {
		return nil, "", err
	}
	if dns := iosparse.ParseDNSummary(res.Output); len(dns) > 0 {
		return dns, res.Output, nil
	}

	res, err = r.Show(ctx, "show running-config | section ephone-dn")
	if err != nil {
		return nil, "", err
	}
	return iosparse.ParseDNSummary(res.Output), res.Output, nil
}

// TelephonyService returns parsed `show telephony-service`
func (r *Reader) TelephonyService(ctx context.Context) (map[string]interface{}, string, error) {
	res, err := r.Show(ctx, "show telephony-service")
	if err != nil {
		return nil, "", err
	}
	return iosparse.ParseTelephonyService(res.Output), res.Output, nil
}

// Section returns `show running-config | section <anchor>`
func (r *Reader) Section(ctx context.Context, anchor string) (string, error) {
	anchor = strings.TrimSpace(anchor)
	if anchor == "" {
		return "", errors.New("section anchor is required")
	}
	res, err := r.Show(ctx, "show running-config | section "+anchor)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// EphoneConfig returns the "ephone N" config section and its parse; the
// parse is nil when the section is absent.
func (r *Reader) EphoneConfig(ctx context.Context, id int) (string, *iosparse.ConfigEphone, error) {
	res, err := r.Show(ctx, "show running-config | section ephone")
	if err != nil {
		return "", nil, err
	}
	section := iosparse.ExtractEphoneConfigSection(res.Output, id)
	if strings.TrimSpace(section) == "" {
		return section, nil, nil
	}
	parsed := iosparse.ParseConfigEphone(section)
	return section, &parsed, nil
}

// DNConfig returns the "ephone-dn N" config section and its parse
func (r *Reader) DNConfig(ctx context.Context, id int) (string, *iosparse.ConfigDN, error) {
	res, err := r.Show(ctx, "show running-config | section ephone")
	if err != nil {
		return "", nil, err
	}
	section := iosparse.ExtractEphoneDNConfigSection(res.Output, id)
	if strings.TrimSpace(section) == "" {
		return section, nil, nil
	}
	parsed := iosparse.ParseConfigEphoneDN(section)
	return section, &parsed, nil
}
