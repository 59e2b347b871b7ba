package iosparse

import (
	"regexp"
	"strconv"
	"strings"
)

// DN is one directory number (ephone-dn)
type DN struct {
	ID       int    `json:"dn_id"`
	Number   string `json:"number,omitempty"`
	Name     string `json:"name,omitempty"`
	Label    string `json:"label,omitempty"`
	State    string `json:"state,omitempty"`
	EphoneID *int   `json:"ephone_id,omitempty"`
}

var (
	dnTabularRe  = regexp.MustCompile(`(?i)^ephone-dn\s+(\d+)\s+number\s+(\S+)(?:\s+CH\d+)?\s+([A-Z][A-Z_-]+)(?:.*?\bephone\s+(\d+))?`)
	dnSectionRe  = regexp.MustCompile(`(?i)^ephone-dn\s+(\d+)\b`)
	dnSubFieldRe = regexp.MustCompile(`(?i)^(number|label|name)\s+(.+)$`)
)

// ParseDNSummary reads `show ephone-dn summary`. When no tabular rows are
// found the input is treated as `show running-config | section ephone-dn`
// and parsed from its header + indented number/label/name lines.
func ParseDNSummary(output string) []DN {
	if dns := parseDNTabular(output); len(dns) > 0 {
		return dns
	}
	return parseDNSections(output)
}

func parseDNTabular(output string) []DN {
	dns := make([]DN, 0)
	for _, line := range splitLines(output) {
		m := dnTabularRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[1])
		dn := DN{ID: id, Number: m[2], State: strings.ToUpper(m[3])}
		if m[4] != "" {
			if n, err := strconv.Atoi(m[4]); err == nil {
				dn.EphoneID = &n
			}
		}
		dns = append(dns, dn)
	}
	return dns
}

func parseDNSections(output string) []DN {
	dns := make([]DN, 0)
	var current *DN

	for _, line := range splitLines(output) {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}

		if startsAtColumnZero(line) {
			if current != nil {
				dns = append(dns, *current)
				current = nil
			}
			if m := dnSectionRe.FindStringSubmatch(s); m != nil {
				id, _ := strconv.Atoi(m[1])
				current = &DN{ID: id}
			}
			continue
		}
		if current == nil {
			continue
		}

		m := dnSubFieldRe.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "number":
			current.Number = strings.Fields(m[2])[0]
		case "label":
			current.Label = unquote(m[2])
		case "name":
			current.Name = strings.TrimSpace(m[2])
		}
	}

	if current != nil {
		dns = append(dns, *current)
	}
	return dns
}
