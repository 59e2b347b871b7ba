package iosparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ExtractConfigSection returns the run of lines that starts at the first
// line whose trimmed text begins with keyword (case-insensitive) and stops
// before the next line starting at column zero that is not a bare "!".
func ExtractConfigSection(fullConfig, keyword string) string {
	kw := strings.ToLower(keyword)
	return extractSection(fullConfig, func(line string) bool {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), kw)
	})
}

// ExtractEphoneConfigSection returns the "ephone N" section from
// `show running-config | section ephone` output. Sibling ephone and
// ephone-dn headers bound the section.
func ExtractEphoneConfigSection(output string, ephoneID int) string {
	header := regexp.MustCompile(fmt.Sprintf(`(?i)^ephone\s+%d\b`, ephoneID))
	return extractSection(output, func(line string) bool {
		return header.MatchString(strings.TrimSpace(line))
	})
}

// ExtractEphoneDNConfigSection returns the "ephone-dn N" section
func ExtractEphoneDNConfigSection(output string, dnID int) string {
	header := regexp.MustCompile(fmt.Sprintf(`(?i)^ephone-dn\s+%d\b`, dnID))
	return extractSection(output, func(line string) bool {
		return header.MatchString(strings.TrimSpace(line))
	})
}

func extractSection(text string, isStart func(string) bool) string {
	var captured []string
	capturing := false

	for _, line := range splitLines(text) {
		if !capturing {
			if isStart(line) {
				capturing = true
				captured = append(captured, line)
			}
			continue
		}
		if startsAtColumnZero(line) && strings.TrimSpace(line) != "!" {
			break
		}
		captured = append(captured, line)
	}

	return strings.Join(captured, "\n")
}

func startsAtColumnZero(line string) bool {
	return line != "" && line[0] != ' ' && line[0] != '\t'
}

// ConfigEphone is the structured form of an "ephone N" config section
type ConfigEphone struct {
	ID          int         `json:"ephone_id"`
	MAC         string      `json:"mac,omitempty"`
	Type        string      `json:"type,omitempty"`
	Description string      `json:"description,omitempty"`
	Buttons     []Button    `json:"buttons,omitempty"`
	SpeedDials  []SpeedDial `json:"speed_dials,omitempty"`
}

// ConfigDN is the structured form of an "ephone-dn N" config section
type ConfigDN struct {
	ID          int               `json:"dn_id"`
	LineMode    string            `json:"line_mode,omitempty"` // dual-line, octo-line
	Number      string            `json:"number,omitempty"`
	Secondary   string            `json:"secondary,omitempty"`
	Name        string            `json:"name,omitempty"`
	Label       string            `json:"label,omitempty"`
	Preference  *int              `json:"preference,omitempty"`
	CallForward map[string]string `json:"call_forward,omitempty"`
}

var (
	cfgEphoneHeaderRe = regexp.MustCompile(`(?i)^ephone\s+(\d+)`)
	cfgDNHeaderRe     = regexp.MustCompile(`(?i)^ephone-dn\s+(\d+)(?:\s+(\S+))?`)
	cfgMACRe          = regexp.MustCompile(`(?i)^mac-address\s+(\S+)`)
	cfgTypeRe         = regexp.MustCompile(`(?i)^type\s+(\S+)`)
	cfgDescriptionRe  = regexp.MustCompile(`(?i)^description\s+(.+)$`)
	cfgButtonRe       = regexp.MustCompile(`(?i)^button\s+(.+)$`)
	cfgButtonEntryRe  = regexp.MustCompile(`(\d+)([:a-z])(\d+)`)
	cfgNumberRe       = regexp.MustCompile(`(?i)^number\s+(\S+)(?:\s+secondary\s+(\S+))?`)
	cfgNameRe         = regexp.MustCompile(`(?i)^name\s+(.+)$`)
	cfgLabelRe        = regexp.MustCompile(`(?i)^label\s+(.+)$`)
	cfgPreferenceRe   = regexp.MustCompile(`(?i)^preference\s+(\d+)`)
	cfgCallForwardRe  = regexp.MustCompile(`(?i)^call-forward\s+(\S+)\s+(\S+)`)
)

// ringTypes maps the separator in "button 1:1" style entries to its meaning
var ringTypes = map[string]string{
	":": "normal",
	"s": "silent",
	"b": "beep",
	"f": "feature",
	"m": "monitor",
	"w": "watch",
	"o": "overlay",
	"c": "overlay-call-waiting",
	"x": "overflow",
}

// ParseConfigEphone parses an already-sliced "ephone N" section
func ParseConfigEphone(section string) ConfigEphone {
	var e ConfigEphone
	var colonDials, wordDials []SpeedDial

	for _, line := range splitLines(section) {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}

		switch {
		case cfgEphoneHeaderRe.MatchString(s) && startsAtColumnZero(line):
			m := cfgEphoneHeaderRe.FindStringSubmatch(s)
			e.ID, _ = strconv.Atoi(m[1])
		case cfgMACRe.MatchString(s):
			e.MAC = cfgMACRe.FindStringSubmatch(s)[1]
		case cfgTypeRe.MatchString(s):
			e.Type = cfgTypeRe.FindStringSubmatch(s)[1]
		case cfgDescriptionRe.MatchString(s):
			e.Description = cfgDescriptionRe.FindStringSubmatch(s)[1]
		case cfgButtonRe.MatchString(s):
			e.Buttons = append(e.Buttons, parseButtonEntries(cfgButtonRe.FindStringSubmatch(s)[1])...)
		default:
			if sd, ok := parseSpeedDialColon(s); ok {
				colonDials = append(colonDials, sd)
			} else if sd, ok := parseSpeedDialWord(s); ok {
				wordDials = append(wordDials, sd)
			}
		}
	}

	if len(colonDials) > 0 {
		e.SpeedDials = colonDials
	} else {
		e.SpeedDials = wordDials
	}
	return e
}

func parseButtonEntries(value string) []Button {
	var buttons []Button
	for _, m := range cfgButtonEntryRe.FindAllStringSubmatch(value, -1) {
		n, _ := strconv.Atoi(m[1])
		dn, _ := strconv.Atoi(m[3])
		buttons = append(buttons, Button{Button: n, DN: dn, RingType: ringTypes[strings.ToLower(m[2])]})
	}
	return buttons
}

// ParseConfigEphoneDN parses an already-sliced "ephone-dn N" section
func ParseConfigEphoneDN(section string) ConfigDN {
	var dn ConfigDN

	for _, line := range splitLines(section) {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}

		switch {
		case cfgDNHeaderRe.MatchString(s) && startsAtColumnZero(line):
			m := cfgDNHeaderRe.FindStringSubmatch(s)
			dn.ID, _ = strconv.Atoi(m[1])
			dn.LineMode = m[2]
		case cfgNumberRe.MatchString(s):
			m := cfgNumberRe.FindStringSubmatch(s)
			dn.Number = m[1]
			dn.Secondary = m[2]
		case cfgNameRe.MatchString(s):
			dn.Name = cfgNameRe.FindStringSubmatch(s)[1]
		case cfgLabelRe.MatchString(s):
			dn.Label = unquote(cfgLabelRe.FindStringSubmatch(s)[1])
		case cfgPreferenceRe.MatchString(s):
			n, err := strconv.Atoi(cfgPreferenceRe.FindStringSubmatch(s)[1])
			if err == nil {
				dn.Preference = &n
			}
		case cfgCallForwardRe.MatchString(s):
			m := cfgCallForwardRe.FindStringSubmatch(s)
			if dn.CallForward == nil {
				dn.CallForward = make(map[string]string)
			}
			dn.CallForward[strings.ToLower(m[1])] = m[2]
		}
	}

	return dn
}
