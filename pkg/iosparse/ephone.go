package iosparse

import (
	"regexp"
	"strconv"
	"strings"
)

// Ephone is one phone from `show ephone summary` or `show ephone`.
// Fields the device did not report are left empty / nil.
type Ephone struct {
	ID        int    `json:"ephone_id"`
	MAC       string `json:"mac,omitempty"`
	Status    string `json:"status,omitempty"` // registered, unregistered, deceased
	IP        string `json:"ip,omitempty"`
	Type      string `json:"type,omitempty"`
	PrimaryDN *int   `json:"primary_dn,omitempty"`
}

// Button maps a phone button to a directory number
type Button struct {
	Button   int    `json:"button_number"`
	DN       int    `json:"dn"`
	Number   string `json:"number,omitempty"`
	RingType string `json:"ring_type,omitempty"`
}

// SpeedDial is one speed-dial entry on a phone
type SpeedDial struct {
	Position int    `json:"position"`
	Number   string `json:"number"`
	Label    string `json:"label,omitempty"`
}

// EphoneDetail is a single phone's block from `show ephone`
type EphoneDetail struct {
	Ephone
	Buttons    []Button    `json:"buttons,omitempty"`
	SpeedDials []SpeedDial `json:"speed_dials,omitempty"`
}

// Registration states reported by CME
const (
	StatusRegistered   = "registered"
	StatusUnregistered = "unregistered"
	StatusDeceased     = "deceased"
)

// UnassignedIP is what CME reports for a phone with no address
const UnassignedIP = "0.0.0.0"

var (
	ephoneHeaderRe   = regexp.MustCompile(`(?i)^ephone-(\d+)`)
	ephoneMACRe      = regexp.MustCompile(`(?i)Mac(?:[- ]?Addr(?:ess)?)?\s*[:=]\s*([\da-fA-F.:-]+)`)
	ephoneRegRe      = regexp.MustCompile(`\b(REGISTERED|UNREGISTERED|DECEASED)\b`)
	ephoneIPRe       = regexp.MustCompile(`\bIP:([\d.]+)`)
	ephoneTypeRe     = regexp.MustCompile(`(?i)(?:Telecaster\s+)?(\d{4}[A-Za-z]*)\s+keepalive`)
	ephonePrimaryRe  = regexp.MustCompile(`(?i)primary_dn:\s*(\d+)`)
	ephoneTotalsRe   = regexp.MustCompile(`(?i)^Max\s+\d+,\s*Registered`)
	detailButtonRe   = regexp.MustCompile(`(?i)^button\s+(\d+):`)
	detailDNRe       = regexp.MustCompile(`(?i)^dn\s+(\d+)\s+number\s+(\S+)`)
	speedDialColonRe = regexp.MustCompile(`(?i)^speed[- ]dial\s+(\d+):(\S+)\s*(.*)$`)
	speedDialWordRe  = regexp.MustCompile(`(?i)^speed-dial\s+(\d+)\s+(\S+)(?:\s+label\s+(.+))?$`)
)

// applyBaseFields fills whatever base fields a single trimmed line carries
func (e *Ephone) applyBaseFields(line string) {
	if m := ephoneMACRe.FindStringSubmatch(line); m != nil {
		e.MAC = m[1]
	}
	if m := ephoneRegRe.FindStringSubmatch(line); m != nil {
		e.Status = strings.ToLower(m[1])
	}
	if m := ephoneIPRe.FindStringSubmatch(line); m != nil && m[1] != UnassignedIP {
		e.IP = m[1]
	}
	if m := ephoneTypeRe.FindStringSubmatch(line); m != nil {
		e.Type = m[1]
	}
	if m := ephonePrimaryRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			e.PrimaryDN = &n
		}
	}
}

// ParseEphoneSummary splits `show ephone summary` (or `show ephone`) into
// one record per "ephone-N" header.
func ParseEphoneSummary(output string) []Ephone {
	phones := make([]Ephone, 0)
	var current *Ephone

	for _, line := range splitLines(output) {
		s := strings.TrimSpace(line)
		if m := ephoneHeaderRe.FindStringSubmatch(s); m != nil {
			if current != nil {
				phones = append(phones, *current)
			}
			id, _ := strconv.Atoi(m[1])
			current = &Ephone{ID: id}
		}
		if current == nil {
			continue
		}
		current.applyBaseFields(s)
	}

	if current != nil {
		phones = append(phones, *current)
	}
	return phones
}

// ExtractEphoneBlock slices the block for one phone out of `show ephone`
// output. The block runs from its "ephone-N" header to the next header or
// the trailing totals line. Returns "" when the phone is not present.
func ExtractEphoneBlock(output string, ephoneID int) string {
	want := strconv.Itoa(ephoneID)
	var block []string
	capturing := false

	for _, line := range splitLines(output) {
		s := strings.TrimSpace(line)
		if m := ephoneHeaderRe.FindStringSubmatch(s); m != nil {
			if capturing {
				break
			}
			capturing = m[1] == want
		} else if capturing && ephoneTotalsRe.MatchString(s) {
			break
		}
		if capturing {
			block = append(block, line)
		}
	}

	return strings.TrimRight(strings.Join(block, "\n"), "\n ")
}

// ParseEphoneDetail parses one phone block from `show ephone`. Buttons
// come from "button N:" lines followed by "dn D number X" lines. Speed
// dials are read in "speed dial P:NUMBER LABEL" form; the config form
// `speed-dial P NUMBER label "TEXT"` is used only when no colon form exists.
func ParseEphoneDetail(block string) EphoneDetail {
	var d EphoneDetail
	if strings.TrimSpace(block) == "" {
		return d
	}

	var pending *Button
	var colonDials, wordDials []SpeedDial

	for _, line := range splitLines(block) {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}

		if m := ephoneHeaderRe.FindStringSubmatch(s); m != nil {
			d.ID, _ = strconv.Atoi(m[1])
		}
		d.applyBaseFields(s)

		if m := detailButtonRe.FindStringSubmatch(s); m != nil {
			n, _ := strconv.Atoi(m[1])
			pending = &Button{Button: n}
			continue
		}
		if m := detailDNRe.FindStringSubmatch(s); m != nil && pending != nil {
			pending.DN, _ = strconv.Atoi(m[1])
			pending.Number = m[2]
			d.Buttons = append(d.Buttons, *pending)
			pending = nil
			continue
		}

		if sd, ok := parseSpeedDialColon(s); ok {
			colonDials = append(colonDials, sd)
		} else if sd, ok := parseSpeedDialWord(s); ok {
			wordDials = append(wordDials, sd)
		}
	}

	if len(colonDials) > 0 {
		d.SpeedDials = colonDials
	} else {
		d.SpeedDials = wordDials
	}
	return d
}

func parseSpeedDialColon(s string) (SpeedDial, bool) {
	m := speedDialColonRe.FindStringSubmatch(s)
	if m == nil {
		return SpeedDial{}, false
	}
	pos, _ := strconv.Atoi(m[1])
	return SpeedDial{Position: pos, Number: m[2], Label: strings.TrimSpace(m[3])}, true
}

func parseSpeedDialWord(s string) (SpeedDial, bool) {
	m := speedDialWordRe.FindStringSubmatch(s)
	if m == nil {
		return SpeedDial{}, false
	}
	pos, _ := strconv.Atoi(m[1])
	return SpeedDial{Position: pos, Number: m[2], Label: unquote(m[3])}, true
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return strings.Trim(s, `"`)
}
