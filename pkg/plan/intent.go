package plan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Intent names a canned change that expands into a plan
type Intent string

const (
	IntentSetSpeedDial        Intent = "set_speed_dial"
	IntentDeleteSpeedDial     Intent = "delete_speed_dial"
	IntentSetURLServices      Intent = "set_url_services"
	IntentSetURLDirectories   Intent = "set_url_directories"
	IntentSetURLIdle          Intent = "set_url_idle"
	IntentClearURLServices    Intent = "clear_url_services"
	IntentClearURLDirectories Intent = "clear_url_directories"
	IntentClearURLIdle        Intent = "clear_url_idle"
)

// Params are intent parameters as given on the command line (key=value)
type Params map[string]string

type builder func(Params) (Request, error)

var intents = map[Intent]builder{
	IntentSetSpeedDial:        buildSetSpeedDial,
	IntentDeleteSpeedDial:     buildDeleteSpeedDial,
	IntentSetURLServices:      setURL("services"),
	IntentSetURLDirectories:   setURL("directories"),
	IntentSetURLIdle:          setURL("idle"),
	IntentClearURLServices:    clearURL("services"),
	IntentClearURLDirectories: clearURL("directories"),
	IntentClearURLIdle:        clearURL("idle"),
}

// Intents lists the catalogue in name order
func Intents() []Intent {
	out := make([]Intent, 0, len(intents))
	for name := range intents {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResolveIntent expands an intent into a plan request without storing it
func ResolveIntent(name Intent, params Params) (Request, error) {
	build, ok := intents[name]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrUnknownIntent, name)
	}
	return build(params)
}

// CreateFromIntent resolves an intent and stores the resulting plan
func CreateFromIntent(store Store, name Intent, params Params) (*ConfigPlan, error) {
	req, err := ResolveIntent(name, params)
	if err != nil {
		return nil, err
	}
	return Create(store, req)
}

// ParseParams turns ["k=v", ...] into Params
func ParseParams(pairs []string) (Params, error) {
	params := make(Params, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: expected key=value, got %q", ErrInvalidParams, pair)
		}
		params[k] = strings.TrimSpace(v)
	}
	return params, nil
}

func buildSetSpeedDial(p Params) (Request, error) {
	eid, err := p.intRange("ephone_id", 1, -1)
	if err != nil {
		return Request{}, err
	}
	pos, err := p.intRange("position", 1, 99)
	if err != nil {
		return Request{}, err
	}
	number, err := p.required("number")
	if err != nil {
		return Request{}, err
	}

	cmd := fmt.Sprintf("speed-dial %d %s", pos, number)
	if label := strings.TrimSpace(p["label"]); label != "" {
		if strings.ContainsAny(label, "\r\n") {
			return Request{}, fmt.Errorf("%w: label must be a single line", ErrInvalidParams)
		}
		cmd += " label " + label
	}
	return ephoneRequest(eid, fmt.Sprintf("Set speed-dial %d on ephone %d", pos, eid), cmd), nil
}

func buildDeleteSpeedDial(p Params) (Request, error) {
	eid, err := p.intRange("ephone_id", 1, -1)
	if err != nil {
		return Request{}, err
	}
	pos, err := p.intRange("position", 1, 99)
	if err != nil {
		return Request{}, err
	}
	return ephoneRequest(eid, fmt.Sprintf("Remove speed-dial %d from ephone %d", pos, eid), fmt.Sprintf("no speed-dial %d", pos)), nil
}

func ephoneRequest(eid int, description, cmd string) Request {
	entity := fmt.Sprintf("ephone %d", eid)
	return Request{
		Description:      description,
		ModePath:         []string{ConfigMode, entity},
		Commands:         []string{cmd},
		Verification:     []string{"show " + entity},
		AffectedEntities: []string{entity},
		RiskLevel:        RiskLow,
	}
}

func setURL(kind string) builder {
	return func(p Params) (Request, error) {
		url, err := p.required("url")
		if err != nil {
			return Request{}, err
		}
		commands := []string{fmt.Sprintf("url %s %s", kind, url)}
		if kind == "idle" && p["idle_timeout"] != "" {
			secs, err := p.intRange("idle_timeout", 0, -1)
			if err != nil {
				return Request{}, err
			}
			if secs > 0 {
				commands = append(commands, fmt.Sprintf("url idle time %d", secs))
			}
		}
		return telephonyRequest("Set telephony-service url "+kind, commands), nil
	}
}

func clearURL(kind string) builder {
	return func(Params) (Request, error) {
		return telephonyRequest("Clear telephony-service url "+kind, []string{"no url " + kind}), nil
	}
}

func telephonyRequest(description string, commands []string) Request {
	return Request{
		Description:      description,
		ModePath:         []string{ConfigMode, "telephony-service"},
		Commands:         commands,
		Verification:     []string{"show telephony-service"},
		AffectedEntities: []string{"telephony-service"},
		RiskLevel:        RiskLow,
	}
}

func (p Params) required(key string) (string, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParams, key)
	}
	// A value with spaces would smuggle extra tokens onto the command line
	if strings.ContainsAny(v, " \t\r\n") {
		return "", fmt.Errorf("%w: %s must be a single token", ErrInvalidParams, key)
	}
	return v, nil
}

// intRange parses key and checks min <= v <= max; max < 0 means unbounded
func (p Params) intRange(key string, min, max int) (int, error) {
	raw, err := p.required(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidParams, key, raw)
	}
	if v < min || (max >= 0 && v > max) {
		if max >= 0 {
			return 0, fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidParams, key, min, max)
		}
		return 0, fmt.Errorf("%w: %s must be at least %d", ErrInvalidParams, key, min)
	}
	return v, nil
}
