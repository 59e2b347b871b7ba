package restore

import (
	"context"

	"github.com/zph/cmectl/pkg/iosparse"
)

// Health is the router's reachability and CME status
type Health struct {
	Reachable        bool                   `json:"reachable"`
	TelephonyService map[string]interface{} `json:"telephony_service,omitempty"`
	RegisteredPhones []iosparse.Ephone      `json:"registered_phones,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// CheckHealth reads telephony-service and the phone summary. A transport
// failure is reported as unreachable, not as an error.
func CheckHealth(ctx context.Context, s Shower) Health {
	ts, err := s.SendShow(ctx, "show telephony-service")
	if err != nil {
		return Health{Error: err.Error()}
	}
	phones, err := s.SendShow(ctx, "show ephone summary")
	if err != nil {
		return Health{Error: err.Error()}
	}
	return Health{
		Reachable:        true,
		TelephonyService: iosparse.ParseTelephonyService(ts.Output),
		RegisteredPhones: iosparse.ParseEphoneSummary(phones.Output),
	}
}
