// Package transporttest provides a scripted transport.Driver for tests.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/zph/cmectl/pkg/transport"
)

// Driver records every command it receives and answers from canned maps
type Driver struct {
	mu sync.Mutex

	// Responses maps exec commands to their output
	Responses map[string]string
	// ConfigOutputs maps config commands to their output
	ConfigOutputs map[string]string
	// FailConfigs marks config commands the transport reports as failed
	FailConfigs map[string]bool
	// ProbeResponses maps probe text (e.g. "max-ephones 48 ?") to output;
	// DefaultProbe is returned for anything else.
	ProbeResponses map[string]string
	DefaultProbe   string

	// SendErr, ConfigErr and ProbeErr make the matching call fail outright
	SendErr   map[string]error
	ConfigErr error
	ProbeErr  error
	EnableErr error

	dead    bool
	closed  bool
	enables []string
	shows   []string
	configs [][]string
	probes  []string
	log     []string
}

// New creates an empty fake
func New() *Driver {
	return &Driver{
		Responses:      make(map[string]string),
		ConfigOutputs:  make(map[string]string),
		FailConfigs:    make(map[string]bool),
		ProbeResponses: make(map[string]string),
		SendErr:        make(map[string]error),
	}
}

func (d *Driver) SendCommand(command string) (transport.CommandResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.shows = append(d.shows, command)
	d.log = append(d.log, command)
	if err := d.SendErr[command]; err != nil {
		return transport.CommandResult{Command: command, Failed: true}, err
	}
	return transport.CommandResult{Command: command, Output: d.Responses[command], Elapsed: time.Millisecond}, nil
}

func (d *Driver) SendConfigs(commands []string, stopOnFailure bool) ([]transport.CommandResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ConfigErr != nil {
		return nil, d.ConfigErr
	}

	sent := make([]string, 0, len(commands))
	results := make([]transport.CommandResult, 0, len(commands))
	for _, cmd := range commands {
		sent = append(sent, cmd)
		d.log = append(d.log, cmd)
		res := transport.CommandResult{
			Command: cmd,
			Output:  d.ConfigOutputs[cmd],
			Failed:  d.FailConfigs[cmd],
			Elapsed: time.Millisecond,
		}
		results = append(results, res)
		if res.Failed && stopOnFailure {
			break
		}
	}
	d.configs = append(d.configs, sent)
	return results, nil
}

func (d *Driver) ProbeRaw(text string, wait time.Duration) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.probes = append(d.probes, text)
	if d.ProbeErr != nil {
		return "", d.ProbeErr
	}
	if out, ok := d.ProbeResponses[text]; ok {
		return out, nil
	}
	return d.DefaultProbe, nil
}

func (d *Driver) Enable(secret string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enables = append(d.enables, secret)
	return d.EnableErr
}

func (d *Driver) IsAlive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.dead && !d.closed
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Kill makes IsAlive report false, as if the connection dropped
func (d *Driver) Kill() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dead = true
}

// Closed reports whether Close was called
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Shows returns every SendCommand command in order
func (d *Driver) Shows() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.shows...)
}

// Configs returns the commands of each SendConfigs call that were issued
func (d *Driver) Configs() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]string, len(d.configs))
	for i, c := range d.configs {
		out[i] = append([]string(nil), c...)
	}
	return out
}

// Probes returns every ProbeRaw text in order
func (d *Driver) Probes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.probes...)
}

// Enables returns the secrets passed to Enable
func (d *Driver) Enables() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.enables...)
}

// Sent returns every exec and config command in the order received
func (d *Driver) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.log...)
}

// Dialer hands out fakes and counts dials
type Dialer struct {
	mu sync.Mutex

	// Setup, when set, configures each new driver
	Setup func(*Driver)
	// Err makes the next dials fail
	Err error

	drivers []*Driver
}

// Dial satisfies transport.DialFunc
func (x *Dialer) Dial(ctx context.Context) (transport.Driver, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if x.Err != nil {
		return nil, x.Err
	}
	d := New()
	if x.Setup != nil {
		x.Setup(d)
	}
	x.drivers = append(x.drivers, d)
	return d, nil
}

// Dials returns how many drivers were opened
func (x *Dialer) Dials() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.drivers)
}

// Last returns the most recently opened driver
func (x *Dialer) Last() *Driver {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.drivers) == 0 {
		return nil
	}
	return x.drivers[len(x.drivers)-1]
}

var _ transport.Driver = (*Driver)(nil)
