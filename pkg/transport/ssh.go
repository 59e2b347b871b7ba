package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/zph/cmectl/pkg/logger"
)

// SSHConfig holds SSH connection configuration
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	KeyFile        string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration

	// HostKeyCallback defaults to accepting any host key
	HostKeyCallback ssh.HostKeyCallback
}

// SSHDriver is an interactive IOS shell over SSH. IOS does not support
// exec requests reliably, so every command goes through one PTY shell and
// completion is detected by waiting for the prompt.
type SSHDriver struct {
	config    SSHConfig
	client    *ssh.Client
	session   *ssh.Session
	stdin     io.WriteCloser
	out       *shellReader
	agentConn net.Conn
	prompt    string
}

// promptClearSettle is how long ProbeRaw waits after clearing the line
var promptClearSettle = 500 * time.Millisecond

var (
	promptRe   = regexp.MustCompile(`^[\w.\-@/:]+(?:\([\w.\-@/: ]+\))?[>#]\s*$`)
	passwordRe = regexp.MustCompile(`(?i)password:\s*$`)
)

// Older IOS trains only offer SHA-1 key exchange, CBC ciphers and ssh-rsa
// host keys; they are listed last so modern devices still negotiate the
// stronger options.
var (
	kexAlgorithms = []string{
		"curve25519-sha256", "curve25519-sha256@libssh.org",
		"ecdh-sha2-nistp256", "ecdh-sha2-nistp384",
		"diffie-hellman-group14-sha256", "diffie-hellman-group14-sha1", "diffie-hellman-group1-sha1",
	}
	cipherAlgorithms = []string{
		"aes128-gcm@openssh.com", "chacha20-poly1305@openssh.com",
		"aes128-ctr", "aes192-ctr", "aes256-ctr", "aes128-cbc", "3des-cbc",
	}
	hostKeyAlgorithms = []string{
		"ssh-ed25519", "ecdsa-sha2-nistp256", "rsa-sha2-512", "rsa-sha2-256", "ssh-rsa",
	}
)

// DialSSH connects, opens a PTY shell and waits for the first prompt
func DialSSH(ctx context.Context, config SSHConfig) (*SSHDriver, error) {
	if config.Port == 0 {
		config.Port = 22
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 15 * time.Second
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = 30 * time.Second
	}
	hostKeyCallback := config.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	sshConfig := &ssh.ClientConfig{
		Config: ssh.Config{
			KeyExchanges: kexAlgorithms,
			Ciphers:      cipherAlgorithms,
		},
		User:              config.User,
		HostKeyCallback:   hostKeyCallback,
		HostKeyAlgorithms: hostKeyAlgorithms,
		Timeout:           config.ConnectTimeout,
	}

	// Authentication methods in order of preference:
	// key file, ssh-agent, password, keyboard-interactive.
	if config.KeyFile != "" {
		key, err := os.ReadFile(config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
		}
		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	}

	var agentConn net.Conn
	if conn, err := getSSHAgentConnection(); err == nil {
		signers, err := agent.NewClient(conn).Signers()
		if err == nil && len(signers) > 0 {
			agentConn = conn
			sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signers...))
		} else {
			conn.Close()
		}
	}

	if config.Password != "" {
		password := config.Password
		sshConfig.Auth = append(sshConfig.Auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(sshConfig.Auth) == 0 {
		return nil, fmt.Errorf("no authentication method provided (need key file, SSH agent, or password)")
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	logger.WithFields(logger.Fields{"host": config.Host, "port": config.Port, "user": config.User}).Info("ssh.connecting")

	dialer := net.Dialer{Timeout: config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeQuietly(agentConn)
		return nil, fmt.Errorf("failed to connect to SSH server at %s: %w", addr, err)
	}

	// Bound the handshake; the deadline is cleared once the client exists.
	_ = conn.SetDeadline(time.Now().Add(config.ConnectTimeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		closeQuietly(agentConn)
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	d := &SSHDriver{
		config:    config,
		client:    ssh.NewClient(c, chans, reqs),
		agentConn: agentConn,
	}
	if err := d.startShell(); err != nil {
		d.Close()
		return nil, err
	}

	logger.WithFields(logger.Fields{"host": config.Host, "prompt": d.prompt}).Info("ssh.connected")
	return d, nil
}

func (d *SSHDriver) startShell() error {
	session, err := d.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	d.session = session

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := session.RequestPty("vt100", 0, 511, modes); err != nil {
		return fmt.Errorf("failed to request PTY: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}
	d.stdin = stdin

	if err := session.Shell(); err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}

	d.out = newShellReader()
	go d.out.run(stdout)

	if _, err := d.readUntil(promptRe.MatchString, d.config.ConnectTimeout); err != nil {
		return fmt.Errorf("no prompt after login: %w", err)
	}
	return nil
}

// SendCommand runs one command and waits for the prompt to return
func (d *SSHDriver) SendCommand(command string) (CommandResult, error) {
	start := time.Now()
	d.out.take()

	if err := d.write(command + "\n"); err != nil {
		return CommandResult{Command: command, Failed: true}, err
	}

	raw, err := d.readUntil(promptRe.MatchString, d.config.CommandTimeout)
	res := CommandResult{
		Command: command,
		Output:  cleanOutput(raw, command),
		Elapsed: time.Since(start),
	}
	if err != nil {
		res.Failed = true
		return res, fmt.Errorf("command %q: %w", command, err)
	}
	res.Failed = outputFailed(res.Output)
	return res, nil
}

// SendConfigs wraps commands in "configure terminal" / "end"
func (d *SSHDriver) SendConfigs(commands []string, stopOnFailure bool) ([]CommandResult, error) {
	if _, err := d.SendCommand("configure terminal"); err != nil {
		return nil, fmt.Errorf("failed to enter configuration mode: %w", err)
	}

	results := make([]CommandResult, 0, len(commands))
	var runErr error
	for _, cmd := range commands {
		res, err := d.SendCommand(cmd)
		results = append(results, res)
		if err != nil {
			runErr = err
			break
		}
		if res.Failed && stopOnFailure {
			break
		}
	}

	if _, err := d.SendCommand("end"); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to leave configuration mode: %w", err)
	}
	return results, runErr
}

// ProbeRaw writes text with no newline so the CLI answers inline ("?"),
// then clears the line with Ctrl-U.
func (d *SSHDriver) ProbeRaw(text string, wait time.Duration) (string, error) {
	d.out.take()
	if err := d.write(text); err != nil {
		return "", err
	}
	time.Sleep(wait)
	raw := d.out.take()

	err := d.write("\x15\r\n")
	time.Sleep(promptClearSettle)
	d.out.take()

	return strings.ReplaceAll(ansi.Strip(raw), "\r", ""), err
}

// Enable sends "enable" and answers the password prompt
func (d *SSHDriver) Enable(secret string) error {
	timeout := d.config.CommandTimeout
	promptOrPassword := func(last string) bool {
		return promptRe.MatchString(last) || passwordRe.MatchString(last)
	}

	d.out.take()
	if err := d.write("enable\n"); err != nil {
		return err
	}

	// IOS asks up to three times before giving up with "% Bad secrets";
	// retries are answered empty so the prompt comes back.
	answer := secret
	for attempt := 0; ; attempt++ {
		raw, err := d.readUntil(promptOrPassword, timeout)
		if err != nil {
			return fmt.Errorf("enable: %w", err)
		}
		if !passwordRe.MatchString(lastLine(raw)) {
			break
		}
		if attempt >= 3 {
			return errors.New("enable: device keeps asking for a password")
		}
		d.out.take()
		if err := d.write(answer + "\n"); err != nil {
			return err
		}
		answer = ""
	}

	if !strings.HasSuffix(strings.TrimSpace(d.prompt), "#") {
		return errors.New("enable: secret rejected, still in user exec mode")
	}
	return nil
}

// IsAlive reports whether the shell is still readable and the server
// answers a keepalive.
func (d *SSHDriver) IsAlive() bool {
	if d.client == nil || d.out == nil || d.out.closed() {
		return false
	}
	_, _, err := d.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// Close closes the shell, the SSH connection and the agent connection
func (d *SSHDriver) Close() error {
	var errs []error
	if d.session != nil {
		if err := d.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
	}
	if d.client != nil {
		if err := d.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if d.agentConn != nil {
		if err := d.agentConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}

// Prompt returns the last prompt seen, e.g. "Router(config-ephone)#"
func (d *SSHDriver) Prompt() string {
	return d.prompt
}

func (d *SSHDriver) write(s string) error {
	if _, err := io.WriteString(d.stdin, s); err != nil {
		return fmt.Errorf("failed to write to shell: %w", err)
	}
	return nil
}

// readUntil waits until the last line of buffered output satisfies match,
// consumes what was read and returns it raw.
func (d *SSHDriver) readUntil(match func(string) bool, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		raw, readErr := d.out.snapshot()
		if last := lastLine(raw); match(last) {
			d.out.consume(len(raw))
			if promptRe.MatchString(last) {
				d.prompt = strings.TrimSpace(last)
			}
			return raw, nil
		}
		if readErr != nil {
			return raw, fmt.Errorf("shell closed: %w", readErr)
		}

		select {
		case <-d.out.notify:
		case <-timer.C:
			return raw, ErrTimeout
		}
	}
}

func lastLine(raw string) string {
	s := strings.ReplaceAll(ansi.Strip(raw), "\r", "")
	return s[strings.LastIndex(s, "\n")+1:]
}

// cleanOutput drops the echoed command and the trailing prompt
func cleanOutput(raw, command string) string {
	s := strings.ReplaceAll(ansi.Strip(raw), "\r", "")
	lines := strings.Split(s, "\n")

	if len(lines) > 0 && strings.Contains(lines[0], strings.TrimSpace(command)) {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && promptRe.MatchString(lines[n-1]) {
		lines = lines[:n-1]
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// shellReader buffers everything the shell prints
type shellReader struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	err    error
	notify chan struct{}
}

func newShellReader() *shellReader {
	return &shellReader{notify: make(chan struct{}, 1)}
}

func (r *shellReader) run(src io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := src.Read(chunk)

		r.mu.Lock()
		r.buf.Write(chunk[:n])
		if err != nil {
			r.err = err
		}
		r.mu.Unlock()

		select {
		case r.notify <- struct{}{}:
		default:
		}
		if err != nil {
			return
		}
	}
}

func (r *shellReader) snapshot() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String(), r.err
}

func (r *shellReader) consume(n int) {
	r.mu.Lock()
	r.buf.Next(n)
	r.mu.Unlock()
}

// take returns and discards everything buffered so far
func (r *shellReader) take() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.buf.String()
	r.buf.Reset()
	return s
}

func (r *shellReader) closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err != nil
}

// getSSHAgentConnection connects to the SSH agent socket and returns the connection
func getSSHAgentConnection() (net.Conn, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
	}
	return conn, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		c.Close()
	}
}

var _ Driver = (*SSHDriver)(nil)
