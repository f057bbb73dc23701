// Package opener hands notification links to the platform's browser
// launcher.
package opener

import (
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/pders01/notifeed/internal/config"
	"github.com/pders01/notifeed/internal/debuglog"
)

// ErrNoLink is returned for notifications without a navigable target.
var ErrNoLink = errors.New("notification has no link")

type Opener struct {
	command string
	goos    string
	start   func(*exec.Cmd) error
}

type Option func(*Opener)

// WithStarter replaces how the command is started. Tests use it to capture
// the command instead of running it.
func WithStarter(fn func(*exec.Cmd) error) Option {
	return func(o *Opener) { o.start = fn }
}

// WithGOOS overrides the platform used to pick candidates.
func WithGOOS(goos string) Option {
	return func(o *Opener) { o.goos = goos }
}

func New(cfg config.OpenerConfig, opts ...Option) *Opener {
	o := &Opener{goos: runtime.GOOS, start: startDetached}
	for _, opt := range opts {
		opt(o)
	}

	var candidates []string
	switch o.goos {
	case "darwin":
		candidates = cfg.Darwin
	case "linux":
		candidates = cfg.Linux
	case "windows":
		candidates = cfg.Windows
	default:
		candidates = cfg.Darwin
	}

	o.command = findCommand(candidates...)
	if o.command == "" {
		o.command = cfg.Default
	}
	// "start" is a cmd.exe builtin and never found on PATH.
	if o.command == "" && o.goos == "windows" {
		o.command = "start"
	}
	return o
}

func (o *Opener) Command() string { return o.command }

// Open launches the opener for link. Only absolute http(s) links are
// accepted.
func (o *Opener) Open(link string) error {
	if link == "" || link == "#" {
		return ErrNoLink
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("refusing to open %q", link)
	}
	if o.command == "" {
		return fmt.Errorf("no application found to open URL")
	}

	var cmd *exec.Cmd
	if o.goos == "windows" && o.command == "start" {
		cmd = exec.Command("cmd", "/c", "start", "", u.String())
	} else {
		cmd = exec.Command(o.command, u.String())
	}

	debuglog.Debugf("opening %s with %s", u.String(), o.command)
	if err := o.start(cmd); err != nil {
		return fmt.Errorf("failed to start %s: %w", o.command, err)
	}
	return nil
}

// startDetached starts GUI applications without blocking on them.
func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

func findCommand(commands ...string) string {
	for _, cmd := range commands {
		if _, err := exec.LookPath(cmd); err == nil {
			return cmd
		}
	}
	return ""
}
