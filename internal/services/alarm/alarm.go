// Package alarm drives the audible alarm from the per-frame decision.
package alarm

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"somnoalert/internal/logger"
)

// Actuator switches a physical or simulated alarm.
type Actuator interface {
	Activate() error
	Deactivate() error
	Close() error
}

// Controller forwards only transitions of the alarm decision to the
// actuator, so a steady state never retriggers it.
type Controller struct {
	actuator Actuator
	logger   *logger.Logger

	mu sync.Mutex
	on bool
}

func NewController(actuator Actuator, log *logger.Logger) *Controller {
	return &Controller{actuator: actuator, logger: log}
}

// Set applies the decision for the current frame and reports whether it
// caused a transition.
func (c *Controller) Set(on bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on == c.on {
		return false
	}
	c.on = on

	var err error
	if on {
		err = c.actuator.Activate()
	} else {
		err = c.actuator.Deactivate()
	}
	if err != nil {
		c.logger.Error("Alarm actuator failed (on=%t): %v", on, err)
	}
	return true
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on
}

// Close turns the alarm off if needed and releases the actuator.
func (c *Controller) Close() error {
	c.Set(false)
	return c.actuator.Close()
}

// LogActuator only writes to the log.
type LogActuator struct {
	Logger *logger.Logger
}

func (a LogActuator) Activate() error {
	a.Logger.Warning("ALARM ON: driver drowsy")
	return nil
}

func (a LogActuator) Deactivate() error {
	a.Logger.Info("Alarm off")
	return nil
}

func (a LogActuator) Close() error { return nil }

// CommandActuator runs a shell command while the alarm is on, for example
// a sound player looping a file. The process is killed on deactivation.
type CommandActuator struct {
	command string
	logger  *logger.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewCommandActuator(command string, log *logger.Logger) *CommandActuator {
	return &CommandActuator{command: strings.TrimSpace(command), logger: log}
}

func (a *CommandActuator) Activate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd != nil {
		return nil
	}
	cmd := exec.Command("sh", "-c", a.command)
	// Own process group so Deactivate also stops players the shell spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start alarm command: %w", err)
	}
	a.cmd = cmd
	go func() {
		if err := cmd.Wait(); err != nil {
			a.logger.Info("Alarm command exited: %v", err)
		}
		a.mu.Lock()
		if a.cmd == cmd {
			a.cmd = nil
		}
		a.mu.Unlock()
	}()
	return nil
}

func (a *CommandActuator) Deactivate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd == nil || a.cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-a.cmd.Process.Pid, syscall.SIGKILL)
	a.cmd = nil
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("stop alarm command: %w", err)
	}
	return nil
}

// Running reports whether the command is currently started.
func (a *CommandActuator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cmd != nil
}

func (a *CommandActuator) Close() error {
	return a.Deactivate()
}

// NewActuator returns a CommandActuator when command is set, otherwise a
// LogActuator.
func NewActuator(command string, log *logger.Logger) Actuator {
	if strings.TrimSpace(command) == "" {
		return LogActuator{Logger: log}
	}
	return NewCommandActuator(command, log)
}
