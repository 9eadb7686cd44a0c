// Package tools wraps the external programs the broker delegates to: the
// labeler that marks a file immutable and the syncer that copies trees.
package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/marmos91/immutabled/internal/logger"
)

// Labeler applies the immutability label to a file.
type Labeler interface {
	Label(ctx context.Context, path string) error
}

// Syncer copies src onto dst.
type Syncer interface {
	Sync(ctx context.Context, src, dst string) error
}

// CmdRunner runs a program and returns its combined output.
type CmdRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecCmd is the CmdRunner used outside tests.
func ExecCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Tool types accepted in configuration.
const (
	TypeNoop  = "noop"
	TypeChcon = "chcon"
	TypeRsync = "rsync"
)

// Defaults for the command tools.
const (
	DefaultLabelBinary = "chcon"
	DefaultLabelType   = "immutable_file_t"
	DefaultSyncBinary  = "rsync"
)

// DefaultSyncArgs are passed to rsync before src and dst.
var DefaultSyncArgs = []string{"-a", "--checksum"}

// LabelConfig configures the labeler.
type LabelConfig struct {
	// Type is "chcon" or "noop".
	Type string `mapstructure:"type" validate:"omitempty,oneof=chcon noop"`

	// Binary is the program to run (default: chcon)
	Binary string `mapstructure:"binary"`

	// SELinuxType is the type passed with -t (default: immutable_file_t)
	SELinuxType string `mapstructure:"selinux_type"`

	// ExtraArgs go before the -t flag.
	ExtraArgs []string `mapstructure:"extra_args"`
}

// SyncConfig configures the syncer.
type SyncConfig struct {
	// Type is "rsync" or "noop".
	Type string `mapstructure:"type" validate:"omitempty,oneof=rsync noop"`

	// Binary is the program to run (default: rsync)
	Binary string `mapstructure:"binary"`

	// Args precede src and dst (default: -a --checksum)
	Args []string `mapstructure:"args"`
}

// ToolError reports a failed external program.
type ToolError struct {
	Command []string
	Output  string
	Err     error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %v", shellquote.Join(e.Command...), e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// CommandLabeler runs `<binary> [extra args] -t <type> -- <path>`.
type CommandLabeler struct {
	Binary      string
	SELinuxType string
	ExtraArgs   []string
	Run         CmdRunner
}

// NewLabeler builds a Labeler from cfg. An empty type means chcon.
func NewLabeler(cfg LabelConfig) (Labeler, error) {
	switch cfg.Type {
	case TypeNoop:
		return Noop{}, nil
	case "", TypeChcon:
		l := &CommandLabeler{
			Binary:      cfg.Binary,
			SELinuxType: cfg.SELinuxType,
			ExtraArgs:   cfg.ExtraArgs,
			Run:         ExecCmd,
		}
		if l.Binary == "" {
			l.Binary = DefaultLabelBinary
		}
		if l.SELinuxType == "" {
			l.SELinuxType = DefaultLabelType
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown label tool type: %s", cfg.Type)
	}
}

// Label implements Labeler.
func (l *CommandLabeler) Label(ctx context.Context, path string) error {
	args := append(append([]string{}, l.ExtraArgs...), "-t", l.SELinuxType, "--", path)
	return run(ctx, l.Run, l.Binary, args...)
}

// CommandSyncer runs `<binary> <args...> -- <src> <dst>`.
type CommandSyncer struct {
	Binary string
	Args   []string
	Run    CmdRunner
}

// NewSyncer builds a Syncer from cfg. An empty type means rsync.
func NewSyncer(cfg SyncConfig) (Syncer, error) {
	switch cfg.Type {
	case TypeNoop:
		return Noop{}, nil
	case "", TypeRsync:
		s := &CommandSyncer{Binary: cfg.Binary, Args: cfg.Args, Run: ExecCmd}
		if s.Binary == "" {
			s.Binary = DefaultSyncBinary
		}
		if s.Args == nil {
			s.Args = DefaultSyncArgs
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sync tool type: %s", cfg.Type)
	}
}

// Sync implements Syncer.
func (s *CommandSyncer) Sync(ctx context.Context, src, dst string) error {
	args := append(append([]string{}, s.Args...), "--", src, dst)
	return run(ctx, s.Run, s.Binary, args...)
}

func run(ctx context.Context, runner CmdRunner, name string, args ...string) error {
	if runner == nil {
		runner = ExecCmd
	}
	command := append([]string{name}, args...)
	logger.Debug("Running %s", shellquote.Join(command...))

	out, err := runner(ctx, name, args...)
	if err != nil {
		return &ToolError{Command: command, Output: strings.TrimSpace(string(out)), Err: err}
	}
	return nil
}

// Noop is a Labeler and Syncer that does nothing. Useful on hosts without
// SELinux and in development.
type Noop struct{}

func (Noop) Label(context.Context, string) error        { return nil }
func (Noop) Sync(context.Context, string, string) error { return nil }
