package agent

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/kballard/go-shellquote"

	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/settings"
)

// MinRuntimeVersion is the oldest Node.js release the agent runs on.
const MinRuntimeVersion = ">= 18.0.0"

// DefaultRuntime is the runtime_path value that means "node on PATH".
const DefaultRuntime = "default"

const versionProbeTimeout = 10 * time.Second

// Runtime is a checked runtime and agent script, ready to launch.
type Runtime struct {
	Path    string
	Version *semver.Version
	Script  string
	Args    []string
}

// Command returns the launch command: runtime, script, extra args, --stdio.
func (r Runtime) Command() Command {
	args := make([]string, 0, len(r.Args)+2)
	args = append(args, r.Script)
	args = append(args, r.Args...)
	args = append(args, "--stdio")
	return Command{Path: r.Path, Args: args}
}

// CheckRuntime resolves the runtime and agent script from cfg and verifies
// the runtime version. Every failure is a configuration error with a hint.
func CheckRuntime(ctx context.Context, cfg settings.AgentSettings) (Runtime, error) {
	path, err := resolveRuntime(cfg.RuntimePath)
	if err != nil {
		return Runtime{}, err
	}

	ver, err := probeVersion(ctx, path)
	if err != nil {
		return Runtime{}, err
	}

	constraint, err := semver.NewConstraint(MinRuntimeVersion)
	if err != nil {
		return Runtime{}, errors.Wrapf(err, "invalid version constraint %s", MinRuntimeVersion)
	}
	if !constraint.Check(ver) {
		return Runtime{}, errors.WithHintf(
			errors.Configuration(errors.Newf("runtime %s is version %s, need %s", path, ver, MinRuntimeVersion)),
			"install Node.js 18 or newer, or point agent.runtime_path at one")
	}

	if cfg.ScriptPath == "" {
		return Runtime{}, errors.WithHint(
			errors.Configuration(errors.New("agent script path is not set")),
			"set agent.script_path to the agent's language-server.js")
	}
	script := settings.ExpandPath(cfg.ScriptPath)
	if _, err := os.Stat(script); err != nil {
		return Runtime{}, errors.WithHint(
			errors.Configuration(errors.Wrapf(err, "agent script %s", script)),
			"check agent.script_path")
	}

	args, err := shellquote.Split(cfg.Args)
	if err != nil {
		return Runtime{}, errors.WithHint(
			errors.Configuration(errors.Wrapf(err, "invalid agent args %q", cfg.Args)),
			"agent.args is split like a shell command line; check its quoting")
	}

	return Runtime{Path: path, Version: ver, Script: script, Args: args}, nil
}

func resolveRuntime(configured string) (string, error) {
	if configured == "" || configured == DefaultRuntime {
		path, err := exec.LookPath("node")
		if err != nil {
			return "", errors.WithHint(
				errors.Configuration(errors.Wrap(err, "node not found on PATH")),
				"install Node.js or set agent.runtime_path")
		}
		return path, nil
	}

	path := settings.ExpandPath(configured)
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.WithHint(
			errors.Configuration(errors.Wrapf(err, "runtime %s", path)),
			"check agent.runtime_path")
	}
	if info.IsDir() {
		return "", errors.WithHint(
			errors.Configuration(errors.Newf("runtime %s is a directory", path)),
			"agent.runtime_path must name the node executable")
	}
	return path, nil
}

func probeVersion(ctx context.Context, path string) (*semver.Version, error) {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return nil, errors.WithHint(
			errors.Configuration(errors.Wrapf(err, "failed to run %s --version", path)),
			"check agent.runtime_path points at a working node executable")
	}

	raw := strings.TrimPrefix(strings.TrimSpace(string(out)), "v")
	ver, err := semver.NewVersion(raw)
	if err != nil {
		return nil, errors.WithHint(
			errors.Configuration(errors.Wrapf(err, "unrecognised version output %q from %s", strings.TrimSpace(string(out)), path)),
			"agent.runtime_path must point at node")
	}
	return ver, nil
}
