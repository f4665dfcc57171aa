package axbuild

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// parseCargoArgs splits a subcommand's arguments into the cargo wrapper
// options, the kernel build options, and (for run/runner invocations) the
// emulator options. Unrecognized arguments are forwarded to cargo verbatim.
func parseCargoArgs(sub string, args []string, qemu *QEMUOptions) (*cargoCommand, *Options, error) {
	cargo := &cargoCommand{subcommand: sub}
	flags := defaultArceosFlags()

	i := 0
	for i < len(args) {
		arg := args[i]
		i++

		name, inline, hasInline := strings.Cut(arg, "=")
		value := func() (string, error) {
			if hasInline {
				return inline, nil
			}
			if i >= len(args) {
				return "", fmt.Errorf("flag `%s` requires a value", name)
			}
			v := args[i]
			i++
			return v, nil
		}

		var err error
		switch name {
		case "-A", "--arch":
			flags.arch, err = value()
		case "-P", "--platform":
			flags.platform, err = value()
		case "--soft-float":
			flags.softFloat = true
		case "--cpus":
			flags.cpus, err = value()
		case "-c", "--config":
			var path string
			if path, err = value(); err == nil {
				flags.configs = append(flags.configs, path)
			}
		case "-L", "--log":
			flags.log, err = value()
		case "--ip":
			flags.ip, err = value()
		case "--gw", "--gateway":
			flags.gateway, err = value()
		case "-r", "--release":
			cargo.release = true
		case "--profile":
			cargo.profile, err = value()
		case "--target-dir":
			cargo.targetDir, err = value()
		case "--manifest-path":
			cargo.manifestPath, err = value()
		case "--message-format":
			cargo.messageFormat, err = value()
		case "--target":
			// target selection is owned by this tool; drop with a warning
			_, err = value()
			cargo.targetIgnored = true
		default:
			handled := false
			if qemu != nil {
				handled, err = qemu.parseFlag(name, inline, hasInline, value)
			}
			if !handled && err == nil {
				cargo.args = append(cargo.args, arg)
			}
		}
		if err != nil {
			return nil, nil, err
		}
	}

	if qemu != nil {
		if err := qemu.validate(); err != nil {
			return nil, nil, err
		}
	}

	options, err := flags.resolve()
	if err != nil {
		return nil, nil, err
	}
	return cargo, options, nil
}

// parseFlag consumes one emulator flag, reporting whether the flag was one
// of ours.
func (q *QEMUOptions) parseFlag(name, inline string, hasInline bool, value func() (string, error)) (bool, error) {
	var err error
	switch name {
	case "--smp":
		q.SMP, err = value()
	case "-m", "--mem":
		q.Mem, err = value()
	case "--bus":
		var bus string
		if bus, err = value(); err == nil {
			q.Bus, err = parseBusType(bus)
		}
	case "--net":
		q.Net = true
		if hasInline {
			if inline != "user" {
				return true, fmt.Errorf("unknown net device type `%s` (expected user)", inline)
			}
			q.NetType = inline
		}
	case "--net-dump":
		q.NetDump, err = value()
	case "-d", "--disk":
		q.Disk, err = value()
	case "-g", "--graphics":
		q.Graphics = true
	case "--accel":
		q.Accel = true
	case "-D", "--debug":
		q.Debug = true
	default:
		return false, nil
	}
	return true, err
}

func (q *QEMUOptions) validate() error {
	if q.NetDump != "" && !q.Net {
		return fmt.Errorf("--net-dump requires --net")
	}
	if q.Debug && q.Accel {
		return fmt.Errorf("--debug conflicts with --accel")
	}
	return nil
}

// parseRunnerArgs parses the hidden runner subcommand: emulator flags plus
// the produced binary's path as the only positional argument.
func parseRunnerArgs(args []string) (*QEMUOptions, string, error) {
	qemu := &QEMUOptions{}
	binary := ""

	i := 0
	for i < len(args) {
		arg := args[i]
		i++

		name, inline, hasInline := strings.Cut(arg, "=")
		value := func() (string, error) {
			if hasInline {
				return inline, nil
			}
			if i >= len(args) {
				return "", fmt.Errorf("flag `%s` requires a value", name)
			}
			v := args[i]
			i++
			return v, nil
		}

		handled, err := qemu.parseFlag(name, inline, hasInline, value)
		if err != nil {
			return nil, "", err
		}
		if handled {
			continue
		}
		if strings.HasPrefix(arg, "-") {
			return nil, "", fmt.Errorf("unknown flag `%s`", arg)
		}
		if binary != "" {
			return nil, "", fmt.Errorf("unexpected argument `%s`", arg)
		}
		binary = arg
	}

	if binary == "" {
		return nil, "", fmt.Errorf("missing binary path")
	}
	if err := qemu.validate(); err != nil {
		return nil, "", err
	}
	return qemu, binary, nil
}

// BuildCommand handles the cargo-delegating subcommands (build, rustc,
// check, clippy). Returns the process exit code.
func BuildCommand(sub string, args []string) int {
	cargo, options, err := parseCargoArgs(sub, args, nil)
	if err != nil {
		errorMsg(err)
		return 1
	}
	return executeCargo(cargo, options, nil)
}

// RunCommand handles `axbuild run`: a build with the emulator registered as
// the post-link runner.
func RunCommand(args []string) int {
	qemu := &QEMUOptions{}
	cargo, options, err := parseCargoArgs("run", args, qemu)
	if err != nil {
		errorMsg(err)
		return 1
	}
	return executeCargo(cargo, options, qemu)
}

// RunnerCommand handles the hidden runner subcommand invoked by the build
// tool with the produced binary.
func RunnerCommand(args []string) int {
	qemu, binary, err := parseRunnerArgs(args)
	if err != nil {
		errorMsg(err)
		return 1
	}
	if err := qemu.Execute(binary); err != nil {
		errorMsg(err)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// mirror the emulator's exit code
			return exitStatus(err)
		}
		return 1
	}
	return 0
}

// executeCargo translates the options onto the cargo invocation, spawns it,
// streams its build events, and propagates its exit status.
func executeCargo(cargo *cargoCommand, options *Options, qemu *QEMUOptions) int {
	targetDir, err := cargo.TargetDir()
	if err != nil {
		errorMsg(err)
		return 1
	}
	profile := cargo.Profile()

	if cargo.targetIgnored {
		warn("`--target` option is ignored")
	}

	cmd, stream := cargo.Command()
	if err := options.Apply(cmd, targetDir, profile); err != nil {
		errorMsg(err)
		return 1
	}
	if qemu != nil {
		qemu.register(options.Target(), cmd)
	}

	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr

	var events *bufio.Scanner
	if stream {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errorMsg(fmt.Errorf("failed to pipe cargo output: %w", err))
			return 1
		}
		events = bufio.NewScanner(stdout)
		// build event lines can be large
		events.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	} else {
		cmd.Stdout = os.Stdout
	}

	if err := cmd.Start(); err != nil {
		errorMsg(fmt.Errorf("failed to execute cargo: %w", err))
		return 1
	}

	if events != nil {
		for events.Scan() {
			line := events.Text()
			var msg cargoMessage
			if err := json.Unmarshal([]byte(line), &msg); err != nil {
				// not an event; pass the line through
				fmt.Fprintln(os.Stderr, line)
				continue
			}
			if msg.Reason == "compiler-artifact" {
				for _, w := range options.CheckFeatures(msg.Target.Name, msg.Features) {
					warn("%s", w)
				}
			}
		}
	}

	return exitStatus(cmd.Wait())
}
