package main

import (
	"fmt"
	"os"

	"axbuild/internal/axbuild"
)

func usage() {
	fmt.Fprint(os.Stderr, `axbuild - build and run ArceOS kernels

Usage: axbuild <command> [options] [cargo options]

Commands:
  build, b    Compile the kernel for the selected platform
  rustc       Compile with custom rustc options
  check       Type-check without building
  clippy      Run lints
  run, r      Build and launch the kernel in QEMU
  version     Print version information
  help        Show this help

ArceOS options (all commands):
  -A, --arch <ARCH>        Target architecture (aarch64, loongarch64, riscv64, x86_64)
  -P, --platform <PLAT>    Target platform (mutually exclusive with --arch)
      --soft-float         Enable soft float
      --cpus <N>           Number of CPUs (default 1)
  -c, --config <PATH>      Additional config file (repeatable, later files win)
  -L, --log <LEVEL>        Log level: off, error, warn, info, debug, trace (default warn)
      --ip <ADDR>          IP address (default 10.0.2.15)
      --gw <ADDR>          Gateway (default 10.0.2.2)

QEMU options (run only):
      --smp <N>            Override the emulated CPU count
  -m, --mem <SIZE>         RAM size
      --bus <pci|mmio>     Device bus type (default pci)
      --net[=user]         Enable the network device
      --net-dump <FILE>    Dump network packets to a file (requires --net)
  -d, --disk <IMG>         Attach a disk image
  -g, --graphics           Enable graphics
      --accel              Enable hardware acceleration (KVM or HVF)
  -D, --debug              Halt at startup and expose a GDB stub (conflicts with --accel)

Unrecognized options are forwarded to cargo unchanged.
`)
}

func main() {
	args := os.Args[1:]
	// cargo passes the subcommand name through when invoked as `cargo axbuild`
	if len(args) > 0 && args[0] == "axbuild" {
		args = args[1:]
	}
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	code := 0
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "build", "b":
		code = axbuild.BuildCommand("build", rest)
	case "rustc":
		code = axbuild.BuildCommand("rustc", rest)
	case "check":
		code = axbuild.BuildCommand("check", rest)
	case "clippy":
		code = axbuild.BuildCommand("clippy", rest)
	case "run", "r":
		code = axbuild.RunCommand(rest)
	case "runner":
		// hidden: registered as the cargo runner by `axbuild run`
		code = axbuild.RunnerCommand(rest)
	case "version", "--version", "-V":
		fmt.Println(axbuild.Version())
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command `%s`\n\n", cmd)
		usage()
		code = 1
	}
	os.Exit(code)
}
