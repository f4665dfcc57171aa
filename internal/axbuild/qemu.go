package axbuild

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// BusType is the virtual device interconnect: PCI or memory-mapped.
type BusType string

const (
	BusPci  BusType = "pci"
	BusMmio BusType = "mmio"
)

func parseBusType(s string) (BusType, error) {
	switch s {
	case "pci":
		return BusPci, nil
	case "mmio":
		return BusMmio, nil
	}
	return "", fmt.Errorf("unknown bus type `%s` (expected pci or mmio)", s)
}

// vdevSuffix is the virtio device name suffix QEMU expects for the bus.
// The default bus is PCI.
func (b BusType) vdevSuffix() string {
	if b == BusMmio {
		return "device"
	}
	return "pci"
}

// QEMUOptions is the resolved bundle of emulator options shared by the run
// and runner phases.
type QEMUOptions struct {
	SMP      string
	Mem      string
	Bus      BusType
	Net      bool
	NetType  string // only "user" is supported
	NetDump  string
	Disk     string
	Graphics bool
	Accel    bool
	Debug    bool
}

// machineInfo describes how a platform is emulated: the QEMU machine name
// and, for boards that need one, a default memory size.
type machineInfo struct {
	name       string
	defaultMem string
}

var qemuMachines = map[Platform]machineInfo{
	PlatformAarch64QemuVirt:     {name: "virt"},
	PlatformAarch64Raspi4:       {name: "raspi4b", defaultMem: "2G"},
	PlatformLoongarch64QemuVirt: {name: "virt", defaultMem: "1G"},
	PlatformRiscv64QemuVirt:     {name: "virt"},
	PlatformX86_64QemuQ35:       {name: "q35"},
}

func machineFor(platform Platform) (machineInfo, error) {
	machine, ok := qemuMachines[platform]
	if !ok {
		return machineInfo{}, fmt.Errorf("unsupported platform: %s", platform)
	}
	return machine, nil
}

// runnerCommand builds the command string the build tool will later invoke
// to run the produced binary: this same tool in runner mode, with the
// emulator-relevant flags of the current invocation.
func (q *QEMUOptions) runnerCommand() string {
	runner := "axbuild runner"
	if q.SMP != "" {
		runner += " --smp " + q.SMP
	}
	if q.Mem != "" {
		runner += " --mem " + q.Mem
	}
	if q.Bus != "" {
		runner += " --bus " + string(q.Bus)
	}
	if q.Net {
		runner += " --net"
		if q.NetType != "" {
			runner += "=" + q.NetType
		}
	}
	if q.NetDump != "" {
		runner += " --net-dump " + q.NetDump
	}
	if q.Disk != "" {
		runner += " --disk " + q.Disk
	}
	if q.Graphics {
		runner += " --graphics"
	}
	if q.Accel {
		runner += " --accel"
	}
	if q.Debug {
		runner += " --debug"
	}
	return runner
}

// runnerEnvName derives the build tool's per-target runner override variable
// from a target identifier: uppercased, non-alphanumerics replaced.
func runnerEnvName(target string) string {
	var b strings.Builder
	for _, r := range target {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return "CARGO_TARGET_" + b.String() + "_RUNNER"
}

// register points the build tool's runner for this target at ourselves.
func (q *QEMUOptions) register(target string, cmd *exec.Cmd) {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, runnerEnvName(target)+"="+q.runnerCommand())
}

// prepareImage extracts a raw binary image for architectures whose boot
// protocol cannot load the linked executable directly.
func prepareImage(arch Arch, binary string) (string, error) {
	switch arch {
	case ArchAarch64, ArchRiscv64:
		image := strings.TrimSuffix(binary, filepath.Ext(binary)) + ".bin"
		cmd := exec.Command("rust-objcopy", "--strip-all", "-O", "binary", binary, image)
		if err := runCommand(cmd); err != nil {
			return "", err
		}
		return image, nil
	default:
		return binary, nil
	}
}

// hostAccelAvailable reports whether the host can hardware-accelerate a
// guest of the given architecture. Apple hosts always count (HVF ships with
// the OS); elsewhere the KVM device node must exist.
func hostAccelAvailable(arch Arch) bool {
	hostMatches := (runtime.GOARCH == "amd64" && arch == ArchX86_64) ||
		(runtime.GOARCH == "arm64" && arch == ArchAarch64)
	if !hostMatches {
		return false
	}
	if runtime.GOOS == "darwin" {
		return true
	}
	return unix.Access(kvmDevice, unix.F_OK) == nil
}

func accelBackend() string {
	if runtime.GOOS == "darwin" {
		return "hvf"
	}
	return "kvm"
}

// synthesize builds the full emulator argument vector, program name first.
func (q *QEMUOptions) synthesize(kernel string, arch Arch, machine machineInfo, recordedSMP string, accel bool) []string {
	argv := []string{
		"qemu-system-" + string(arch),
		"-kernel", kernel,
		"-machine", machine.name,
	}

	smp := q.SMP
	if smp == "" {
		smp = recordedSMP
	}
	argv = append(argv, "-smp", smp)

	if arch == ArchAarch64 {
		argv = append(argv, "-cpu", "cortex-a72")
	}

	mem := q.Mem
	if mem == "" {
		mem = machine.defaultMem
	}
	if mem != "" {
		argv = append(argv, "-m", mem)
	}

	suffix := q.Bus.vdevSuffix()

	if q.Net {
		argv = append(argv,
			"-device", fmt.Sprintf("virtio-net-%s,netdev=net0", suffix),
			"-netdev", "user,id=net0,hostfwd=tcp::5555-:5555,hostfwd=udp::5555-:5555",
		)
	}
	if q.NetDump != "" {
		argv = append(argv,
			"-object", fmt.Sprintf("filter-dump,id=dump0,netdev=net0,file=%s", q.NetDump),
		)
	}
	if q.Disk != "" {
		argv = append(argv,
			"-device", fmt.Sprintf("virtio-blk-%s,drive=disk0", suffix),
			"-drive", fmt.Sprintf("id=disk0,if=none,format=raw,file=%s", q.Disk),
		)
	}

	if q.Graphics {
		argv = append(argv,
			"-device", "virtio-gpu-"+suffix,
			"-vga", "none",
			"-serial", "mon:stdio",
		)
	} else {
		argv = append(argv, "-nographic")
	}

	if q.Debug {
		argv = append(argv, "-s", "-S")
	} else if accel {
		argv = append(argv, "-cpu", "host", "-accel", accelBackend())
	}

	return argv
}

// Execute is the runner phase: reconstruct the emulator invocation from the
// environment recorded at build time and hand off to QEMU. The environment
// is the only channel carrying platform and CPU context into this phase.
func (q *QEMUOptions) Execute(binary string) error {
	name := os.Getenv("AX_PLATFORM")
	if name == "" {
		return fmt.Errorf("AX_PLATFORM is not set; the runner is registered by `axbuild run`, not invoked directly")
	}
	platform, err := ParsePlatform(name)
	if err != nil {
		return err
	}

	machine, err := machineFor(platform)
	if err != nil {
		return err
	}
	arch := platform.Arch()

	kernel, err := prepareImage(arch, binary)
	if err != nil {
		return err
	}

	recordedSMP := os.Getenv("AX_SMP")
	if q.SMP == "" && recordedSMP == "" {
		return fmt.Errorf("AX_SMP is not set; the runner is registered by `axbuild run`, not invoked directly")
	}

	accel := false
	if !q.Debug {
		accel = q.Accel || hostAccelAvailable(arch)
	}

	argv := q.synthesize(kernel, arch, machine, recordedSMP, accel)
	return runCommand(exec.Command(argv[0], argv[1:]...))
}
