package axbuild

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed configs/*.toml
var configFS embed.FS

// Arch is one of the supported target architectures.
type Arch string

const (
	ArchAarch64     Arch = "aarch64"
	ArchLoongarch64 Arch = "loongarch64"
	ArchRiscv64     Arch = "riscv64"
	ArchX86_64      Arch = "x86_64"
)

// Platform identifies a supported hardware platform. The dummy platform is
// used when no real target was requested.
type Platform string

const (
	PlatformDummy               Platform = "dummy"
	PlatformAarch64Bsta1000b    Platform = "aarch64-bsta1000b"
	PlatformAarch64PhytiumPi    Platform = "aarch64-phytium-pi"
	PlatformAarch64QemuVirt     Platform = "aarch64-qemu-virt"
	PlatformAarch64Raspi4       Platform = "aarch64-raspi4"
	PlatformLoongarch64QemuVirt Platform = "loongarch64-qemu-virt"
	PlatformRiscv64QemuVirt     Platform = "riscv64-qemu-virt"
	PlatformX86_64PcOslab       Platform = "x86_64-pc-oslab"
	PlatformX86_64QemuQ35       Platform = "x86_64-qemu-q35"
)

var platformArch = map[Platform]Arch{
	PlatformDummy:               ArchX86_64,
	PlatformAarch64Bsta1000b:    ArchAarch64,
	PlatformAarch64PhytiumPi:    ArchAarch64,
	PlatformAarch64QemuVirt:     ArchAarch64,
	PlatformAarch64Raspi4:       ArchAarch64,
	PlatformLoongarch64QemuVirt: ArchLoongarch64,
	PlatformRiscv64QemuVirt:     ArchRiscv64,
	PlatformX86_64PcOslab:       ArchX86_64,
	PlatformX86_64QemuQ35:       ArchX86_64,
}

var defaultPlatform = map[Arch]Platform{
	ArchAarch64:     PlatformAarch64QemuVirt,
	ArchLoongarch64: PlatformLoongarch64QemuVirt,
	ArchRiscv64:     PlatformRiscv64QemuVirt,
	ArchX86_64:      PlatformX86_64QemuQ35,
}

// ParseArch validates a user-supplied architecture name.
func ParseArch(s string) (Arch, error) {
	a := Arch(s)
	if _, ok := defaultPlatform[a]; !ok {
		return "", fmt.Errorf("unknown architecture `%s` (supported: %s)", s, strings.Join(archNames(), ", "))
	}
	return a, nil
}

// ParsePlatform validates a user-supplied platform name.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if _, ok := platformArch[p]; !ok {
		return "", fmt.Errorf("unknown platform `%s` (supported: %s)", s, strings.Join(platformNames(), ", "))
	}
	return p, nil
}

func archNames() []string {
	return []string{
		string(ArchAarch64),
		string(ArchLoongarch64),
		string(ArchRiscv64),
		string(ArchX86_64),
	}
}

func platformNames() []string {
	return []string{
		string(PlatformDummy),
		string(PlatformAarch64Bsta1000b),
		string(PlatformAarch64PhytiumPi),
		string(PlatformAarch64QemuVirt),
		string(PlatformAarch64Raspi4),
		string(PlatformLoongarch64QemuVirt),
		string(PlatformRiscv64QemuVirt),
		string(PlatformX86_64PcOslab),
		string(PlatformX86_64QemuQ35),
	}
}

// ResolvePlatform maps the --arch/--platform flag pair onto a platform. The
// two flags are mutually exclusive; when neither is given the dummy platform
// is selected.
func ResolvePlatform(archFlag, platformFlag string) (Platform, error) {
	switch {
	case archFlag != "" && platformFlag != "":
		return "", fmt.Errorf("--arch and --platform are mutually exclusive")
	case archFlag != "":
		arch, err := ParseArch(archFlag)
		if err != nil {
			return "", err
		}
		return arch.DefaultPlatform(), nil
	case platformFlag != "":
		return ParsePlatform(platformFlag)
	default:
		return PlatformDummy, nil
	}
}

// Arch returns the architecture a platform compiles for. Every platform in
// the static table has one; a miss is a defect in the table, not bad input.
func (p Platform) Arch() Arch {
	arch, ok := platformArch[p]
	if !ok {
		panic(fmt.Sprintf("platform %q missing from architecture table", p))
	}
	return arch
}

// DefaultPlatform returns the platform an architecture builds for when the
// user names only the architecture.
func (a Arch) DefaultPlatform() Platform {
	p, ok := defaultPlatform[a]
	if !ok {
		panic(fmt.Sprintf("architecture %q missing from platform table", a))
	}
	return p
}

// Target returns the compilation target identifier for an architecture.
// Only aarch64 has a soft-float variant.
func (a Arch) Target(softFloat bool) string {
	switch a {
	case ArchAarch64:
		if softFloat {
			return "aarch64-unknown-none-softfloat"
		}
		return "aarch64-unknown-none"
	case ArchLoongarch64:
		return "loongarch64-unknown-none"
	case ArchRiscv64:
		return "riscv64gc-unknown-none-elf"
	case ArchX86_64:
		return "x86_64-unknown-none"
	}
	panic(fmt.Sprintf("architecture %q missing from target table", a))
}

// baseConfig returns the compiled-in defaults with the platform's fragment
// merged on top. The embedded documents are part of the binary; failing to
// parse them is a defect, not a runtime error.
func (p Platform) baseConfig() Document {
	defaults, err := configFS.ReadFile("configs/defconfig.toml")
	if err != nil {
		panic("default config missing: " + err.Error())
	}
	doc, err := parseConfig(defaults)
	if err != nil {
		panic("default config is invalid: " + err.Error())
	}

	fragment, err := configFS.ReadFile("configs/" + string(p) + ".toml")
	if err != nil {
		panic(fmt.Sprintf("platform config for %q missing: %v", p, err))
	}
	plat, err := parseConfig(fragment)
	if err != nil {
		panic(fmt.Sprintf("platform config for %q is invalid: %v", p, err))
	}

	doc.merge(plat)
	return doc
}
