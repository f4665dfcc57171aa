package axbuild

import (
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Options is the resolved, validated bundle of kernel build options. Built
// once per invocation from flags and their environment fallbacks, immutable
// afterwards.
type Options struct {
	Platform  Platform
	SoftFloat bool
	Cpus      int
	Configs   []string
	Log       string
	IP        netip.Addr
	Gateway   netip.Addr
}

var logLevels = []string{"off", "error", "warn", "info", "debug", "trace"}

// arceosFlags holds the raw flag values before validation. Defaults come
// from the environment, mirroring the flag names.
type arceosFlags struct {
	arch      string
	platform  string
	softFloat bool
	cpus      string
	configs   []string
	log       string
	ip        string
	gateway   string
}

func defaultArceosFlags() arceosFlags {
	return arceosFlags{
		arch:      os.Getenv("ARCH"),
		platform:  os.Getenv("PLATFORM"),
		softFloat: envBool("SOFT_FLOAT"),
		cpus:      envDefault("CPUS", "1"),
		configs:   envList("CONFIGS"),
		log:       envDefault("LOG", "warn"),
		ip:        envDefault("IP", "10.0.2.15"),
		gateway:   envDefault("GW", "10.0.2.2"),
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func (f *arceosFlags) resolve() (*Options, error) {
	platform, err := ResolvePlatform(f.arch, f.platform)
	if err != nil {
		return nil, err
	}

	cpus, err := strconv.Atoi(f.cpus)
	if err != nil || cpus < 1 {
		return nil, fmt.Errorf("invalid CPU count `%s`", f.cpus)
	}

	level := strings.ToLower(f.log)
	valid := false
	for _, l := range logLevels {
		if level == l {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("invalid log level `%s` (expected one of %s)", f.log, strings.Join(logLevels, ", "))
	}

	ip, err := parseIPv4(f.ip)
	if err != nil {
		return nil, fmt.Errorf("invalid IP address `%s`", f.ip)
	}
	gw, err := parseIPv4(f.gateway)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway address `%s`", f.gateway)
	}

	return &Options{
		Platform:  platform,
		SoftFloat: f.softFloat,
		Cpus:      cpus,
		Configs:   f.configs,
		Log:       level,
		IP:        ip,
		Gateway:   gw,
	}, nil
}

func parseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("not an IPv4 address")
	}
	return addr, nil
}

// Arch returns the architecture of the chosen platform.
func (o *Options) Arch() Arch {
	return o.Platform.Arch()
}

// Target returns the compilation target identifier for this build.
func (o *Options) Target() string {
	return o.Arch().Target(o.SoftFloat)
}

// linkFlags builds the compiler-flags value for a real platform: the
// per-platform linker script, no position-independent executable, and no
// section garbage collection across start/stop symbols. All three are
// required for the produced kernel to link and boot.
func linkFlags(binaryDir string, platform Platform) string {
	return fmt.Sprintf(
		"-C link-arg=-T%s/linker_%s.lds -C link-arg=-no-pie -C link-arg=-znostart-stop-gc",
		binaryDir, platform,
	)
}

// Apply translates the options into the build tool's command line and
// environment: selects the target, persists the merged configuration under
// <targetDir>/<target>/<profile>, and exports the AX_* contract.
func (o *Options) Apply(cmd *exec.Cmd, targetDir, profile string) error {
	platform := o.Platform
	arch := o.Arch()
	target := o.Target()

	cmd.Args = append(cmd.Args, "--target", target)

	binaryDir := filepath.Join(targetDir, target, profile)
	configPath := filepath.Join(binaryDir, configFileName)

	doc, err := mergedConfig(platform, o.Configs, o.Cpus)
	if err != nil {
		return err
	}
	data, err := doc.dump()
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := writeIfChanged(configPath, data); err != nil {
		return err
	}

	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path `%s`: %w", configPath, err)
	}

	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env,
		"AX_CONFIG_PATH="+absConfig,
		"AX_PLATFORM="+string(platform),
		"AX_ARCH="+string(arch),
		"AX_SMP="+strconv.Itoa(o.Cpus),
		"AX_TARGET="+target,
		"AX_MODE="+profile,
		"AX_LOG="+o.Log,
		"AX_IP="+o.IP.String(),
		"AX_GW="+o.Gateway.String(),
	)

	if platform != PlatformDummy {
		cmd.Env = append(cmd.Env, "RUSTFLAGS="+linkFlags(binaryDir, platform))
	}

	return nil
}

// Feature is a kernel capability that certain packages must declare under
// certain build conditions.
type Feature struct {
	Name     string
	Cond     string
	Packages []string
}

var smpFeature = Feature{
	Name: "smp",
	Cond: "number of CPUs > 1",
	Packages: []string{
		"axlibc", "arceos_posix_api", "axstd", "axfeat", "axhal", "axruntime", "axtask",
	},
}

var fpSimdFeature = Feature{
	Name:     "fp_simd",
	Cond:     "compiling to AArch64 without soft float",
	Packages: []string{"axlibc", "axstd", "axfeat", "axhal"},
}

func (o *Options) activeFeatures() []*Feature {
	var features []*Feature
	if o.Cpus > 1 {
		features = append(features, &smpFeature)
	}
	if o.Arch() == ArchAarch64 && !o.SoftFloat {
		features = append(features, &fpSimdFeature)
	}
	return features
}

// CheckFeatures verifies that a compiled package declares every capability
// the current build conditions require, returning one warning per missing
// capability. Advisory only: compilation of the package has already happened
// by the time its build event arrives.
func (o *Options) CheckFeatures(pkg string, declared []string) []string {
	var warnings []string
	for _, f := range o.activeFeatures() {
		if !slices.Contains(f.Packages, pkg) || slices.Contains(declared, f.Name) {
			continue
		}
		warnings = append(warnings, fmt.Sprintf(
			"feature `%s` should be enabled for package `%s` when %s",
			f.Name, pkg, f.Cond,
		))
	}
	return warnings
}
