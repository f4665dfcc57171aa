package axbuild

import (
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(platform Platform, cpus int) *Options {
	return &Options{
		Platform: platform,
		Cpus:     cpus,
		Log:      "warn",
		IP:       netip.MustParseAddr("10.0.2.15"),
		Gateway:  netip.MustParseAddr("10.0.2.2"),
	}
}

func envValue(t *testing.T, env []string, key string) string {
	t.Helper()
	// later entries win, matching how the child process resolves duplicates
	value := ""
	found := false
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			value = v
			found = true
		}
	}
	require.True(t, found, "missing env %s", key)
	return value
}

func TestResolveOptions(t *testing.T) {
	flags := arceosFlags{cpus: "4", log: "Info", ip: "10.0.2.15", gateway: "10.0.2.2", arch: "aarch64"}
	options, err := flags.resolve()
	require.NoError(t, err)
	assert.Equal(t, PlatformAarch64QemuVirt, options.Platform)
	assert.Equal(t, 4, options.Cpus)
	assert.Equal(t, "info", options.Log)
	assert.Equal(t, "aarch64-unknown-none", options.Target())

	bad := []arceosFlags{
		{cpus: "0", log: "warn", ip: "10.0.2.15", gateway: "10.0.2.2"},
		{cpus: "x", log: "warn", ip: "10.0.2.15", gateway: "10.0.2.2"},
		{cpus: "1", log: "loud", ip: "10.0.2.15", gateway: "10.0.2.2"},
		{cpus: "1", log: "warn", ip: "fe80::1", gateway: "10.0.2.2"},
		{cpus: "1", log: "warn", ip: "10.0.2.15", gateway: "not-an-ip"},
		{cpus: "1", log: "warn", ip: "10.0.2.15", gateway: "10.0.2.2", arch: "aarch64", platform: "aarch64-raspi4"},
	}
	for _, flags := range bad {
		_, err := flags.resolve()
		assert.Error(t, err, "%+v", flags)
	}
}

func TestFlagEnvFallback(t *testing.T) {
	t.Setenv("ARCH", "")
	t.Setenv("SOFT_FLOAT", "")
	t.Setenv("CONFIGS", "")
	t.Setenv("IP", "")
	t.Setenv("GW", "")
	t.Setenv("CPUS", "8")
	t.Setenv("PLATFORM", "riscv64-qemu-virt")
	t.Setenv("LOG", "debug")

	flags := defaultArceosFlags()
	options, err := flags.resolve()
	require.NoError(t, err)
	assert.Equal(t, 8, options.Cpus)
	assert.Equal(t, PlatformRiscv64QemuVirt, options.Platform)
	assert.Equal(t, "debug", options.Log)
}

func TestLinkFlags(t *testing.T) {
	flags := linkFlags("/tmp/target/aarch64-unknown-none/release", PlatformAarch64QemuVirt)
	assert.Contains(t, flags, "-C link-arg=-T/tmp/target/aarch64-unknown-none/release/linker_aarch64-qemu-virt.lds")
	assert.Contains(t, flags, "-C link-arg=-no-pie")
	assert.Contains(t, flags, "-C link-arg=-znostart-stop-gc")
}

func TestLinkFlagsAllTargets(t *testing.T) {
	// every real platform gets all three mandatory link arguments
	for platform := range platformArch {
		if platform == PlatformDummy {
			continue
		}
		for _, softFloat := range []bool{false, true} {
			target := platform.Arch().Target(softFloat)
			binaryDir := filepath.Join("target", target, "debug")
			flags := linkFlags(binaryDir, platform)
			assert.Contains(t, flags, "-T"+binaryDir+"/linker_"+string(platform)+".lds")
			assert.Contains(t, flags, "-no-pie")
			assert.Contains(t, flags, "-znostart-stop-gc")
		}
	}
}

func TestApply(t *testing.T) {
	targetDir := t.TempDir()
	options := testOptions(PlatformAarch64QemuVirt, 4)

	cmd := exec.Command("cargo", "build")
	require.NoError(t, options.Apply(cmd, targetDir, "release"))

	assert.Equal(t, []string{"cargo", "build", "--target", "aarch64-unknown-none"}, cmd.Args)

	configPath := filepath.Join(targetDir, "aarch64-unknown-none", "release", configFileName)
	_, err := os.Stat(configPath)
	require.NoError(t, err)

	assert.Equal(t, "aarch64-qemu-virt", envValue(t, cmd.Env, "AX_PLATFORM"))
	assert.Equal(t, "aarch64", envValue(t, cmd.Env, "AX_ARCH"))
	assert.Equal(t, "4", envValue(t, cmd.Env, "AX_SMP"))
	assert.Equal(t, "aarch64-unknown-none", envValue(t, cmd.Env, "AX_TARGET"))
	assert.Equal(t, "release", envValue(t, cmd.Env, "AX_MODE"))
	assert.Equal(t, "warn", envValue(t, cmd.Env, "AX_LOG"))
	assert.Equal(t, "10.0.2.15", envValue(t, cmd.Env, "AX_IP"))
	assert.Equal(t, "10.0.2.2", envValue(t, cmd.Env, "AX_GW"))
	assert.True(t, filepath.IsAbs(envValue(t, cmd.Env, "AX_CONFIG_PATH")))

	rustflags := envValue(t, cmd.Env, "RUSTFLAGS")
	assert.Contains(t, rustflags, "linker_aarch64-qemu-virt.lds")

	// written config reflects the forced CPU count
	doc, err := parseConfig(mustRead(t, configPath))
	require.NoError(t, err)
	assert.Equal(t, int64(4), doc["smp"])
}

func TestApplyDummyPlatformHasNoLinkFlags(t *testing.T) {
	cmd := exec.Command("cargo", "check")
	require.NoError(t, testOptions(PlatformDummy, 1).Apply(cmd, t.TempDir(), "debug"))

	for _, kv := range cmd.Env {
		if strings.HasPrefix(kv, "RUSTFLAGS=") {
			// anything inherited from the host is fine; the dummy
			// platform itself must not add link flags
			assert.NotContains(t, kv, "link-arg")
		}
	}
}

func TestApplyIdempotentWrite(t *testing.T) {
	targetDir := t.TempDir()
	options := testOptions(PlatformRiscv64QemuVirt, 2)

	require.NoError(t, options.Apply(exec.Command("cargo", "build"), targetDir, "debug"))
	configPath := filepath.Join(targetDir, "riscv64gc-unknown-none-elf", "debug", configFileName)
	first := mustRead(t, configPath)

	require.NoError(t, options.Apply(exec.Command("cargo", "build"), targetDir, "debug"))
	assert.Equal(t, first, mustRead(t, configPath))
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestCheckFeaturesSMP(t *testing.T) {
	options := testOptions(PlatformRiscv64QemuVirt, 2)

	warnings := options.CheckFeatures("axhal", nil)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "`smp`")
	assert.Contains(t, warnings[0], "`axhal`")
	assert.Contains(t, warnings[0], "number of CPUs > 1")

	assert.Empty(t, options.CheckFeatures("axhal", []string{"smp"}))
	// packages outside the feature's set are not checked
	assert.Empty(t, options.CheckFeatures("axalloc", nil))
	// single CPU builds do not require smp
	assert.Empty(t, testOptions(PlatformRiscv64QemuVirt, 1).CheckFeatures("axhal", nil))
}

func TestCheckFeaturesAarch64(t *testing.T) {
	// aarch64 + hard float + multiple CPUs: both features required
	options := testOptions(PlatformAarch64QemuVirt, 4)
	warnings := options.CheckFeatures("axhal", nil)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "`smp`")
	assert.Contains(t, warnings[1], "`fp_simd`")
	assert.Contains(t, warnings[1], "without soft float")

	// soft float waives fp_simd
	soft := testOptions(PlatformAarch64QemuVirt, 4)
	soft.SoftFloat = true
	warnings = soft.CheckFeatures("axhal", nil)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "`smp`")
}
