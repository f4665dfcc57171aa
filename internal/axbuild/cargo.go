package axbuild

import (
	"encoding/json"
	"fmt"
	"os/exec"
)

// cargoCommand is the thin wrapper around the underlying build tool: the
// handful of its options this tool must understand, plus everything else
// forwarded verbatim.
type cargoCommand struct {
	subcommand    string
	release       bool
	profile       string
	targetDir     string
	manifestPath  string
	messageFormat string
	args          []string

	// set when the user passed --target, which this tool owns exclusively
	targetIgnored bool
}

// Profile resolves the build profile the same way the build tool does.
func (c *cargoCommand) Profile() string {
	if c.release {
		return "release"
	}
	if c.profile != "" {
		return c.profile
	}
	return "debug"
}

// TargetDir returns the build tool's output directory, querying its metadata
// when the user did not pick one explicitly.
func (c *cargoCommand) TargetDir() (string, error) {
	if c.targetDir != "" {
		return c.targetDir, nil
	}

	args := []string{"metadata", "--format-version", "1", "--no-deps"}
	if c.manifestPath != "" {
		args = append(args, "--manifest-path", c.manifestPath)
	}
	out, err := exec.Command("cargo", args...).Output()
	if err != nil {
		return "", fmt.Errorf("failed to get metadata: %w", err)
	}

	var metadata struct {
		TargetDirectory string `json:"target_directory"`
	}
	if err := json.Unmarshal(out, &metadata); err != nil {
		return "", fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.TargetDirectory == "" {
		return "", fmt.Errorf("metadata reported no target directory")
	}
	return metadata.TargetDirectory, nil
}

// Command builds the cargo invocation. When the caller did not choose a
// message format the JSON event stream is requested so compiler-artifact
// events can be inspected; the second result reports whether stdout carries
// that stream.
func (c *cargoCommand) Command() (*exec.Cmd, bool) {
	args := []string{c.subcommand}
	if c.release {
		args = append(args, "--release")
	}
	if c.profile != "" {
		args = append(args, "--profile", c.profile)
	}
	if c.targetDir != "" {
		args = append(args, "--target-dir", c.targetDir)
	}
	if c.manifestPath != "" {
		args = append(args, "--manifest-path", c.manifestPath)
	}
	if c.messageFormat != "" {
		args = append(args, "--message-format", c.messageFormat)
	}

	stream := c.messageFormat == ""
	if stream {
		args = append(args, "--message-format=json-render-diagnostics")
	}
	args = append(args, c.args...)

	return exec.Command("cargo", args...), stream
}

// cargoMessage is one line of the build tool's JSON event stream. Only
// compiler-artifact events are inspected; the rest pass through.
type cargoMessage struct {
	Reason string `json:"reason"`
	Target struct {
		Name string `json:"name"`
	} `json:"target"`
	Features []string `json:"features"`
}
