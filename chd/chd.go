// Package chd shells out to MAME's chdman to move raw disk images in and
// out of the CHD archival container. It operates strictly below the label
// layer: the container is wrapped and unwrapped without ever inspecting
// label semantics.
package chd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// DefaultToolName is resolved on PATH when no explicit path is given.
const DefaultToolName = "chdman"

// Geometry is the CHS triple chdman records in the container header.
type Geometry struct {
	Cylinders       uint32
	Heads           uint32
	SectorsPerTrack uint32
}

// Tool invokes a chdman binary.
type Tool struct {
	path   string
	stdout io.Writer
}

// NewTool returns a Tool for the given chdman path, or the PATH-resolved
// default when path is empty.
func NewTool(path string) (*Tool, error) {
	if path == "" {
		path = DefaultToolName
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("chdman not found: %w", err)
	}
	return &Tool{path: resolved}, nil
}

// SetStdout redirects the converter's progress output, which otherwise
// goes to os.Stdout.
func (t *Tool) SetStdout(w io.Writer) {
	t.stdout = w
}

// Wrap packs a raw image into a CHD container, recording the drive
// geometry so emulators present the correct CHS values.
func (t *Tool) Wrap(ctx context.Context, rawPath, chdPath string, g Geometry) error {
	args := []string{
		"createhd",
		"--input", rawPath,
		"--output", chdPath,
		"--chs", fmt.Sprintf("%d,%d,%d", g.Cylinders, g.Heads, g.SectorsPerTrack),
		"--sectorsize", "512",
	}
	return t.run(ctx, args)
}

// Unwrap extracts the raw image from a CHD container.
func (t *Tool) Unwrap(ctx context.Context, chdPath, rawPath string) error {
	args := []string{
		"extracthd",
		"--input", chdPath,
		"--output", rawPath,
	}
	return t.run(ctx, args)
}

func (t *Tool) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, t.path, args...)
	if t.stdout != nil {
		cmd.Stdout = t.stdout
	} else {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("chdman %s: %w", args[0], err)
	}
	return nil
}
