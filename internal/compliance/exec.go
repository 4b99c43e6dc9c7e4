package compliance

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/pkg/errors"
)

// ExecOpenSourceChecker delegates check_files (§6) to an external binary,
// grounded on internal/gitworkspace's os/exec-shelling technique for
// operations nothing in the dependency pack supplies a Go-native client for.
// The binary receives repoDir as argv[1] and the candidate files as the
// remaining argv, and must print a JSON array of Violation on stdout.
type ExecOpenSourceChecker struct {
	BinaryPath string
}

func (c *ExecOpenSourceChecker) CheckFiles(ctx context.Context, repoDir string, files []string) ([]Violation, error) {
	args := append([]string{repoDir}, files...)
	cmd := exec.CommandContext(ctx, c.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "open-source checker failed: %s", stderr.String())
	}
	var violations []Violation
	if err := json.Unmarshal(stdout.Bytes(), &violations); err != nil {
		return nil, errors.Wrap(err, "failed to parse open-source checker output")
	}
	return violations, nil
}

// ExecSubmoduleChecker delegates check_submodule (§6) to an external binary
// the same way ExecOpenSourceChecker does. The binary must print a JSON
// object {"consistent": bool, "details": string} on stdout.
type ExecSubmoduleChecker struct {
	BinaryPath string
}

type submoduleCheckResult struct {
	Consistent bool   `json:"consistent"`
	Details    string `json:"details"`
}

func (c *ExecSubmoduleChecker) CheckSubmodule(ctx context.Context, repoDir, submoduleDir string) (bool, string, error) {
	cmd := exec.CommandContext(ctx, c.BinaryPath, repoDir, submoduleDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false, "", errors.Wrapf(err, "submodule checker failed: %s", stderr.String())
	}
	var result submoduleCheckResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return false, "", errors.Wrap(err, "failed to parse submodule checker output")
	}
	return result.Consistent, result.Details, nil
}
