// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/alienmod/alienmod/internal/capability"
	"github.com/alienmod/alienmod/internal/chain"
	"github.com/alienmod/alienmod/internal/config"
	"github.com/alienmod/alienmod/internal/issue"
	"github.com/alienmod/alienmod/internal/orchestrate"
	"github.com/alienmod/alienmod/internal/store"
	"github.com/alienmod/alienmod/pkg/container"
	"github.com/alienmod/alienmod/pkg/manifest"
	"github.com/alienmod/alienmod/pkg/packager"
	"github.com/alienmod/alienmod/pkg/sealer"
)

// Exit codes beyond the generic 1.
const (
	exitNotFound     = 3
	exitIntegrity    = 4
	exitRequirements = 5
)

// classify maps a failure to the issue catalog. ok is false for errors with
// no specific guidance.
func classify(err error) (id issue.Id, ok bool) {
	switch {
	case errors.Is(err, errKeyMissing):
		return issue.KeyMissingId, true
	case errors.Is(err, sealer.ErrCrypto):
		return issue.DecryptionFailedId, true
	case errors.Is(err, container.ErrFormat):
		return issue.PackageCorruptId, true
	case errors.Is(err, packager.ErrSignature):
		return issue.IntegrityMismatchId, true
	case errors.Is(err, manifest.ErrInvalidManifest):
		return issue.ManifestInvalidId, true
	case errors.Is(err, store.ErrNotFound):
		return issue.ModuleNotFoundId, true
	case errors.Is(err, store.ErrAlreadyInstalled):
		return issue.AlreadyInstalledId, true
	case errors.Is(err, capability.ErrUnknownCapability), errors.Is(err, capability.ErrUnknownMethod):
		return issue.CapabilityNotFoundId, true
	case errors.Is(err, orchestrate.ErrTimeout):
		return issue.StepTimeoutId, true
	case errors.Is(err, chain.ErrBusinessFailure):
		return issue.BusinessFailureId, true
	case errors.Is(err, errRequirementsNotMet):
		return issue.RequirementsNotMetId, true
	case errors.Is(err, config.ErrInvalidConfig), isConfigFileError(err):
		return issue.ConfigLoadFailedId, true
	}
	return 0, false
}

func isConfigFileError(err error) bool {
	var ae *issue.ActionableError
	return errors.As(err, &ae) && ae.Operation == "load configuration"
}

// exitCode picks a distinct exit code for failure classes scripts branch on.
func exitCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return exitNotFound
	case errors.Is(err, packager.ErrSignature), errors.Is(err, sealer.ErrCrypto):
		return exitIntegrity
	case errors.Is(err, errRequirementsNotMet):
		return exitRequirements
	}
	return 1
}

// withExitCode wraps err so Main exits with a class-specific code.
func withExitCode(err error) error {
	if err == nil {
		return nil
	}
	if code := exitCode(err); code != 1 {
		return &ExitError{Code: code, Err: err}
	}
	return err
}

// renderGuidance prints the Markdown guidance for err's failure class.
func (a *App) renderGuidance(err error) {
	id, ok := classify(err)
	if !ok {
		return
	}
	out, rerr := issue.Get(id).Render("auto")
	if rerr != nil {
		return
	}
	fmt.Fprint(a.stderr, out)
}

var errRequirementsNotMet = errors.New("requirements not met")
