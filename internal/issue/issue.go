// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Id identifies a class of user-fixable failure.
type Id int

const (
	KeyMissingId Id = iota + 1
	DecryptionFailedId
	PackageCorruptId
	IntegrityMismatchId
	ManifestInvalidId
	ModuleNotFoundId
	AlreadyInstalledId
	CapabilityNotFoundId
	StepTimeoutId
	BusinessFailureId
	RequirementsNotMetId
	ConfigLoadFailedId
)

type (
	// MarkdownMsg is guidance rendered through glamour.
	MarkdownMsg string

	// Issue is the guidance shown for one failure class.
	Issue struct {
		id    Id
		title string
		mdMsg MarkdownMsg
	}
)

// Id returns the issue id.
func (i *Issue) Id() Id { return i.id }

// Title returns the one-line heading.
func (i *Issue) Title() string { return i.title }

// MarkdownMsg returns the raw guidance.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// Render renders the guidance for a terminal. stylePath is a glamour style
// name such as "dark", "light" or "notty".
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString("# ")
	md.WriteString(i.title)
	md.WriteString("\n")
	md.WriteString(string(i.mdMsg))
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	issues = map[Id]*Issue{}
)

func register(id Id, title, md string) {
	issues[id] = &Issue{id: id, title: title, mdMsg: MarkdownMsg(md)}
}

func init() {
	register(KeyMissingId, "No encryption key configured", `
Packaging, installing and verifying modules all need the shared key material.

## Things you can try
- Generate a key and export it:
~~~
$ export ALIENMOD_ENCRYPTION_KEY=$(alienmod keygen)
~~~
- Pass it for one command with `+"`--key`"+`
- Set `+"`encryption_key`"+` in your config.cue`)

	register(DecryptionFailedId, "The package could not be decrypted", `
The key on this host is not the key the package was sealed with, or the
package bytes were modified after packaging.

## Things you can try
- Check that packager and installer use the same `+"`ALIENMOD_ENCRYPTION_KEY`"+`
- Download the package again
- Inspect the header without a key:
~~~
$ alienmod inspect <package>
~~~`)

	register(PackageCorruptId, "Not a valid module package", `
The file does not start with the ALIENMOD header, uses an unsupported format
version, or its payload is not a readable archive.

## Things you can try
- Make sure the file is a `+"`.alienmodule`"+` package and not a source directory
- Re-create it with `+"`alienmod package <dir>`"+``)

	register(IntegrityMismatchId, "Package integrity check failed", `
The integrity tag or a file hash does not match the package contents.
The package was modified after it was built, or it was built with other key material.

## Things you can try
- Obtain a fresh copy from the publisher
- Rebuild the package from source with the key this host uses`)

	register(ManifestInvalidId, "Invalid module manifest", `
manifest.json is missing required fields or holds values of the wrong type.

## Things you can try
- Validate the source tree:
~~~
$ alienmod validate <dir>
~~~
- Compare with a freshly scaffolded module:
~~~
$ alienmod init scratch
~~~`)

	register(ModuleNotFoundId, "Module not installed", `
No installed module has this id in the configured install root.

## Things you can try
- List installed modules:
~~~
$ alienmod list
~~~
- Check `+"`--modules-dir`"+` or `+"`install_root`"+` in your configuration`)

	register(AlreadyInstalledId, "Module already installed", `
A module with this id is already installed. Installs never overwrite silently.

## Things you can try
- Replace it:
~~~
$ alienmod install --force <package>
~~~
- Or remove it first with `+"`alienmod uninstall <id>`"+``)

	register(CapabilityNotFoundId, "Capability not available", `
A chain step names a capability or method this engine does not provide.

## Things you can try
- List the registered capabilities and their methods:
~~~
$ alienmod capabilities
~~~
- Check the spelling of `+"`module`"+` and `+"`method`"+` in the manifest's primitives`)

	register(StepTimeoutId, "Step timed out", `
A parallel step did not finish within the per-step timeout.

## Things you can try
- Raise `+"`parallel.step_timeout`"+` in config.cue
- Check the capability for blocking calls that ignore cancellation`)

	register(BusinessFailureId, "A step reported a failure", `
The module stops on the first failed step. The step's own error message is
shown above.

## Things you can try
- Check the input you passed with `+"`--input`"+`
- Review the module's config.yaml defaults:
~~~
$ alienmod info <id>
~~~`)

	register(RequirementsNotMetId, "Host requirements not met", `
The module declares hardware or software prerequisites this host does not satisfy.

## Things you can try
- Show every unmet requirement:
~~~
$ alienmod requirements <id>
~~~
- Install missing executables or start the HAL service`)

	register(ConfigLoadFailedId, "Failed to load configuration", `
The configuration file is not valid CUE or does not match the schema.

## Things you can try
- Print the effective configuration:
~~~
$ alienmod config show
~~~
- Check durations use Go syntax such as `+"`\"90s\"`"+``)
}

// Values returns every issue ordered by id.
func Values() []*Issue {
	out := slices.Collect(maps.Values(issues))
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

// Get returns the issue for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
