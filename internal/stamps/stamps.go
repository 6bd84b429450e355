// Package stamps records successful build steps inside the project volume
// and checks that a command's predecessors are present and current.
package stamps

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the stamp format version.
const Version = 1

// Dir is the stamp root relative to $AVOCADO_PREFIX.
const Dir = ".stamps"

type Command string

const (
	Install   Command = "install"
	Build     Command = "build"
	Image     Command = "image"
	Sign      Command = "sign"
	Provision Command = "provision"
)

type Component string

const (
	SDK       Component = "sdk"
	Extension Component = "ext"
	Runtime   Component = "runtime"
)

// Inputs fingerprint the configuration a step ran against.
type Inputs struct {
	ConfigHash      string `json:"config_hash"`
	PackageListHash string `json:"package_list_hash,omitempty"`
}

// Outputs describe what a step produced.
type Outputs struct {
	InstalledPackagesHash string `json:"installed_packages_hash,omitempty"`
	PackageCount          *int   `json:"package_count,omitempty"`
}

// Stamp records one successful command.
type Stamp struct {
	Version       int       `json:"version"`
	Command       Command   `json:"command"`
	Component     Component `json:"component"`
	ComponentName string    `json:"component_name,omitempty"`
	Target        string    `json:"target"`
	Timestamp     time.Time `json:"timestamp"`
	Success       bool      `json:"success"`
	Inputs        Inputs    `json:"inputs"`
	Outputs       Outputs   `json:"outputs"`
	CLIVersion    string    `json:"cli_version"`
}

// New builds a successful stamp for req.
func New(req Requirement, target string, inputs Inputs, cliVersion string) Stamp {
	return Stamp{
		Version:       Version,
		Command:       req.Command,
		Component:     req.Component,
		ComponentName: req.Name,
		Target:        target,
		Timestamp:     time.Now().UTC().Truncate(time.Second),
		Success:       true,
		Inputs:        inputs,
		CLIVersion:    cliVersion,
	}
}

// Requirement returns the requirement this stamp satisfies.
func (s Stamp) Requirement() Requirement {
	return Requirement{Command: s.Command, Component: s.Component, Name: s.ComponentName}
}

// RelativePath is the stamp location under $AVOCADO_PREFIX/.stamps.
func (s Stamp) RelativePath() string {
	return s.Requirement().RelativePath()
}

// IsCurrent reports whether the stamp was written for inputs. Package list
// hashes are compared only when both sides carry one.
func (s Stamp) IsCurrent(inputs Inputs) bool {
	if s.Inputs.ConfigHash != inputs.ConfigHash {
		return false
	}
	if s.Inputs.PackageListHash != "" && inputs.PackageListHash != "" &&
		s.Inputs.PackageListHash != inputs.PackageListHash {
		return false
	}
	return true
}

// Parse decodes a stamp as written by WriteScript.
func Parse(data []byte) (Stamp, error) {
	var s Stamp
	if err := json.Unmarshal(data, &s); err != nil {
		return Stamp{}, fmt.Errorf("parse stamp: %w", err)
	}
	if s.Version != Version {
		return Stamp{}, fmt.Errorf("parse stamp: unsupported version %d", s.Version)
	}
	return s, nil
}

// Requirement names a stamp that must be current before a command runs.
type Requirement struct {
	Command   Command
	Component Component
	// Name is empty for SDK requirements.
	Name string
}

func SDKInstall() Requirement { return Requirement{Command: Install, Component: SDK} }

func ExtInstall(name string) Requirement {
	return Requirement{Command: Install, Component: Extension, Name: name}
}

func ExtBuild(name string) Requirement {
	return Requirement{Command: Build, Component: Extension, Name: name}
}

func ExtImage(name string) Requirement {
	return Requirement{Command: Image, Component: Extension, Name: name}
}

func RuntimeInstall(name string) Requirement {
	return Requirement{Command: Install, Component: Runtime, Name: name}
}

func RuntimeBuild(name string) Requirement {
	return Requirement{Command: Build, Component: Runtime, Name: name}
}

func RuntimeSign(name string) Requirement {
	return Requirement{Command: Sign, Component: Runtime, Name: name}
}

func RuntimeProvision(name string) Requirement {
	return Requirement{Command: Provision, Component: Runtime, Name: name}
}

// RelativePath is sdk/<cmd>.stamp, ext/<name>/<cmd>.stamp or
// runtime/<name>/<cmd>.stamp.
func (r Requirement) RelativePath() string {
	if r.Component == SDK {
		return fmt.Sprintf("sdk/%s.stamp", r.Command)
	}
	return fmt.Sprintf("%s/%s/%s.stamp", r.Component, r.Name, r.Command)
}

// Dir is the directory holding every stamp of the requirement's component.
func (r Requirement) Dir() string {
	if r.Component == SDK {
		return "sdk"
	}
	return fmt.Sprintf("%s/%s", r.Component, r.Name)
}

func (r Requirement) Description() string {
	switch r.Component {
	case SDK:
		return fmt.Sprintf("SDK %s", r.Command)
	case Extension:
		return fmt.Sprintf("extension '%s' %s", r.Name, r.Command)
	case Runtime:
		return fmt.Sprintf("runtime '%s' %s", r.Name, r.Command)
	default:
		return fmt.Sprintf("%s %s", r.Component, r.Command)
	}
}

// FixCommand is the avocado invocation that produces the stamp.
func (r Requirement) FixCommand() string {
	switch r.Component {
	case SDK:
		return fmt.Sprintf("avocado sdk %s", r.Command)
	case Extension:
		return fmt.Sprintf("avocado ext %s -e %s", r.Command, r.Name)
	case Runtime:
		return fmt.Sprintf("avocado runtime %s -r %s", r.Command, r.Name)
	default:
		return fmt.Sprintf("avocado %s %s", r.Component, r.Command)
	}
}

func (r Requirement) String() string { return r.RelativePath() }
