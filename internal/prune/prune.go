// Package prune finds and removes container volumes left behind by
// projects that no longer exist.
package prune

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"avocado/internal/volume"
)

// Volume name prefixes owned by avocado.
var Prefixes = []string{volume.NamePrefix, "avocado-src-", "avocado-state-"}

// Verdict is the classification of one volume.
type Verdict struct {
	Name      string
	Abandoned bool
	Reason    string
}

// Report summarizes a prune run.
type Report struct {
	Verdicts []Verdict
	Removed  []string
	Failed   []string
	DryRun   bool
}

// Active counts volumes kept.
func (r Report) Active() int {
	n := 0
	for _, v := range r.Verdicts {
		if !v.Abandoned {
			n++
		}
	}
	return n
}

// Logger receives progress messages.
type Logger interface {
	Printf(format string, v ...any)
}

// Reporter observes a prune run volume by volume.
type Reporter interface {
	Classified(v Verdict)
	Removed(name string)
	Failed(name string, err error)
}

type noopReporter struct{}

func (noopReporter) Classified(Verdict)   {}
func (noopReporter) Removed(string)       {}
func (noopReporter) Failed(string, error) {}

// Pruner classifies and removes abandoned volumes.
type Pruner struct {
	Volumes  *volume.Manager
	DryRun   bool
	Logger   Logger
	Reporter Reporter
}

func (p *Pruner) reporter() Reporter {
	if p.Reporter != nil {
		return p.Reporter
	}
	return noopReporter{}
}

func (p *Pruner) logf(format string, v ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, v...)
	}
}

// Owned reports whether name carries one of the avocado prefixes.
func Owned(name string) bool {
	for _, prefix := range Prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Candidates lists the volumes carrying an avocado prefix.
func (p *Pruner) Candidates(ctx context.Context) ([]string, error) {
	names, err := p.Volumes.List(ctx)
	if err != nil {
		return nil, err
	}
	var owned []string
	for _, name := range names {
		if Owned(name) {
			owned = append(owned, name)
		}
	}
	return owned, nil
}

// Run classifies every avocado volume and, unless DryRun is set, removes the
// abandoned ones together with their containers. Removal failures are
// collected and returned together after every volume was attempted.
func (p *Pruner) Run(ctx context.Context) (Report, error) {
	names, err := p.Candidates(ctx)
	if err != nil {
		return Report{DryRun: p.DryRun}, err
	}
	return p.RunOn(ctx, names)
}

// RunOn is Run over an already listed set of volume names.
func (p *Pruner) RunOn(ctx context.Context, names []string) (Report, error) {
	report := Report{DryRun: p.DryRun}
	rep := p.reporter()

	var result *multierror.Error
	for _, name := range names {
		verdict, err := p.Classify(ctx, name)
		if err != nil {
			rep.Failed(name, err)
			result = multierror.Append(result, fmt.Errorf("classify %s: %w", name, err))
			continue
		}
		report.Verdicts = append(report.Verdicts, verdict)
		rep.Classified(verdict)
		if !verdict.Abandoned {
			p.logf("volume %s is active", name)
			continue
		}
		if p.DryRun {
			continue
		}
		p.logf("removing volume %s: %s", name, verdict.Reason)
		if err := p.Volumes.ForceRemove(ctx, name); err != nil {
			report.Failed = append(report.Failed, name)
			rep.Failed(name, err)
			result = multierror.Append(result, err)
			continue
		}
		report.Removed = append(report.Removed, name)
		rep.Removed(name)
	}
	return report, result.ErrorOrNil()
}

// Classify decides whether name is still in use.
func (p *Pruner) Classify(ctx context.Context, name string) (Verdict, error) {
	if strings.HasPrefix(name, volume.NamePrefix) {
		return p.classifyProjectVolume(ctx, name)
	}
	return p.classifyContainerVolume(ctx, name)
}

func (p *Pruner) classifyProjectVolume(ctx context.Context, name string) (Verdict, error) {
	abandoned := func(format string, v ...any) (Verdict, error) {
		return Verdict{Name: name, Abandoned: true, Reason: fmt.Sprintf(format, v...)}, nil
	}

	info, err := p.Volumes.Inspect(ctx, name)
	if err != nil {
		if errors.Is(err, volume.ErrNotFound) {
			return abandoned("volume could not be inspected")
		}
		return Verdict{}, err
	}
	source := info.Labels[volume.LabelSourcePath]
	if source == "" {
		return abandoned("no source_path label found")
	}
	if fi, err := os.Stat(source); err != nil || !fi.IsDir() {
		return abandoned("source directory '%s' does not exist", source)
	}
	if _, err := os.Stat(filepath.Join(source, volume.StateFileName)); err != nil {
		return abandoned("no %s file in '%s'", volume.StateFileName, source)
	}
	st, err := volume.LoadFromDir(source)
	if err != nil {
		return abandoned("error reading %s: %v", volume.StateFileName, err)
	}
	if st == nil {
		return abandoned("could not read %s in '%s'", volume.StateFileName, source)
	}
	if st.VolumeName != name {
		return abandoned("%s links to '%s', not this volume", volume.StateFileName, st.VolumeName)
	}
	return Verdict{Name: name}, nil
}

func (p *Pruner) classifyContainerVolume(ctx context.Context, name string) (Verdict, error) {
	all, err := p.Volumes.Containers(ctx, name, false)
	if err != nil {
		return Verdict{}, err
	}
	if len(all) == 0 {
		return Verdict{Name: name, Abandoned: true, Reason: "not associated with any containers"}, nil
	}
	running, err := p.Volumes.Containers(ctx, name, true)
	if err != nil {
		return Verdict{}, err
	}
	if len(running) > 0 {
		return Verdict{Name: name}, nil
	}
	return Verdict{
		Name:      name,
		Abandoned: true,
		Reason:    fmt.Sprintf("only associated with %d stopped container(s)", len(all)),
	}, nil
}
