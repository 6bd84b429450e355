package stamps

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"avocado/internal/config"
)

// HashValue returns sha256:<hex> over the JSON encoding of v. Mapping keys
// are emitted in sorted order, so equal trees hash equally.
func HashValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode stamp inputs: %w", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("sha256:%x", sum), nil
}

func inputsOf(subset config.Map) (Inputs, error) {
	h, err := HashValue(subset)
	if err != nil {
		return Inputs{}, err
	}
	return Inputs{ConfigHash: h}, nil
}

func put(m config.Map, key string, v any) {
	if v != nil {
		m[key] = v
	}
}

// SDKInputs hashes sdk.dependencies, sdk.image, sdk.repo_url and
// sdk.repo_release of the composed configuration.
func SDKInputs(c *config.Composed) (Inputs, error) {
	sdk := c.SectionMap("sdk")
	subset := config.Map{}
	if deps := c.SDKDependencies(); deps != nil {
		subset["sdk.dependencies"] = deps
	}
	put(subset, "sdk.image", sdk["image"])
	put(subset, "sdk.repo_url", sdk["repo_url"])
	put(subset, "sdk.repo_release", sdk["repo_release"])
	return inputsOf(subset)
}

// ExtInputs hashes ext.<name>.dependencies and ext.<name>.types. The same
// fingerprint gates install, build and image.
func ExtInputs(c *config.Composed, name string) (Inputs, error) {
	subset := config.Map{}
	if deps := c.ExtDependencies(name); deps != nil {
		subset["ext."+name+".dependencies"] = deps
	}
	put(subset, "ext."+name+".types", c.Ext(name)["types"])
	return inputsOf(subset)
}

// RuntimeInputs hashes the target-merged runtime.<name>.dependencies and
// runtime.<name>.target.
func RuntimeInputs(c *config.Composed, name string) (Inputs, error) {
	subset := config.Map{}
	if deps := c.RuntimeDependencies(name); deps != nil {
		subset["runtime."+name+".dependencies"] = deps
	}
	put(subset, "runtime."+name+".target", c.SectionMap("runtime", name)["target"])
	return inputsOf(subset)
}

// InputsFor computes the current inputs for req. Commands without a
// defined fingerprint reuse their component's.
func InputsFor(c *config.Composed, req Requirement) (Inputs, error) {
	switch req.Component {
	case SDK:
		return SDKInputs(c)
	case Extension:
		return ExtInputs(c, req.Name)
	case Runtime:
		return RuntimeInputs(c, req.Name)
	default:
		return Inputs{}, fmt.Errorf("unknown stamp component %q", req.Component)
	}
}

// CurrentInputs computes inputs for every requirement, keyed by relative
// path.
func CurrentInputs(c *config.Composed, reqs []Requirement) (map[string]Inputs, error) {
	out := make(map[string]Inputs, len(reqs))
	for _, req := range reqs {
		in, err := InputsFor(c, req)
		if err != nil {
			return nil, err
		}
		out[req.RelativePath()] = in
	}
	return out, nil
}
