package inventory

import (
	"fmt"
	"path"

	"github.com/mindwolf80/nice/internal/device"
)

// FilterTargets keeps the targets whose host or name matches any of the
// glob patterns (path.Match syntax, e.g. "core-*", "10.1.*"). Order is
// preserved and a target is kept at most once. A pattern that matches no
// target is an error: a typo silently dropping every device from a run is
// worse than failing loudly.
func FilterTargets(targets []device.Target, patterns []string) ([]device.Target, error) {
	if len(patterns) == 0 {
		return targets, nil
	}

	kept := make([]bool, len(targets))
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		matched := false
		for i, t := range targets {
			if ok, _ := path.Match(pattern, t.Host); ok {
				kept[i] = true
				matched = true
				continue
			}
			if t.Name != "" {
				if ok, _ := path.Match(pattern, t.Name); ok {
					kept[i] = true
					matched = true
				}
			}
		}
		if !matched {
			return nil, fmt.Errorf("no devices match %q", pattern)
		}
	}

	var out []device.Target
	for i, t := range targets {
		if kept[i] {
			out = append(out, t)
		}
	}
	return out, nil
}
