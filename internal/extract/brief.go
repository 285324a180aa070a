package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	bulletLine   = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+?)\s*$`)
	headingLine  = regexp.MustCompile(`^\s*#{1,6}\s+(.+?)\s*#*\s*$`)
	hoursSuffix  = regexp.MustCompile(`\s*\((\d+(?:\.\d+)?)\s*h(?:ours?|rs?)?\)\s*$`)
	afterSuffix  = regexp.MustCompile(`\s*\[after:\s*([^\]]+)\]\s*$`)
	yamlTasksKey = regexp.MustCompile(`(?m)^tasks\s*:`)
)

// BriefProposer proposes tasks from the brief text itself, without a
// language model. A YAML document with a top-level tasks list is used as is.
// Otherwise each bullet or numbered line becomes a task, grouped under the
// nearest markdown heading; "(6h)" sets the estimate and "[after: Title]"
// adds dependencies. A brief with neither yields a single planning task.
type BriefProposer struct {
	DefaultHours float64
}

func (b BriefProposer) ProposeTasks(_ context.Context, brief string, _ time.Time) ([]Proposal, error) {
	if yamlTasksKey.MatchString(brief) {
		var doc struct {
			Tasks []Proposal `yaml:"tasks"`
		}
		// a brief that merely has a "tasks:" line falls back to the outline
		if err := yaml.Unmarshal([]byte(brief), &doc); err == nil && len(doc.Tasks) > 0 {
			return doc.Tasks, nil
		}
	}
	if proposals := b.fromOutline(brief); len(proposals) > 0 {
		return proposals, nil
	}
	return []Proposal{{
		Title:          "Read the brief",
		Description:    "Understand the assignment requirements.",
		Package:        "Planning",
		EstimatedHours: b.hours(0),
	}}, nil
}

func (b BriefProposer) fromOutline(brief string) []Proposal {
	var out []Proposal
	pkg := "General"
	for _, line := range strings.Split(brief, "\n") {
		if m := headingLine.FindStringSubmatch(line); m != nil {
			pkg = m[1]
			continue
		}
		m := bulletLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title := m[1]
		var deps []string
		hours := 0.0
		// suffixes may come in either order
		for range 2 {
			if dm := afterSuffix.FindStringSubmatch(title); dm != nil {
				for _, d := range strings.Split(dm[1], ",") {
					if d = strings.TrimSpace(d); d != "" {
						deps = append(deps, d)
					}
				}
				title = afterSuffix.ReplaceAllString(title, "")
			}
			if hm := hoursSuffix.FindStringSubmatch(title); hm != nil {
				hours, _ = strconv.ParseFloat(hm[1], 64)
				title = hoursSuffix.ReplaceAllString(title, "")
			}
		}
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		out = append(out, Proposal{
			Title:          title,
			Package:        pkg,
			EstimatedHours: b.hours(hours),
			Dependencies:   deps,
		})
	}
	return out
}

func (b BriefProposer) hours(h float64) float64 {
	if h > 0 {
		return h
	}
	if b.DefaultHours > 0 {
		return b.DefaultHours
	}
	return 2
}
