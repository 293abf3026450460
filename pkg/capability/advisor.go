package capability

import (
	"sort"
	"strings"

	"github.com/agentmesh/agentmesh/pkg/types"
)

// TaskProfile is the keyword analysis of a free-form task description.
type TaskProfile struct {
	Category    string   `json:"category"`
	InputTypes  []string `json:"input_types"`
	OutputTypes []string `json:"output_types"`
}

// Suggestion is a scored skill or skill pair for a task.
type Suggestion struct {
	Skills []string `json:"skills"`
	Score  float64  `json:"score"`
	Reason string   `json:"reason"`
}

// Gap is a missing capability with impact classification.
type Gap struct {
	Capability    string   `json:"capability"`
	MissingSkills []string `json:"missing_skills"`
	Impact        string   `json:"impact"` // low, medium, high
	Alternatives  []string `json:"alternatives,omitempty"`
}

// ToolRecommendation is a scored tool with an integration-effort label.
type ToolRecommendation struct {
	Tool   *types.Tool `json:"tool"`
	Score  float64     `json:"score"`
	Effort string      `json:"effort"` // low, medium, high
}

var categoryKeywords = map[string][]string{
	"analysis":       {"analyze", "analysis", "classify", "detect", "evaluate"},
	"generation":     {"generate", "write", "create", "compose", "draft"},
	"transformation": {"convert", "transform", "translate", "format", "parse"},
	"retrieval":      {"search", "find", "lookup", "retrieve", "fetch"},
}

var typeKeywords = map[string][]string{
	"text":     {"text", "document", "prompt", "summary", "article"},
	"image":    {"image", "picture", "photo", "diagram"},
	"audio":    {"audio", "speech", "voice", "transcribe"},
	"json":     {"json", "structured", "record", "payload"},
	"csv":      {"csv", "table", "spreadsheet"},
	"number":   {"number", "metric", "count", "score"},
}

// AnalyzeTask keyword-scans a description into a profile.
func AnalyzeTask(description string) TaskProfile {
	lower := strings.ToLower(description)

	profile := TaskProfile{Category: "general"}
	for category, words := range categoryKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				profile.Category = category
				break
			}
		}
		if profile.Category != "general" {
			break
		}
	}

	for typ, words := range typeKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				profile.InputTypes = append(profile.InputTypes, typ)
				break
			}
		}
	}
	sort.Strings(profile.InputTypes)
	// Without an explicit target, assume the task produces what it consumes.
	profile.OutputTypes = append([]string(nil), profile.InputTypes...)
	return profile
}

// SuggestSkills enumerates single skills and complementary pairs for the
// task. A pair is complementary iff outputs of one intersect inputs of the
// other; scoring favors complementarity plus category match.
func (e *Engine) SuggestSkills(description string) []Suggestion {
	profile := AnalyzeTask(description)
	skills := e.master.ListSkills()

	var out []Suggestion
	for _, skill := range skills {
		score := 0.0
		if skill.Category == profile.Category {
			score += 0.5
		}
		if len(intersect(skill.InputTypes, profile.InputTypes)) > 0 {
			score += 0.3
		}
		if len(intersect(skill.OutputTypes, profile.OutputTypes)) > 0 {
			score += 0.2
		}
		if score > 0 {
			out = append(out, Suggestion{
				Skills: []string{skill.Name},
				Score:  score,
				Reason: "category and type match",
			})
		}
	}

	for i, a := range skills {
		for _, b := range skills[i+1:] {
			forward := len(intersect(a.OutputTypes, b.InputTypes)) > 0
			backward := len(intersect(b.OutputTypes, a.InputTypes)) > 0
			if !forward && !backward {
				continue
			}
			score := 0.6
			if a.Category == profile.Category || b.Category == profile.Category {
				score += 0.3
			}
			out = append(out, Suggestion{
				Skills: []string{a.Name, b.Name},
				Score:  score,
				Reason: "complementary input/output types",
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// IdentifyGaps compares target capabilities against an agent's owned skills.
// Impact thresholds sit at 0.5 and 0.8 of the required skill count.
func (e *Engine) IdentifyGaps(agentID string, targets []Capability) ([]Gap, error) {
	agent, err := e.agents.Get(agentID)
	if err != nil {
		return nil, err
	}
	owned := nameSet(e.resolveSkills(agent.SkillRefs))

	var gaps []Gap
	for _, target := range targets {
		var missing []string
		for _, required := range target.RequiredSkills {
			if !owned[required] {
				missing = append(missing, required)
			}
		}
		if len(missing) == 0 {
			continue
		}

		ratio := float64(len(missing)) / float64(len(target.RequiredSkills))
		impact := "low"
		switch {
		case ratio >= 0.8:
			impact = "high"
		case ratio >= 0.5:
			impact = "medium"
		}

		gaps = append(gaps, Gap{
			Capability:    target.Name,
			MissingSkills: missing,
			Impact:        impact,
			Alternatives:  e.similarSkills(missing),
		})
	}
	return gaps, nil
}

// RecommendTools scores every active tool for the agent and returns the top
// 10. Weights: capability overlap 0.4, kind match 0.2, success rate 0.2,
// popularity 0.1, docs 0.1.
func (e *Engine) RecommendTools(agentID string) ([]ToolRecommendation, error) {
	caps, err := e.Discover(agentID)
	if err != nil {
		return nil, err
	}
	agent, err := e.agents.Get(agentID)
	if err != nil {
		return nil, err
	}

	capNames := make(map[string]bool, len(caps))
	for _, c := range caps {
		capNames[c.Name] = true
	}
	ownedKinds := make(map[types.ToolKind]bool)
	for _, ref := range agent.ToolRefs {
		if tool, err := e.master.GetTool(ref); err == nil {
			ownedKinds[tool.Kind] = true
		}
	}

	tools := e.master.ListTools()
	maxUsage := int64(1)
	for _, t := range tools {
		if t.Stats.Total > maxUsage {
			maxUsage = t.Stats.Total
		}
	}

	var out []ToolRecommendation
	for _, tool := range tools {
		if !tool.Active {
			continue
		}

		overlap := 0.0
		for _, name := range tool.Capabilities {
			if capNames[name] {
				overlap = 1.0
				break
			}
		}
		kindMatch := 0.0
		if ownedKinds[tool.Kind] {
			kindMatch = 1.0
		}
		successRate := 0.0
		if tool.Stats.Total > 0 {
			successRate = float64(tool.Stats.Success) / float64(tool.Stats.Total)
		}
		popularity := float64(tool.Stats.Total) / float64(maxUsage)
		docs := 0.0
		if tool.HasDocs {
			docs = 1.0
		}

		score := overlap*0.4 + kindMatch*0.2 + successRate*0.2 + popularity*0.1 + docs*0.1
		out = append(out, ToolRecommendation{
			Tool:   tool,
			Score:  score,
			Effort: integrationEffort(tool.AuthKind),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > 10 {
		out = out[:10]
	}
	return out, nil
}

func integrationEffort(authKind string) string {
	switch strings.ToLower(authKind) {
	case "", "none":
		return "low"
	case "api_key":
		return "medium"
	default: // oauth, custom
		return "high"
	}
}

// similarSkills finds registered skills whose names resemble any missing one.
func (e *Engine) similarSkills(missing []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, want := range missing {
		for _, skill := range e.master.ListSkills() {
			if seen[skill.Name] || skill.Name == want {
				continue
			}
			if nameSimilarity(want, skill.Name) >= 0.5 {
				seen[skill.Name] = true
				out = append(out, skill.Name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// nameSimilarity is the Dice coefficient over name tokens
// (2*shared/(|A|+|B|)), with a substring shortcut.
func nameSimilarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}
	sep := func(r rune) bool { return r == '-' || r == '_' || r == ' ' }
	setA := make(map[string]bool)
	for _, t := range strings.FieldsFunc(a, sep) {
		setA[t] = true
	}
	setB := make(map[string]bool)
	for _, t := range strings.FieldsFunc(b, sep) {
		setB[t] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for t := range setB {
		if setA[t] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(setA)+len(setB))
}
