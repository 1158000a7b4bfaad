package config

// CatalogConfig is the top-level YAML structure.
type CatalogConfig struct {
	Version   string        `yaml:"version"`
	Engine    EngineConf    `yaml:"engine"`
	Layout    LayoutConf    `yaml:"layout"`
	Highlight HighlightConf `yaml:"highlight"`
	Ranks     []string      `yaml:"ranks"` // ordered, lowest tier first
	Skills    []SkillDef    `yaml:"skills"`
	Selectors []SelectorDef `yaml:"selectors"`
}

// EngineConf holds session and commit tuning.
type EngineConf struct {
	CommitWorkers   int `yaml:"commit_workers"`
	QueueDepth      int `yaml:"queue_depth"`
	CommitTimeoutMs int `yaml:"commit_timeout_ms"`
	SessionTTLSec   int `yaml:"session_ttl_s"`
	FrameIntervalMs int `yaml:"frame_interval_ms"`
}

// LayoutConf sizes the default on-screen boxes.
type LayoutConf struct {
	NodeWidth  float64 `yaml:"node_width"`
	NodeHeight float64 `yaml:"node_height"`
	ColumnGap  float64 `yaml:"column_gap"`
	RowGap     float64 `yaml:"row_gap"`
}

// HighlightConf decides which connectors may be highlighted.
// When is a condition expression over prereq.* and dependent.* fields;
// empty means every edge is eligible.
type HighlightConf struct {
	When string `yaml:"when"`
}

// SkillDef is one catalog item of the skill category.
type SkillDef struct {
	ID            string   `yaml:"id"`
	UUID          string   `yaml:"uuid"`
	Name          string   `yaml:"name"`
	Image         string   `yaml:"image"`
	Rank          string   `yaml:"rank"`
	Prerequisites []string `yaml:"prerequisites"` // raw references, normalised on build
}

// Selector modes.
const (
	ModeBudgeted = "budgeted"
	ModeSingle   = "single"
)

// SelectorDef describes one selector flow the host can open.
type SelectorDef struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Mode     string         `yaml:"mode"`     // budgeted | single
	Pools    map[string]int `yaml:"pools"`    // base points per rank
	Defaults []string       `yaml:"defaults"` // unconditionally granted skills
	Options  []OptionDef    `yaml:"options"`  // exclusive bundles, at most one active
}

// OptionDef is an exclusive bundle: bonus pools plus forced grants.
type OptionDef struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name"`
	Pools  map[string]int `yaml:"pools"`
	Grants []string       `yaml:"grants"`
}

// Selector returns the selector definition by ID.
func (c *CatalogConfig) Selector(id string) (SelectorDef, bool) {
	for _, s := range c.Selectors {
		if s.ID == id {
			return s, true
		}
	}
	return SelectorDef{}, false
}
