// Package discovery keeps the model-visible action surface small. Tools
// are partitioned at registration into always-loaded and deferred; the
// model reaches deferred tools through a search tool and loads them on
// demand, per session.
package discovery

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vyotiq-ai/vyotiq-agent-sub016/tool"
)

// Reference is a search-result view over a registered tool. It never
// carries the executable descriptor itself.
type Reference struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Score           float64  `json:"score"`
	Category        string   `json:"category,omitempty"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// Config holds the index tunables.
type Config struct {
	// AlwaysLoaded names tools that are visible to every session without
	// discovery, regardless of their Deferred flag.
	AlwaysLoaded []string `json:"always_loaded"`
	// MaxResults bounds a single search's result list.
	MaxResults int `json:"max_results"`
	// FuzzyMatch enables the bounded substring/prefix bonus.
	FuzzyMatch bool `json:"fuzzy_match"`
	// TokenCostPerTool is the estimated context cost of eagerly listing
	// one tool definition.
	TokenCostPerTool int `json:"token_cost_per_tool"`
}

// DefaultConfig returns the shipped discovery configuration. The
// always-loaded list covers the core file and terminal tools.
func DefaultConfig() Config {
	return Config{
		AlwaysLoaded:     []string{"read_file", "write_file", "edit_file", "terminal", "grep", "glob"},
		MaxResults:       5,
		FuzzyMatch:       true,
		TokenCostPerTool: 150,
	}
}

type sessionToolState struct {
	loaded    map[string]struct{}
	queries   []string
	createdAt time.Time
}

// Index partitions registered tools and answers relevance-ranked queries.
// The partition is resolved once at registration, never re-evaluated per
// lookup.
type Index struct {
	cfg      Config
	registry *tool.Registry
	always   map[string]struct{}
	deferred map[string]struct{}
	sessions map[string]*sessionToolState
	mu       sync.RWMutex
}

// NewIndex creates an Index. Zero fields in cfg fall back to defaults.
func NewIndex(cfg Config) *Index {
	def := DefaultConfig()
	if cfg.MaxResults == 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.TokenCostPerTool == 0 {
		cfg.TokenCostPerTool = def.TokenCostPerTool
	}
	if cfg.AlwaysLoaded == nil {
		cfg.AlwaysLoaded = def.AlwaysLoaded
	}
	idx := &Index{
		cfg:      cfg,
		registry: tool.NewRegistry(),
		always:   make(map[string]struct{}),
		deferred: make(map[string]struct{}),
		sessions: make(map[string]*sessionToolState),
	}
	return idx
}

func (x *Index) isAllowListed(name string) bool {
	for _, n := range x.cfg.AlwaysLoaded {
		if n == name {
			return true
		}
	}
	return false
}

// RegisterTool adds a descriptor and classifies it. Allow-listed tools are
// always loaded even when marked deferred; tools neither allow-listed nor
// marked deferred are also always loaded.
func (x *Index) RegisterTool(desc tool.Descriptor) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.registry.Register(desc)
	if x.isAllowListed(desc.Name) || !desc.Deferred {
		x.always[desc.Name] = struct{}{}
		delete(x.deferred, desc.Name)
		return
	}
	x.deferred[desc.Name] = struct{}{}
}

// DeferredCount returns the number of tools in the deferred pool.
func (x *Index) DeferredCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.deferred)
}

func (x *Index) sessionState(sessionID string) *sessionToolState {
	s, ok := x.sessions[sessionID]
	if !ok {
		s = &sessionToolState{
			loaded:    make(map[string]struct{}),
			createdAt: time.Now(),
		}
		x.sessions[sessionID] = s
	}
	return s
}

// Search scores every deferred tool against the query and returns the
// top matches. Supplying a session id records the query in that session's
// history.
func (x *Index) Search(query, sessionID string) []Reference {
	x.mu.Lock()
	defer x.mu.Unlock()

	if sessionID != "" {
		x.sessionState(sessionID).queries = append(x.sessionState(sessionID).queries, query)
	}

	var refs []Reference
	for name := range x.deferred {
		desc := x.registry.Get(name)
		if desc == nil {
			continue
		}
		score, matched := scoreTool(desc, query, x.cfg.FuzzyMatch)
		if score <= 0 {
			continue
		}
		refs = append(refs, Reference{
			Name:            desc.Name,
			Description:     desc.Description,
			Score:           score,
			Category:        desc.Category,
			MatchedKeywords: matched,
		})
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Score != refs[j].Score {
			return refs[i].Score > refs[j].Score
		}
		return refs[i].Name < refs[j].Name
	})
	if len(refs) > x.cfg.MaxResults {
		refs = refs[:x.cfg.MaxResults]
	}
	return refs
}

// Expand resolves tool names back to full descriptors and marks them
// loaded for the session. Expansion is idempotent and cumulative: a tool
// loaded once stays loaded for the life of the session.
func (x *Index) Expand(names []string, sessionID string) []*tool.Descriptor {
	x.mu.Lock()
	defer x.mu.Unlock()

	s := x.sessionState(sessionID)
	var descs []*tool.Descriptor
	for _, name := range names {
		desc := x.registry.Get(name)
		if desc == nil {
			continue
		}
		if _, deferred := x.deferred[name]; deferred {
			s.loaded[name] = struct{}{}
		}
		descs = append(descs, desc)
	}
	return descs
}

// ToolsForSession returns the union of always-loaded and session-unlocked
// deferred tools, deduplicated by name and sorted.
func (x *Index) ToolsForSession(sessionID string) []*tool.Descriptor {
	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[string]struct{})
	var descs []*tool.Descriptor
	add := func(name string) {
		if _, dup := seen[name]; dup {
			return
		}
		if desc := x.registry.Get(name); desc != nil {
			seen[name] = struct{}{}
			descs = append(descs, desc)
		}
	}

	for name := range x.always {
		add(name)
	}
	if s, ok := x.sessions[sessionID]; ok {
		for name := range s.loaded {
			add(name)
		}
	}

	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Resolve returns a descriptor by name if it is visible to the session.
func (x *Index) Resolve(name, sessionID string) (*tool.Descriptor, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if _, ok := x.always[name]; ok {
		desc := x.registry.Get(name)
		return desc, desc != nil
	}
	if s, ok := x.sessions[sessionID]; ok {
		if _, loaded := s.loaded[name]; loaded {
			desc := x.registry.Get(name)
			return desc, desc != nil
		}
	}
	return nil, false
}

// SessionLoadedTools returns the deferred tools a session has unlocked.
func (x *Index) SessionLoadedTools(sessionID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s, ok := x.sessions[sessionID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(s.loaded))
	for name := range s.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SearchHistory returns the queries a session has issued, oldest first.
func (x *Index) SearchHistory(sessionID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s, ok := x.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

// TokenSavings estimates how many context tokens were avoided by not
// eagerly listing the deferred tools the session has not loaded.
func (x *Index) TokenSavings(sessionID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	unloaded := len(x.deferred)
	if s, ok := x.sessions[sessionID]; ok {
		for name := range s.loaded {
			if _, deferred := x.deferred[name]; deferred {
				unloaded--
			}
		}
	}
	return unloaded * x.cfg.TokenCostPerTool
}

// ClearSession drops all discovery state for a session.
func (x *Index) ClearSession(sessionID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.sessions, sessionID)
}

// scoreTool computes the relevance of one deferred tool against a query.
// The raw sum is normalized by dividing by 2 and clamping to [0,1].
func scoreTool(desc *tool.Descriptor, query string, fuzzy bool) (float64, []string) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0, nil
	}
	name := strings.ToLower(desc.Name)
	description := strings.ToLower(desc.Description)
	words := strings.Fields(q)

	var sum float64
	var matched []string

	switch {
	case name == q:
		sum += 1.0
	case strings.Contains(name, q) || strings.Contains(q, name):
		sum += 0.7
	}

	for _, word := range words {
		if strings.Contains(description, word) {
			sum += 0.3
		}
	}

	for _, keyword := range desc.SearchKeywords {
		kw := strings.ToLower(keyword)
		exact := false
		partial := false
		for _, word := range words {
			if word == kw {
				exact = true
				break
			}
			if len(word) >= 3 && len(kw) >= 3 && (strings.Contains(kw, word) || strings.Contains(word, kw)) {
				partial = true
			}
		}
		if exact {
			sum += 0.5
			matched = append(matched, keyword)
		} else if partial {
			sum += 0.3
			matched = append(matched, keyword)
		}
	}

	if desc.Category != "" {
		category := strings.ToLower(desc.Category)
		for _, word := range words {
			if strings.Contains(category, word) {
				sum += 0.2
				break
			}
		}
	}

	if fuzzy {
		for _, word := range words {
			if strings.HasPrefix(name, word) || strings.Contains(name, word) {
				sum += 0.1
				break
			}
		}
	}

	score := sum / 2
	if score > 1 {
		score = 1
	}
	return score, matched
}
