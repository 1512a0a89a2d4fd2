package graph

import (
	"regexp"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/kgqa/internal/util"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
)

const maxDescriptionRunes = 50

const (
	PropertyNumbers = "数值"
	PropertyTimes   = "时间"
)

var (
	nameDecoration = strings.NewReplacer("《", "", "》", "", "“", "", "”", "", "‘", "", "’", "", "\"", "", "'", "")
	whitespaceRun  = regexp.MustCompile(`\s+`)
	numberPattern  = regexp.MustCompile(`\d+[万千百十]?`)
	timePatterns   = []*regexp.Regexp{
		regexp.MustCompile(`\d+年`),
		regexp.MustCompile(`\d+月`),
		regexp.MustCompile(`\d+天`),
		regexp.MustCompile(`长期|短期|中期`),
	}
)

// NormalizerConfig holds the vocabularies and limits of a Normalizer.
// MergeTolerance is the largest length difference at which a name that
// contains another is treated as the same node; a negative value disables
// containment merging.
type NormalizerConfig struct {
	NodeTypes         []string
	TypeRules         []TypeRule
	StandardRelations []RelationVariant
	MaxNodeLength     int
	MaxRelationLength int
	MergeTolerance    int
}

// DefaultNormalizerConfig returns the built-in vocabularies.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		NodeTypes:         slices.Clone(DefaultNodeTypes),
		TypeRules:         slices.Clone(DefaultTypeRules),
		StandardRelations: slices.Clone(DefaultStandardRelations),
		MaxNodeLength:     10,
		MaxRelationLength: 8,
		MergeTolerance:    3,
	}
}

// Normalizer canonicalizes entity names, types and relation labels, merges
// near-duplicate nodes and recomputes degrees. It holds no mutable state and
// is safe for concurrent use.
type Normalizer struct {
	cfg       NormalizerConfig
	nodeTypes map[string]struct{}
	relations map[string]string
}

// NewNormalizer creates a Normalizer. Zero limits fall back to the defaults.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	def := DefaultNormalizerConfig()
	if len(cfg.NodeTypes) == 0 {
		cfg.NodeTypes = def.NodeTypes
	}
	if cfg.TypeRules == nil {
		cfg.TypeRules = def.TypeRules
	}
	if len(cfg.StandardRelations) == 0 {
		cfg.StandardRelations = def.StandardRelations
	}
	if cfg.MaxNodeLength <= 0 {
		cfg.MaxNodeLength = def.MaxNodeLength
	}
	if cfg.MaxRelationLength <= 0 {
		cfg.MaxRelationLength = def.MaxRelationLength
	}

	n := &Normalizer{
		cfg:       cfg,
		nodeTypes: toSet(cfg.NodeTypes...),
		relations: make(map[string]string, len(cfg.StandardRelations)),
	}
	for _, v := range cfg.StandardRelations {
		if _, ok := n.relations[v.Variant]; !ok {
			n.relations[v.Variant] = v.Canonical
		}
	}
	return n
}

func containsCJK(s string) bool {
	return strings.ContainsFunc(s, isCJK)
}

// NormalizeName strips title brackets and quotes, collapses whitespace and
// shortens over-long names. CJK names are cut by rune count, at the last
// space inside the limit when there is one; space-delimited names keep
// their first two words, and a single long word is cut hard.
func (n *Normalizer) NormalizeName(name string) string {
	s := nameDecoration.Replace(name)
	s = strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))

	r := []rune(s)
	limit := n.cfg.MaxNodeLength
	if len(r) <= limit {
		return s
	}

	if containsCJK(s) {
		cut := r[:limit]
		if r[limit] != ' ' {
			for i := len(cut) - 1; i > 0; i-- {
				if cut[i] == ' ' {
					cut = cut[:i]
					break
				}
			}
		}
		return strings.TrimSpace(string(cut))
	}

	words := strings.Fields(s)
	if len(words) > 1 {
		return words[0] + " " + words[1]
	}
	return string(r[:limit])
}

func (n *Normalizer) isPersonName(name string) bool {
	if !containsCJK(name) {
		return false
	}
	l := util.RuneLen(name)
	if l < 2 || l > 4 {
		return false
	}
	for _, w := range nonPersonWords {
		if strings.Contains(name, w) {
			return false
		}
	}
	return true
}

// InferType keeps a declared type that is part of the vocabulary and
// otherwise guesses one from the name and description.
func (n *Normalizer) InferType(name, declared, description string) string {
	if _, ok := n.nodeTypes[declared]; ok && declared != "" {
		return declared
	}

	lower := strings.ToLower(name)
	if n.isPersonName(lower) {
		return "Person"
	}
	text := lower + " " + strings.ToLower(description)
	for _, rule := range n.cfg.TypeRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				return rule.Type
			}
		}
	}
	return DefaultEntityType
}

// NormalizeRelation maps a label onto the canonical vocabulary: exact match,
// then containment in either direction, then the label itself cut to the
// maximum relation length. An empty label becomes DefaultRelation.
func (n *Normalizer) NormalizeRelation(label string) string {
	s := strings.TrimSpace(label)
	if s == "" {
		return DefaultRelation
	}
	if c, ok := n.relations[s]; ok {
		return c
	}
	for _, v := range n.cfg.StandardRelations {
		if strings.Contains(s, v.Variant) || strings.Contains(v.Variant, s) {
			return v.Canonical
		}
	}
	return strings.TrimSpace(util.TruncateRunes(s, n.cfg.MaxRelationLength))
}

// ExtractProperties moves numbers and time expressions out of descriptions
// longer than 50 runes into properties and shortens the description.
// Existing property keys are left alone.
func ExtractProperties(description string, props map[string][]string) (string, map[string][]string) {
	out := make(map[string][]string, len(props)+2)
	for k, v := range props {
		out[k] = slices.Clone(v)
	}
	if util.RuneLen(description) <= maxDescriptionRunes {
		return description, out
	}

	if _, ok := out[PropertyNumbers]; !ok {
		if nums := numberPattern.FindAllString(description, -1); len(nums) > 0 {
			out[PropertyNumbers] = nums
		}
	}
	if _, ok := out[PropertyTimes]; !ok {
		var times []string
		for _, p := range timePatterns {
			times = append(times, p.FindAllString(description, -1)...)
		}
		if len(times) > 0 {
			out[PropertyTimes] = times
		}
	}
	return util.TruncateRunes(description, maxDescriptionRunes) + "...", out
}

func cleanName(s string) string {
	s = nameDecoration.Replace(s)
	return strings.Join(strings.Fields(s), "")
}

func (n *Normalizer) similar(a, b string) bool {
	if a == b {
		return true
	}
	ca, cb := cleanName(a), cleanName(b)
	if ca == cb {
		return true
	}
	if n.cfg.MergeTolerance < 0 || ca == "" || cb == "" {
		return false
	}
	if strings.Contains(ca, cb) || strings.Contains(cb, ca) {
		diff := util.RuneLen(ca) - util.RuneLen(cb)
		if diff < 0 {
			diff = -diff
		}
		return diff <= n.cfg.MergeTolerance
	}
	return false
}

func unionStrings(a, b []string) []string {
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// mergeNodes normalizes nodes and folds near-duplicates into the node seen
// first. It returns the surviving nodes and the alias of every normalized
// name.
func (n *Normalizer) mergeNodes(nodes []common.Entity) ([]common.Entity, map[string]string) {
	var out []common.Entity
	index := make(map[string]int)
	aliases := make(map[string]string)

	for _, node := range nodes {
		raw := node.ID
		if raw == "" {
			raw = node.Label
		}
		name := n.NormalizeName(raw)
		if name == "" {
			continue
		}

		key := ""
		if _, ok := index[name]; ok {
			key = name
		} else {
			for _, e := range out {
				if n.similar(name, e.ID) {
					key = e.ID
					break
				}
			}
		}

		if key != "" {
			aliases[name] = key
			existing := &out[index[key]]
			existing.Degree = max(existing.Degree, node.Degree)
			desc, props := ExtractProperties(node.Description, node.Properties)
			if existing.Description == "" && desc != "" {
				existing.Description = desc
			}
			for k, v := range props {
				existing.Properties[k] = unionStrings(existing.Properties[k], v)
			}
			existing.DocIDs = unionStrings(existing.DocIDs, node.DocIDs)
			continue
		}

		desc, props := ExtractProperties(node.Description, node.Properties)
		aliases[name] = name
		index[name] = len(out)
		out = append(out, common.Entity{
			ID:          name,
			Label:       name,
			Type:        n.InferType(name, node.Type, node.Description),
			Description: desc,
			Properties:  props,
			Degree:      node.Degree,
			DocIDs:      slices.Clone(node.DocIDs),
		})
	}
	return out, aliases
}

// Normalize returns the canonical form of g together with node and edge
// counts before and after. Edges are renamed through the node aliases,
// relabeled, and dropped when they are self-loops, reference a missing node
// or duplicate an earlier source-label-target triple. Degrees are counted
// from the surviving edges and overwrite any incoming value. Normalizing a
// normalized graph changes nothing.
func (n *Normalizer) Normalize(g common.Graph) (common.Graph, common.NormalizeStats) {
	stats := common.NormalizeStats{
		OriginalNodes: len(g.Entities),
		OriginalEdges: len(g.Relations),
	}

	nodes, aliases := n.mergeNodes(g.Entities)
	index := make(map[string]int, len(nodes))
	for i := range nodes {
		index[nodes[i].ID] = i
		nodes[i].Degree = 0
	}

	resolve := func(name string) string {
		norm := n.NormalizeName(name)
		if a, ok := aliases[norm]; ok {
			return a
		}
		return norm
	}

	edges := make([]common.Relation, 0, len(g.Relations))
	seen := make(map[string]struct{}, len(g.Relations))
	dropped := 0
	for _, e := range g.Relations {
		src, tgt := resolve(e.Source), resolve(e.Target)
		_, okS := index[src]
		_, okT := index[tgt]
		if src == "" || tgt == "" || src == tgt || !okS || !okT {
			dropped++
			continue
		}
		label := n.NormalizeRelation(e.Label)
		key := src + "|" + label + "|" + tgt
		if _, ok := seen[key]; ok {
			dropped++
			continue
		}
		seen[key] = struct{}{}

		weight := e.Weight
		if weight == 0 {
			weight = 1
		}
		edges = append(edges, common.Relation{
			Source: src,
			Target: tgt,
			Label:  label,
			Weight: weight,
			DocID:  e.DocID,
		})
		nodes[index[src]].Degree++
		nodes[index[tgt]].Degree++
	}

	stats.NormalizedNodes = len(nodes)
	stats.NormalizedEdges = len(edges)
	logger.Debug("[Normalize] Graph normalized",
		"nodes", stats.OriginalNodes, "normalized_nodes", stats.NormalizedNodes,
		"edges", stats.OriginalEdges, "normalized_edges", stats.NormalizedEdges,
		"edges_dropped", dropped)

	return common.Graph{Entities: nodes, Relations: edges}, stats
}
