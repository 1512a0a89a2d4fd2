package graph

// RelationVariant maps a relation word the model tends to produce onto its
// canonical form. Order matters for the fuzzy lookup: the first variant that
// contains, or is contained in, an unknown label wins.
type RelationVariant struct {
	Variant   string
	Canonical string
}

// TypeRule assigns Type to entities whose name or description contains any
// of Keywords.
type TypeRule struct {
	Type     string
	Keywords []string
}

// DefaultNodeTypes is the entity type vocabulary.
var DefaultNodeTypes = []string{
	"Person", "Book", "Concept", "Strategy", "Metric", "Example", "Group", DefaultEntityType,
}

// DefaultStandardRelations is the canonical relation vocabulary.
var DefaultStandardRelations = []RelationVariant{
	{"著作", "著作"}, {"编写", "著作"}, {"撰写", "著作"}, {"创作", "著作"}, {"出版", "著作"},
	{"主张", "主张"}, {"强调", "主张"}, {"提倡", "主张"}, {"倡导", "主张"}, {"认为", "主张"}, {"观点", "主张"},
	{"属于", "属于"},
	{"包含", "包含"}, {"涵盖", "包含"}, {"包括", "包含"}, {"组成", "包含"},
	{"适用于", "适用于"}, {"适合", "适用于"}, {"针对", "适用于"}, {"面向", "适用于"},
	{"影响", "影响"}, {"导致", "影响"}, {"产生", "影响"}, {"带来", "影响"},
	{"依赖", "依赖"}, {"基于", "依赖"}, {"建立在", "依赖"}, {"需要", "依赖"},
	{"对比", "对比"}, {"相比", "对比"}, {"区别", "对比"}, {"不同", "对比"},
	{"推荐", "推荐"}, {"建议", "推荐"}, {"推荐标的", "推荐"}, {"推荐工具", "推荐"},
	{"特点", "特点"}, {"特征", "特点"}, {"关键特征", "特点"}, {"属性", "特点"},
	{"反例", "反例"}, {"反面", "反例"}, {"不推荐", "反例"}, {"不熟悉", "反例"}, {"不保证", "反例"},
	{"决定", "决定"}, {"取决于", "决定"}, {"由...决定", "决定"},
	{"解决", "解决"}, {"应对", "解决"}, {"处理", "解决"},
	{"面临", "面临"}, {"遭遇", "面临"}, {"面对", "面临"},
	{"类似", "类似"}, {"相似", "类似"}, {"像", "类似"},
	{"可通过", "通过"}, {"通过", "通过"}, {"借助", "通过"},
	{"具有", "具有"}, {"拥有", "具有"}, {"有", "具有"},
	{"计算", "计算"}, {"得出", "计算"},
}

// DefaultTypeRules are checked in order after the person-name heuristic.
var DefaultTypeRules = []TypeRule{
	{Type: "Book", Keywords: []string{"书", "book", "著作", "作品"}},
	{Type: "Strategy", Keywords: []string{"策略", "方法", "strategy", "method"}},
	{Type: "Concept", Keywords: []string{"概念", "理念", "concept", "idea"}},
	{Type: "Group", Keywords: []string{"群体", "人群", "group", "people"}},
}

// nonPersonWords rule out the person-name shape for short CJK names.
var nonPersonWords = []string{"书", "方法", "策略", "概念", "基金", "指数", "投资"}

// DefaultRelation is used for edges that arrive without any label.
const DefaultRelation = "相关"
