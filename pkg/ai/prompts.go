package ai

// ExtractPrompt asks for entities and relations of one chunk. The single %s
// receives the optional document context followed by the chunk text.
const ExtractPrompt = `你是一个知识图谱构建专家。请从以下文本中同时提取实体和实体之间的关系。

## 实体规则
1. 节点名必须是短名词（≤10字），不能是句子
   - 好：李笑来、定投、标普500指数基金
   - 差：李笑来认为普通人也能变富
2. 节点类型从以下类型中选择：Person、Book、Concept、Strategy、Metric、Example、Group、Entity
3. 只提取名词性实体，去除修饰词；超过10字时提取核心词
4. 可以为实体提供一句简短描述（description）

## 关系规则
1. 优先使用标准关系词：著作、主张、属于、包含、适用于、影响、依赖、对比、推荐、特点、反例、决定、解决、面临、类似、通过、具有、计算
2. 关系要能形成可查询的问题，避免"相关"、"提到"等模糊词
3. 关系的 source 和 target 必须是已提取的实体名

## 输出格式（仅输出 JSON）
` + "```json" + `
{
  "entities": [
    {"name": "实体名", "type": "Person", "description": "简短描述"}
  ],
  "relations": [
    {"source": "源实体名", "target": "目标实体名", "relation": "关系词"}
  ]
}
` + "```" + `

## 示例
输入："李笑来在《让时间陪你慢慢变富》中主张定投策略，认为定投适用于普通人。"
输出：
` + "```json" + `
{
  "entities": [
    {"name": "李笑来", "type": "Person"},
    {"name": "让时间陪你慢慢变富", "type": "Book"},
    {"name": "定投", "type": "Strategy"},
    {"name": "普通人", "type": "Group"}
  ],
  "relations": [
    {"source": "李笑来", "target": "让时间陪你慢慢变富", "relation": "著作"},
    {"source": "让时间陪你慢慢变富", "target": "定投", "relation": "主张"},
    {"source": "定投", "target": "普通人", "relation": "适用于"}
  ]
}
` + "```" + `

## 待提取文本
%s
`

// DocumentTopicPrompt summarizes the opening of a document in one sentence.
const DocumentTopicPrompt = `用一句话总结以下文本的主题（不超过50字），只输出这句话：

%s`

// DocumentTopicLine and CoreEntitiesLine make up the context prepended to
// every chunk. Each line is left out while its value is unknown.
const (
	DocumentTopicLine = "文档背景：%s\n"
	CoreEntitiesLine  = "已识别的核心实体：%s\n请注意：如果当前文本与这些实体相关，请建立关系连接。\n\n"
)

const QueryClassificationPrompt = `你是一个查询分类专家。请分析用户问题，判断其属于以下哪种类型：

1. FACTUAL - 事实性问题
   - 特征：询问具体的人物、事物、时间、地点、数字等
   - 关键词：谁、什么、哪个、哪里、多少、是否
   - 示例："李笑来是谁？"、"定投策略是什么？"

2. EXPLORATORY - 探索性问题
   - 特征：希望了解某个主题的全面介绍或说明
   - 关键词：介绍、说明、描述、概述、讲讲
   - 示例："介绍一下长期主义"、"说说定投的好处"

3. ANALYTICAL - 分析性问题
   - 特征：需要分析原因、过程或方法
   - 关键词：为什么、如何、怎么、怎样、原因
   - 示例："为什么要选择定投？"、"如何实践长期主义？"

4. RELATIONAL - 关系性问题
   - 特征：询问实体之间的关系或关联
   - 关键词：关系、关联、联系、与...有关、之间
   - 示例："李笑来和定投有什么关系？"、"哪些概念与长期主义相关？"

用户问题：%s

请仅返回一个类型名称（FACTUAL/EXPLORATORY/ANALYTICAL/RELATIONAL），不要有其他内容。`

const QuestionEntityPrompt = `从以下问题中提取关键实体/概念名称（人名、书名、概念、策略等）。

问题：%s

仅返回实体名称列表，用逗号分隔。如果没有明确的实体，返回"无"。

示例：
- 问题："李笑来的投资理念是什么？" -> 李笑来, 投资理念
- 问题："定投策略有什么好处？" -> 定投策略
- 问题："这本书讲了什么？" -> 无

实体列表：`

// KGAnswerPrompt placeholders: entities, relations, question.
const KGAnswerPrompt = `你是一个知识图谱问答助手。基于以下知识图谱信息回答用户问题。

## 相关实体
%[1]s

## 相关关系
%[2]s

## 用户问题
%[3]s

## 要求
1. 仅基于提供的知识图谱信息回答
2. 如果信息不足，明确告知用户
3. 答案要简洁、准确
4. 如果涉及多个实体，说明它们之间的关系

请回答：`

// RAGAnswerPrompt placeholders: chunks, question.
const RAGAnswerPrompt = `你是一个文档问答助手。基于以下文档片段回答用户问题。

## 相关文档片段
%[1]s

## 用户问题
%[2]s

## 要求
1. 仅基于提供的文档片段回答
2. 如果信息不足，明确告知用户
3. 答案要有条理、详细
4. 可以适当总结和概括

请回答：`

// HybridAnswerPrompt placeholders: entities, relations, chunks, question.
const HybridAnswerPrompt = `你是一个智能问答助手。基于以下知识图谱和文档信息回答用户问题。

## 知识图谱信息
### 相关实体
%[1]s

### 相关关系
%[2]s

## 文档片段
%[3]s

## 用户问题
%[4]s

## 要求
1. 综合知识图谱的结构化信息和文档的详细内容回答
2. 知识图谱提供了实体和关系的概览，文档提供了详细的上下文
3. 如果两者信息有补充，请整合回答
4. 如果信息不足，明确告知用户
5. 答案要准确、全面、有条理

请回答：`

const EntitySummarySystemPrompt = "你是知识图谱助手，生成简洁的实体介绍。"

// EntitySummaryPrompt placeholders: label, type, description, related
// entity labels, relation lines.
const EntitySummaryPrompt = `请为以下实体生成一段简短的介绍（50-100字）：

实体: %[1]s (%[2]s)
描述: %[3]s

相关实体:
%[4]s

相关关系:
%[5]s
`

const (
	ClassificationSystemPrompt = "你是查询分类助手，只返回分类结果。"
	QuestionEntitySystemPrompt = "你是实体提取助手，只返回实体列表。"
	AnswerSystemPrompt         = "你是一个专业的知识问答助手，基于提供的信息准确、简洁地回答问题。"
)
