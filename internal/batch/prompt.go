package batch

import (
	"fmt"
	"strings"

	"github.com/tyler-sommer/stick"
)

// SystemInstruction is the fixed system message sent with every request unit.
const SystemInstruction = "你是一个术语提取专家。"

// outputExample is injected into the template as a variable so the literal
// JSON braces never collide with Twig delimiters.
const outputExample = `{"terms": [
  {"term": "术语1", "type": "类型1", "context": "出现上下文"},
  {"term": "术语2", "type": "类型2", "context": "出现上下文"}
]}`

const emptyExample = `{"terms": []}`

// DefaultUserTemplate is the per-row extraction prompt, rendered with the
// row's text bound to {{ document }}.
const DefaultUserTemplate = `# 角色：RPG游戏术语提取器

# 任务
1. 从下面给定的游戏文本中提取所有RPG游戏术语和专有名词
2. 提取对象：技能名称、职业名称、物品名称、地名、角色名、怪物名等
3. 排除一般常用词汇和非术语性表达
4. 如果文本本身就是术语，也要提取
5. 严禁重复提取相同术语
6. 严禁编造或生成不存在于给定文本中的术语
7. 必须为每个术语提供类型信息

# 术语类型示例
- 技能：表示游戏中的能力、招式、法术
- 职业：表示游戏中的角色职业、定位
- 物品：表示游戏中的道具、装备、消耗品
- 地点：表示游戏中的地区、场景、位置
- 角色：表示游戏中的NPC、主角、配角
- 怪物：表示游戏中的敌人、BOSS
- 系统：表示游戏机制、界面元素、功能
- 其他：如果不属于以上类型，请分类为其他

# 输出格式
{{ example }}

# 说明
1. 只输出JSON格式结果，不要添加额外解释
2. 术语必须来自给定文本，不要编造
3. 只提取游戏相关的专业术语，不提取普通词汇
4. 如果给定文本中没有游戏相关术语，返回空数组: {{ empty_example }}
5. 必须为每个术语提供一个类型，如"技能"、"物品"、"地点"等

# 需要提取的文本：
{{ document }}`

// PromptRenderer renders the per-row user prompt from a Twig template.
type PromptRenderer struct {
	env  *stick.Env
	tpl  string
	vars map[string]stick.Value
}

// NewPromptRenderer builds a renderer for the given template. An empty
// template selects DefaultUserTemplate.
func NewPromptRenderer(tpl string) *PromptRenderer {
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultUserTemplate
	}
	return &PromptRenderer{
		env: stick.New(nil),
		tpl: tpl,
		vars: map[string]stick.Value{
			"example":       outputExample,
			"empty_example": emptyExample,
		},
	}
}

// WithVar adds a variable available to the template.
func (p *PromptRenderer) WithVar(key string, value any) *PromptRenderer {
	p.vars[key] = value
	return p
}

// Render produces the final user prompt for one row's text.
func (p *PromptRenderer) Render(document string) (string, error) {
	ctx := make(map[string]stick.Value, len(p.vars)+1)
	for k, v := range p.vars {
		ctx[k] = v
	}
	ctx["document"] = document

	var out strings.Builder
	if err := p.env.Execute(p.tpl, &out, ctx); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out.String(), nil
}
