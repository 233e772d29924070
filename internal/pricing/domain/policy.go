package domain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Mode 舍入模式
type Mode string

const (
	// ModeCeil 向上取整到步长倍数
	ModeCeil Mode = "ceil"
	// ModeNone 原价直通，不做任何舍入
	ModeNone Mode = "none"
)

var hundred = decimal.NewFromInt(100)

// StepRule 单条舍入阶梯。Below 为零值表示无上限的兜底规则。
// 原价严格小于 Below 时命中该阶梯，等于阈值时落入下一档（取更大的步长）。
type StepRule struct {
	Below decimal.Decimal
	Step  decimal.Decimal
}

// Policy 报价舍入策略。将原始价格映射为对外报价与舍入差额。
// 步长表是配置而非常量，策略历史上至少改过一次。
type Policy struct {
	mode  Mode
	rules []StepRule
}

// DefaultSteps 缺省阶梯：1000 以下取 50 的倍数，1000 及以上取 500 的倍数
func DefaultSteps() []StepRule {
	return []StepRule{
		{Below: decimal.NewFromInt(1000), Step: decimal.NewFromInt(50)},
		{Step: decimal.NewFromInt(500)},
	}
}

// NewPolicy 创建舍入策略。ceil 模式要求至少一条规则且最后一条为兜底规则。
func NewPolicy(mode Mode, rules []StepRule) (*Policy, error) {
	switch mode {
	case ModeNone:
		return &Policy{mode: mode}, nil
	case ModeCeil:
	default:
		return nil, fmt.Errorf("unknown rounding mode: %s", mode)
	}

	if len(rules) == 0 {
		return nil, errors.New("ceil mode requires at least one step rule")
	}
	for i, r := range rules {
		if !r.Step.IsPositive() {
			return nil, fmt.Errorf("step rule %d: step must be positive", i)
		}
		if r.Below.IsZero() && i != len(rules)-1 {
			return nil, fmt.Errorf("step rule %d: only the last rule may omit the upper bound", i)
		}
	}
	if !rules[len(rules)-1].Below.IsZero() {
		return nil, errors.New("last step rule must omit the upper bound")
	}

	sorted := make([]StepRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted[:len(sorted)-1], func(i, j int) bool {
		return sorted[i].Below.LessThan(sorted[j].Below)
	})

	return &Policy{mode: mode, rules: sorted}, nil
}

// Quote 将原始价格映射为报价与舍入差额。
// 舍入始终向上，报价不会低于原价；差额保留两位小数且恒为非负。
// 计算在整数最小货币单位上进行，避免二进制浮点误差。
func (p *Policy) Quote(raw decimal.Decimal) (quoted decimal.Decimal, delta decimal.Decimal) {
	raw = raw.Round(2)

	if p.mode == ModeNone {
		return raw, decimal.Zero
	}

	step := p.stepFor(raw)

	rawUnits := raw.Mul(hundred).IntPart()
	stepUnits := step.Mul(hundred).IntPart()

	// 整数除法向零截断，负数时截断即是向上取整；
	// 只有正余数才需要再进一档。
	multiples := rawUnits / stepUnits
	if rawUnits%stepUnits > 0 {
		multiples++
	}

	quoted = decimal.NewFromInt(multiples * stepUnits).Div(hundred)
	delta = quoted.Sub(raw).Round(2)
	return quoted, delta
}

func (p *Policy) stepFor(raw decimal.Decimal) decimal.Decimal {
	for _, r := range p.rules[:len(p.rules)-1] {
		if raw.LessThan(r.Below) {
			return r.Step
		}
	}
	return p.rules[len(p.rules)-1].Step
}
