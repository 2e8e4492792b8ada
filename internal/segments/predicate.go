package segments

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

// Predicate operators.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpIn       = "in"
	OpContains = "contains"
	OpExists   = "exists"
)

const attributesPrefix = "attributes."

// Predicate is one (field, op, value) condition. Field is a whitelisted
// profile column or attributes.<path> into the free-form attributes.
type Predicate struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

type valueKind int

const (
	kindMissing valueKind = iota
	kindString
	kindNumber
	kindBool
	kindTime
	kindList
)

type fieldValue struct {
	kind valueKind
	str  string
	num  float64
	b    bool
	t    time.Time
	list []string
}

// profileFields maps each whitelisted field to its accessor.
var profileFields = map[string]func(c *models.Customer) fieldValue{
	"name":             func(c *models.Customer) fieldValue { return strValue(c.Name) },
	"email":            func(c *models.Customer) fieldValue { return strValue(c.Email) },
	"tier":             func(c *models.Customer) fieldValue { return strValue(c.Tier) },
	"device_type":      func(c *models.Customer) fieldValue { return strValue(c.DeviceType) },
	"app_types":        func(c *models.Customer) fieldValue { return fieldValue{kind: kindList, list: c.AppTypes} },
	"engagement_score": func(c *models.Customer) fieldValue { return numValue(float64(c.EngagementScore)) },
	"points_balance":   func(c *models.Customer) fieldValue { return numValue(float64(c.PointsBalance)) },
	"coin_balance":     func(c *models.Customer) fieldValue { return numValue(float64(c.CoinBalance)) },
	"created_at":       func(c *models.Customer) fieldValue { return fieldValue{kind: kindTime, t: c.CreatedAt} },
	"last_active_at": func(c *models.Customer) fieldValue {
		if c.LastActiveAt == nil {
			return fieldValue{}
		}
		return fieldValue{kind: kindTime, t: *c.LastActiveAt}
	},
}

func strValue(s string) fieldValue {
	if s == "" {
		return fieldValue{}
	}
	return fieldValue{kind: kindString, str: s}
}

func numValue(n float64) fieldValue { return fieldValue{kind: kindNumber, num: n} }

func (p *Predicate) validate() error {
	if _, ok := profileFields[p.Field]; !ok {
		if !strings.HasPrefix(p.Field, attributesPrefix) || len(p.Field) == len(attributesPrefix) {
			return invalid("predicates.field", fmt.Sprintf("field %q is not filterable", p.Field))
		}
	}
	switch p.Op {
	case OpExists:
		return nil
	case OpEq, OpNe, OpContains:
		if p.Value == nil {
			return invalid("predicates.value", p.Op+" requires a value")
		}
	case OpGt, OpGte, OpLt, OpLte:
		switch v := p.Value.(type) {
		case float64:
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return invalid("predicates.value", p.Op+" requires a number or RFC3339 time")
			}
		default:
			return invalid("predicates.value", p.Op+" requires a number or RFC3339 time")
		}
	case OpIn:
		if _, ok := p.Value.([]any); !ok {
			return invalid("predicates.value", "in requires an array")
		}
	default:
		return invalid("predicates.op", fmt.Sprintf("unknown operator %q", p.Op))
	}
	return nil
}

// resolve reads the predicate's field from the customer.
func (p *Predicate) resolve(c *models.Customer) fieldValue {
	if get, ok := profileFields[p.Field]; ok {
		return get(c)
	}
	res := gjson.GetBytes(c.Attributes, strings.TrimPrefix(p.Field, attributesPrefix))
	switch {
	case !res.Exists() || res.Type == gjson.Null:
		return fieldValue{}
	case res.Type == gjson.Number:
		return numValue(res.Num)
	case res.Type == gjson.True || res.Type == gjson.False:
		return fieldValue{kind: kindBool, b: res.Bool()}
	case res.IsArray():
		var list []string
		for _, item := range res.Array() {
			list = append(list, item.String())
		}
		return fieldValue{kind: kindList, list: list}
	default:
		if t, err := time.Parse(time.RFC3339, res.Str); err == nil {
			return fieldValue{kind: kindTime, t: t, str: res.Str}
		}
		return strValue(res.String())
	}
}

// Eval reports whether the customer satisfies the predicate. Type mismatches
// evaluate to false rather than failing the whole segment.
func (p *Predicate) Eval(c *models.Customer) bool {
	fv := p.resolve(c)
	switch p.Op {
	case OpExists:
		return fv.kind != kindMissing
	case OpEq:
		return equals(fv, p.Value)
	case OpNe:
		return fv.kind != kindMissing && !equals(fv, p.Value)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compare(fv, p.Value)
		if !ok {
			return false
		}
		switch p.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn:
		values, _ := p.Value.([]any)
		for _, v := range values {
			if equals(fv, v) {
				return true
			}
		}
		return false
	case OpContains:
		want := fmt.Sprint(p.Value)
		switch fv.kind {
		case kindList:
			return slices.Contains(fv.list, want)
		case kindString:
			return strings.Contains(fv.str, want)
		}
	}
	return false
}

func equals(fv fieldValue, v any) bool {
	switch want := v.(type) {
	case string:
		switch fv.kind {
		case kindString:
			return fv.str == want
		case kindTime:
			t, err := time.Parse(time.RFC3339, want)
			return err == nil && fv.t.Equal(t)
		}
	case float64:
		return fv.kind == kindNumber && fv.num == want
	case bool:
		return fv.kind == kindBool && fv.b == want
	}
	return false
}

func compare(fv fieldValue, v any) (int, bool) {
	switch want := v.(type) {
	case float64:
		if fv.kind != kindNumber {
			return 0, false
		}
		switch {
		case fv.num < want:
			return -1, true
		case fv.num > want:
			return 1, true
		}
		return 0, true
	case string:
		t, err := time.Parse(time.RFC3339, want)
		if err != nil || fv.kind != kindTime {
			return 0, false
		}
		return fv.t.Compare(t), true
	}
	return 0, false
}

// Matches applies all predicates with the criteria's all/any semantics and
// returns how many held.
func (c *CustomCriteria) Matches(customer *models.Customer) (bool, int) {
	matchAny := c.Match == MatchAny
	held := 0
	for i := range c.Predicates {
		if c.Predicates[i].Eval(customer) {
			held++
		} else if !matchAny {
			return false, held
		}
	}
	if matchAny {
		return held > 0, held
	}
	return true, held
}
