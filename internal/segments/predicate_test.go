package segments

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

func profile() *models.Customer {
	last := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)
	return &models.Customer{
		Name:            "Asha",
		Email:           "asha@example.com",
		Status:          models.CustomerStatusActive,
		Tier:            "gold",
		AppTypes:        []string{"ios", "web"},
		DeviceType:      "iphone",
		EngagementScore: 72,
		LastActiveAt:    &last,
		Attributes:      json.RawMessage(`{"city":"Kochi","kids":2,"vip":true,"tags":["beta","early"],"signup":"2024-02-01T00:00:00Z"}`),
		PointsBalance:   1500,
		CreatedAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPredicateEval(t *testing.T) {
	c := profile()
	cases := []struct {
		p    Predicate
		want bool
	}{
		{Predicate{Field: "tier", Op: OpEq, Value: "gold"}, true},
		{Predicate{Field: "tier", Op: OpNe, Value: "gold"}, false},
		{Predicate{Field: "tier", Op: OpIn, Value: []any{"silver", "gold"}}, true},
		{Predicate{Field: "email", Op: OpContains, Value: "@example"}, true},
		{Predicate{Field: "app_types", Op: OpContains, Value: "web"}, true},
		{Predicate{Field: "app_types", Op: OpContains, Value: "android"}, false},
		{Predicate{Field: "engagement_score", Op: OpGte, Value: 72.0}, true},
		{Predicate{Field: "engagement_score", Op: OpGt, Value: 72.0}, false},
		{Predicate{Field: "points_balance", Op: OpLt, Value: 2000.0}, true},
		{Predicate{Field: "created_at", Op: OpLte, Value: "2024-06-01T00:00:00Z"}, true},
		{Predicate{Field: "last_active_at", Op: OpGt, Value: "2025-05-01T00:00:00Z"}, true},
		{Predicate{Field: "attributes.city", Op: OpEq, Value: "Kochi"}, true},
		{Predicate{Field: "attributes.kids", Op: OpGte, Value: 2.0}, true},
		{Predicate{Field: "attributes.vip", Op: OpEq, Value: true}, true},
		{Predicate{Field: "attributes.tags", Op: OpContains, Value: "beta"}, true},
		{Predicate{Field: "attributes.signup", Op: OpLt, Value: "2025-01-01T00:00:00Z"}, true},
		{Predicate{Field: "attributes.missing", Op: OpExists}, false},
		{Predicate{Field: "attributes.city", Op: OpExists}, true},
		// type mismatch evaluates to false
		{Predicate{Field: "tier", Op: OpGt, Value: 3.0}, false},
		{Predicate{Field: "attributes.missing", Op: OpNe, Value: "x"}, false},
	}
	for _, tc := range cases {
		if got := tc.p.Eval(c); got != tc.want {
			t.Errorf("%s %s %v: got %v, want %v", tc.p.Field, tc.p.Op, tc.p.Value, got, tc.want)
		}
	}
}

func TestCustomCriteriaMatches(t *testing.T) {
	c := profile()
	hit := Predicate{Field: "tier", Op: OpEq, Value: "gold"}
	miss := Predicate{Field: "device_type", Op: OpEq, Value: "pixel"}

	all := &CustomCriteria{Match: MatchAll, Predicates: []Predicate{hit, miss}}
	if ok, _ := all.Matches(c); ok {
		t.Error("all: one failing predicate should reject")
	}

	anyOf := &CustomCriteria{Match: MatchAny, Predicates: []Predicate{miss, hit}}
	ok, held := anyOf.Matches(c)
	if !ok || held != 1 {
		t.Errorf("any: got (%v, %d), want (true, 1)", ok, held)
	}

	none := &CustomCriteria{Match: MatchAny, Predicates: []Predicate{miss}}
	if ok, _ := none.Matches(c); ok {
		t.Error("any: no predicate held, should reject")
	}
}
