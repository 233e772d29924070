package mysql

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/wyfcoding/pricecatalog/internal/catalog/domain"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "single word", query: "shampoo", want: []string{"shampoo"}},
		{name: "whitespace separated", query: "nivea  shampoo", want: []string{"nivea", "shampoo"}},
		{name: "comma separated", query: "nivea,shampoo", want: []string{"nivea", "shampoo"}},
		{name: "mixed separators with padding", query: " nivea, shampoo 250 ", want: []string{"nivea", "shampoo", "250"}},
		{name: "empty query", query: "", want: nil},
		{name: "only separators", query: " , , ", want: nil},
		{name: "cyrillic", query: "Шампунь, Nivea", want: []string{"Шампунь", "Nivea"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.query)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("tokenize(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestBooleanQuery(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   string
	}{
		{name: "single token", tokens: []string{"nivea"}, want: "+nivea*"},
		{name: "all tokens required", tokens: []string{"nivea", "shampoo"}, want: "+nivea* +shampoo*"},
		{name: "no tokens", tokens: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := booleanQuery(tt.tokens); got != tt.want {
				t.Errorf("booleanQuery(%v) = %q, want %q", tt.tokens, got, tt.want)
			}
		})
	}
}

func TestVisibilityFilter(t *testing.T) {
	cond, args := visibilityFilter(false)
	if cond != "in_current_pricelist = ? OR is_active = ?" {
		t.Errorf("default filter condition = %q", cond)
	}
	if !reflect.DeepEqual(args, []any{true, true}) {
		t.Errorf("default filter args = %v", args)
	}

	cond, args = visibilityFilter(true)
	if cond != "" || args != nil {
		t.Errorf("include-removed filter should be empty, got %q %v", cond, args)
	}
}

func TestSyncRejectsForeignTransaction(t *testing.T) {
	idx := &searchIndex{}
	err := idx.Sync(context.Background(), "not a transaction", &domain.CatalogProduct{})
	if err == nil {
		t.Fatal("expected error for non-gorm transaction handle")
	}
	if !strings.Contains(err.Error(), "*gorm.DB") {
		t.Errorf("unexpected error: %v", err)
	}
}
