package planner

import (
	"askable/internal/catalog"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *catalog.Catalog {
	return catalog.NewBuilder().
		Add("A", "c1", "X-1: item x", "moduleX.yml").
		Add("A", "c1", "Y-1: item y", "moduleY.yml").
		Add("B", "c2", "Z-1: item z", "moduleZ.yml").
		Add("B", "c2", "W-1: item w", "moduleW.yml").
		// 与 X-1 映射到同一个模块
		Add("C", "c3", "X-2: item x again", "moduleX.yml").
		Add("C", "c3", "N-1: unmapped", "").
		Build()
}

func TestCompile_UnifiedScenario(t *testing.T) {
	cat := testCatalog()
	tree := SelectionTree{
		"A": AllOf(),
		"B": Explicit(map[string]map[string]bool{
			"c2": {"Z-1: item z": true, "W-1: item w": false},
		}),
	}

	plan := Compile(Unified(tree), cat)
	assert.Equal(t, ModeUnified, plan.Mode)
	assert.Equal(t, []string{"moduleX.yml", "moduleY.yml", "moduleZ.yml"}, plan.IDs())
	for _, m := range plan.Modules {
		assert.Nil(t, m.Scope)
		assert.True(t, m.InScope("any-host"))
	}
	assert.Equal(t, "moduleX", plan.Modules[0].Code)
}

func TestCompile_DuplicateModulesCollapse(t *testing.T) {
	cat := testCatalog()
	tree := SelectionTree{
		"A": AllOf(),
		"C": Explicit(map[string]map[string]bool{
			"c3": {"X-2": true, "N-1: unmapped": true},
		}),
	}

	plan := Compile(Unified(tree), cat)
	assert.Equal(t, []string{"moduleX.yml", "moduleY.yml"}, plan.IDs())
}

func TestCompile_Deterministic(t *testing.T) {
	cat := testCatalog()
	sel := PerHost(map[string]SelectionTree{
		"web1": {"A": AllOf()},
		"web2": {"B": Explicit(map[string]map[string]bool{"c2": {"Z-1: item z": true}})},
		"db1":  {"A": Explicit(map[string]map[string]bool{"c1": {"X-1: item x": true}}), "C": AllOf()},
	})

	first := Compile(sel, cat)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Compile(sel, cat))
	}
}

func TestCompile_PerHostScopes(t *testing.T) {
	cat := testCatalog()
	trees := map[string]SelectionTree{
		"web1": {"A": AllOf()},
		"web2": {"B": Explicit(map[string]map[string]bool{"c2": {"Z-1: item z": true}})},
		"db1":  {"C": AllOf()},
		"idle": {"B": Explicit(map[string]map[string]bool{"c2": {"Z-1: item z": false}})},
	}

	plan := Compile(PerHost(trees), cat)
	require.Equal(t, ModePerHost, plan.Mode)
	assert.Equal(t, []string{"moduleX.yml", "moduleY.yml", "moduleZ.yml"}, plan.IDs())

	byID := map[string]PlanModule{}
	for _, m := range plan.Modules {
		byID[m.ID] = m
	}
	assert.Equal(t, []string{"db1", "web1"}, byID["moduleX.yml"].Scope)
	assert.Equal(t, []string{"web1"}, byID["moduleY.yml"].Scope)
	assert.Equal(t, []string{"web2"}, byID["moduleZ.yml"].Scope)
	assert.Equal(t, []string{"db1", "web1", "web2"}, plan.ScopedHosts())

	// 主机在模块作用域内 当且仅当 模块可以从该主机自己的选择到达
	for host, tree := range trees {
		reach := map[string]bool{}
		for _, id := range Reachable(tree, cat) {
			reach[id] = true
		}
		for _, m := range plan.Modules {
			assert.Equal(t, reach[m.ID], m.InScope(host), "%s/%s", host, m.ID)
		}
		assert.Len(t, plan.ModulesFor(host), len(reach), host)
	}
}

func TestCompile_EmptySelections(t *testing.T) {
	cat := testCatalog()

	plan := Compile(Unified(SelectionTree{}), cat)
	assert.True(t, plan.Empty())

	plan = Compile(PerHost(map[string]SelectionTree{"web1": {}}), cat)
	assert.True(t, plan.Empty())
	assert.Empty(t, plan.ScopedHosts())

	plan = Compile(Unified(SelectionTree{"Unknown": AllOf()}), cat)
	assert.True(t, plan.Empty())
}

func TestCountSelected(t *testing.T) {
	cat := testCatalog()
	tests := []struct {
		name string
		tree SelectionTree
		want int
	}{
		{name: "empty", tree: SelectionTree{}, want: 0},
		{name: "all of service", tree: SelectionTree{"A": AllOf()}, want: 2},
		{name: "explicit leaves", tree: SelectionTree{
			"B": Explicit(map[string]map[string]bool{"c2": {"Z-1: item z": true, "W-1: item w": false}}),
		}, want: 1},
		{name: "unmapped items still count", tree: SelectionTree{"C": AllOf()}, want: 2},
		{name: "mixed", tree: SelectionTree{
			"A": AllOf(),
			"C": Explicit(map[string]map[string]bool{"c3": {"X-2": true, "N-1: unmapped": true}}),
		}, want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountSelected(tt.tree, cat))
		})
	}
}

func TestSelectionJSON(t *testing.T) {
	var sel Selection
	err := json.Unmarshal([]byte(`{
		"mode": "per_host",
		"hosts": {
			"web1": {"A": {"all": true}},
			"web2": {"B": {"all": false, "categories": {"c2": {"Z-1: item z": true}}}}
		}
	}`), &sel)
	require.NoError(t, err)
	require.NoError(t, sel.Validate())

	assert.True(t, sel.PerHost["web1"]["A"].IsAll())
	assert.Nil(t, sel.PerHost["web1"]["A"].Categories())
	assert.False(t, sel.PerHost["web2"]["B"].IsAll())
	assert.True(t, sel.PerHost["web2"]["B"].Categories()["c2"]["Z-1: item z"])
	assert.Equal(t, []string{"web1", "web2"}, sel.Hosts())

	data, err := json.Marshal(AllOf())
	require.NoError(t, err)
	assert.JSONEq(t, `{"all": true}`, string(data))
}

func TestSelectionValidate(t *testing.T) {
	assert.NoError(t, Unified(SelectionTree{}).Validate())
	assert.Error(t, Selection{Mode: "bogus"}.Validate())
	assert.Error(t, Selection{Mode: ModeUnified, PerHost: map[string]SelectionTree{}}.Validate())
	assert.Error(t, Selection{Mode: ModePerHost, Tree: SelectionTree{}}.Validate())
}
