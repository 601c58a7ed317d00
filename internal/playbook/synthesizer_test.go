package playbook

import (
	"askable/internal/planner"
	"askable/pkg/errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func unifiedPlan() *planner.TaskPlan {
	return &planner.TaskPlan{
		Mode: planner.ModeUnified,
		Modules: []planner.PlanModule{
			{ID: "1_1_1_root_remote_access.yml", Code: "1_1_1_root_remote_access"},
			{ID: "1_1_2_password_complexity.yml", Code: "1_1_2_password_complexity"},
		},
	}
}

func perHostPlan() *planner.TaskPlan {
	return &planner.TaskPlan{
		Mode: planner.ModePerHost,
		Modules: []planner.PlanModule{
			{ID: "a.yml", Code: "a", Scope: []string{"web1", "web2"}},
			{ID: "b.yml", Code: "b", Scope: []string{"web2"}},
			{ID: "c.yml", Code: "c", Scope: []string{"ghost"}},
		},
	}
}

func testOptions() Options {
	return Options{
		RunID:        "20250619_164159",
		ArtifactRoot: "/srv/askable/playbooks/playbook_result_20250619_164159/results",
		TaskDir:      "/srv/askable/tasks",
		Become:       true,
		GatherFacts:  true,
	}
}

// renderedPlays 解析渲染结果以便断言
func renderedPlays(t *testing.T, ep *ExecutionPlan) []map[string]interface{} {
	t.Helper()
	data, err := ep.Render()
	require.NoError(t, err)

	var plays []map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &plays))
	return plays
}

func TestSynthesize_EmptyTargets(t *testing.T) {
	_, err := Synthesize(nil, unifiedPlan(), testOptions())
	assert.ErrorIs(t, err, errors.ErrEmptyTargetGroup)
}

func TestSynthesize_Unified(t *testing.T) {
	ep, err := Synthesize([]string{"web2", "web1"}, unifiedPlan(), testOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"web1", "web2"}, ep.Targets)
	require.Len(t, ep.Phases, 2)
	for _, phase := range ep.Phases {
		assert.False(t, phase.Guarded)
		assert.Equal(t, []string{"web1", "web2"}, phase.Hosts)
	}

	plays := renderedPlays(t, ep)
	require.Len(t, plays, 3)

	probe := plays[0]
	assert.Equal(t, ProbePhaseName, probe["name"])
	assert.Equal(t, "target_servers", probe["hosts"])
	assert.Equal(t, true, probe["gather_facts"])
	assert.Equal(t, true, probe["ignore_errors"])
	assert.Equal(t, true, probe["ignore_unreachable"])
	assert.Equal(t, false, probe["any_errors_fatal"])

	// 检查模块以 import_playbook 引入，路径为绝对路径
	first := plays[1]
	assert.Equal(t, "1_1_1_root_remote_access", first["name"])
	assert.Equal(t, "/srv/askable/tasks/1_1_1_root_remote_access.yml", first["ansible.builtin.import_playbook"])
	_, hasHosts := first["hosts"]
	assert.False(t, hasHosts)
	_, guarded := first["when"]
	assert.False(t, guarded)
	vars := first["vars"].(map[string]interface{})
	assert.Equal(t,
		"/srv/askable/playbooks/playbook_result_20250619_164159/results/1_1_1_root_remote_access_{{ inventory_hostname }}.json",
		vars["result_json_path"])
	assert.Equal(t, "20250619_164159", vars["execution_timestamp"])
}

func TestSynthesize_RelativeTaskDir(t *testing.T) {
	opts := testOptions()
	opts.TaskDir = "tasks"
	ep, err := Synthesize([]string{"web1"}, unifiedPlan(), opts)
	require.NoError(t, err)

	cwd, err := os.Getwd()
	require.NoError(t, err)

	plays := renderedPlays(t, ep)
	assert.Equal(t,
		filepath.Join(cwd, "tasks", "1_1_1_root_remote_access.yml"),
		plays[1]["ansible.builtin.import_playbook"])
}

func TestSynthesize_PerHostGuards(t *testing.T) {
	ep, err := Synthesize([]string{"web1", "web2"}, perHostPlan(), testOptions())
	require.NoError(t, err)

	// c.yml 的作用域不在目标主机中
	require.Len(t, ep.Phases, 2)
	assert.Equal(t, []string{"web1", "web2"}, ep.Phases[0].Hosts)
	assert.Equal(t, []string{"web2"}, ep.Phases[1].Hosts)

	plays := renderedPlays(t, ep)
	require.Len(t, plays, 3)
	assert.Equal(t, `inventory_hostname in ["web1","web2"]`, plays[1]["when"])
	assert.Equal(t, `inventory_hostname in ["web2"]`, plays[2]["when"])
	assert.Equal(t, "/srv/askable/tasks/b.yml", plays[2]["ansible.builtin.import_playbook"])
}

func TestExpectedArtifacts(t *testing.T) {
	opts := testOptions()
	ep, err := Synthesize([]string{"web1", "web2", "web3"}, perHostPlan(), opts)
	require.NoError(t, err)

	expected := ep.ExpectedArtifacts()
	assert.Equal(t, []string{
		filepath.Join(opts.ArtifactRoot, "a_web1.json"),
	}, expected["web1"])
	assert.Equal(t, []string{
		filepath.Join(opts.ArtifactRoot, "a_web2.json"),
		filepath.Join(opts.ArtifactRoot, "b_web2.json"),
	}, expected["web2"])
	assert.Contains(t, expected, "web3")
	assert.Empty(t, expected["web3"])
}

func TestArtifactPath_Deterministic(t *testing.T) {
	a := ArtifactPath("/r", "1_1_1_root_remote_access", "web1", "")
	b := ArtifactPath("/r", "1_1_1_root_remote_access", "web1", "json")
	assert.Equal(t, "/r/1_1_1_root_remote_access_web1.json", a)
	assert.Equal(t, a, b)
}

func TestWriteFile(t *testing.T) {
	ep, err := Synthesize([]string{"web1"}, unifiedPlan(), testOptions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pb", "security_check.yml")
	require.NoError(t, ep.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "- name: "+ProbePhaseName))
}

func TestRunIDGenerator(t *testing.T) {
	clock := time.Date(2025, 6, 19, 16, 41, 59, 0, time.Local)
	g := &RunIDGenerator{now: func() time.Time { return clock }}

	first := g.Next()
	second := g.Next()
	third := g.Next()
	assert.Equal(t, "20250619_164159", first)
	assert.Equal(t, "20250619_164159_001", second)
	assert.Equal(t, "20250619_164159_002", third)

	clock = clock.Add(time.Second)
	fourth := g.Next()
	assert.Equal(t, "20250619_164200", fourth)

	// 时钟回拨
	clock = clock.Add(-time.Minute)
	fifth := g.Next()
	assert.Equal(t, "20250619_164200_001", fifth)

	ids := []string{first, second, third, fourth, fifth}
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}

func TestNewWorkspace(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(filepath.Join(root, "playbooks"), filepath.Join(root, "logs"), "20250619_164159")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "playbooks", "playbook_result_20250619_164159"), ws.Dir)
	assert.Equal(t, filepath.Join(ws.Dir, "results"), ws.ResultDir)
	assert.Equal(t, filepath.Join(ws.Dir, "security_check_20250619_164159.yml"), ws.PlaybookPath)
	assert.Equal(t, filepath.Join(ws.Dir, "inventory_20250619_164159.ini"), ws.InventoryPath)
	assert.Equal(t, filepath.Join(root, "logs", "ansible_execute_log_20250619_164159.log"), ws.TranscriptPath)

	require.NoError(t, ws.Prepare())
	assert.DirExists(t, ws.ResultDir)
	assert.DirExists(t, filepath.Join(root, "logs"))
}
