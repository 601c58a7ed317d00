package reconcile

import (
	"askable/internal/playbook"
	"askable/internal/runner"
	"askable/pkg/errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVocabulary_Match(t *testing.T) {
	cases := []struct {
		text string
		want Family
	}{
		{"조치 완료", FamilySuccess},
		{"Remediation SUCCESS", FamilySuccess},
		{"조치 실패: 권한 없음", FamilyFailed},
		{"FAILED to apply", FamilyFailed},
		{"사용자 요청으로 무시", FamilyIgnored},
		{"ignored by policy", FamilyIgnored},
		{"건너뛰기", FamilySkipped},
		{"skipped", FamilySkipped},
		{"완료 실패", FamilyFailed},
		{"", FamilyNone},
		{"manual review", FamilyNone},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DefaultVocabulary.Match(tc.text), tc.text)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		outcome Outcome
		status  Status
		family  Family
	}{
		{"safe", Outcome{}, OriginallySafe, FamilyNone},
		{"remediated", Outcome{IsVulnerable: true, RemediationApplied: true, RemediationResult: "조치 완료"}, RemediatedSafe, FamilyNone},
		{"failed", Outcome{IsVulnerable: true, RemediationApplied: true, RemediationResult: "조치 실패"}, AttemptedFailed, FamilyFailed},
		{"ignored", Outcome{IsVulnerable: true, RemediationApplied: true, RemediationResult: "ignored"}, AttemptedFailed, FamilyIgnored},
		{"skipped", Outcome{IsVulnerable: true, RemediationApplied: true, RemediationResult: "skip"}, AttemptedFailed, FamilySkipped},
		{"vulnerable", Outcome{IsVulnerable: true}, StillVulnerable, FamilyNone},
		{"vulnerable unknown result", Outcome{IsVulnerable: true, RemediationApplied: true, RemediationResult: "pending"}, StillVulnerable, FamilyNone},
		{"success text without remediation", Outcome{IsVulnerable: true, RemediationResult: "완료"}, StillVulnerable, FamilyNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, family := Classify(tc.outcome, DefaultVocabulary)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.family, family)
		})
	}
}

func TestClassify_Partition(t *testing.T) {
	texts := []string{"", "조치 완료", "실패", "무시", "skip", "unknown"}
	var counts Counts
	total := 0
	for _, vuln := range []bool{false, true} {
		for _, applied := range []bool{false, true} {
			for _, text := range texts {
				o := Outcome{IsVulnerable: Flag(vuln), RemediationApplied: Flag(applied), RemediationResult: Text(text)}
				status, family := Classify(o, DefaultVocabulary)
				counts.add(status, family, applied)
				total++
			}
		}
	}
	assert.Equal(t, total, counts.Total)
	assert.Equal(t, total, counts.OriginallySafe+counts.RemediatedSafe+counts.AttemptedFailed+counts.StillVulnerable)
	assert.Equal(t, counts.AttemptedFailed, counts.Failed+counts.Ignored+counts.Skipped)
}

func TestParseArtifact(t *testing.T) {
	single, err := ParseArtifact([]byte(`{
		"hostname": "web1",
		"is_vulnerable": "true",
		"remediation_applied": 1,
		"remediation_result": "조치 완료",
		"vulnerability_details": {
			"reason": "PermitRootLogin yes",
			"current_mode": 644,
			"file_list": ["/etc/ssh/sshd_config"],
			"vulnerable_files": ["/ignored"]
		}
	}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	o := single[0]
	assert.Equal(t, "web1", o.Hostname)
	assert.True(t, bool(o.IsVulnerable))
	assert.True(t, bool(o.RemediationApplied))
	assert.Equal(t, Text("PermitRootLogin yes"), o.Details.Reason)
	assert.Equal(t, Text("644"), o.Details.CurrentMode)
	assert.Equal(t, []string{"/etc/ssh/sshd_config"}, o.Details.Files)

	list, err := ParseArtifact([]byte(`[{"hostname":"web1"}, "noise", {"hostname":"web2","is_vulnerable":false}]`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "web2", list[1].Hostname)

	_, err = ParseArtifact([]byte("  "))
	assert.Error(t, err)
}

func TestLoadArtifact_Missing(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, errors.ErrMissingArtifact)
}

func writeArtifact(t *testing.T, root, code, host, body string) string {
	t.Helper()
	path := playbook.ArtifactPath(root, code, host, "")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestReconcile(t *testing.T) {
	root := t.TempDir()
	transcript := filepath.Join(root, "run.log")
	require.NoError(t, os.WriteFile(transcript, []byte("PLAY RECAP\n"), 0644))

	artifacts := map[string][]string{
		"web1": {
			writeArtifact(t, root, "a", "web1", `{"hostname":"web1","is_vulnerable":false,"remediation_applied":false}`),
			writeArtifact(t, root, "b", "web1", `{"hostname":"web1","is_vulnerable":true,"remediation_applied":true,"remediation_result":"조치 완료"}`),
		},
		"web2": {
			writeArtifact(t, root, "a", "web2", `[{"is_vulnerable":true,"remediation_applied":true,"remediation_result":"조치 실패"},{"is_vulnerable":true,"remediation_applied":false}]`),
			playbook.ArtifactPath(root, "b", "web2", ""),
		},
		"web3": {playbook.ArtifactPath(root, "a", "web3", "")},
	}
	writeArtifact(t, root, "c", "web1", `{broken`)
	artifacts["web1"] = append(artifacts["web1"], playbook.ArtifactPath(root, "c", "web1", ""))

	recap := runner.ParseRecap([]string{
		"PLAY RECAP",
		"web1 : ok=4 changed=1 unreachable=0 failed=0",
		"web3 : ok=0 changed=0 unreachable=1 failed=0",
	})

	report := Reconcile(Input{
		RunID:          "20250619_164159",
		Targets:        []string{"web3", "web1", "web2"},
		Artifacts:      artifacts,
		TranscriptPath: transcript,
		Recap:          recap,
	})

	assert.Equal(t, []string{"web1", "web2", "web3"}, report.TargetHosts)
	assert.Equal(t, []string{"web3"}, report.UnreachableHosts)
	assert.InDelta(t, 2.0/3.0, report.ReachableRate, 1e-9)
	assert.Equal(t, ExecutedPartial, report.Status)

	c := report.Counts
	assert.Equal(t, 4, c.Total)
	assert.Equal(t, 1, c.OriginallySafe)
	assert.Equal(t, 1, c.RemediatedSafe)
	assert.Equal(t, 1, c.AttemptedFailed)
	assert.Equal(t, 1, c.StillVulnerable)
	assert.Equal(t, c.Total, c.OriginallySafe+c.RemediatedSafe+c.AttemptedFailed+c.StillVulnerable)
	assert.InDelta(t, 0.5, report.ImprovementRate, 1e-9)

	assert.Equal(t, 6, report.ArtifactsExpected)
	assert.Equal(t, 3, report.ArtifactsLoaded)
	assert.Equal(t, 2, report.ArtifactsMissing)
	assert.Len(t, report.MalformedFiles, 1)
	assert.Nil(t, report.Diagnostics)

	web2, ok := report.Host("web2")
	require.True(t, ok)
	assert.Equal(t, "web2", web2.Outcomes[0].Hostname)
	assert.True(t, web2.Vulnerable)
	assert.Nil(t, web2.Recap)

	// 未上报的主机只出现在不可达列表中，不计入仍然脆弱
	web3, ok := report.Host("web3")
	require.True(t, ok)
	assert.Equal(t, 0, web3.Counts.StillVulnerable)
	assert.Equal(t, 0, web3.Counts.Total)
	require.NotNil(t, web3.Recap)
	assert.Equal(t, 1, web3.Recap.Unreachable)

	assert.Equal(t, 1, report.SafeHosts)
	assert.Equal(t, 1, report.VulnerableHosts)
}

func TestReconcile_Completed(t *testing.T) {
	root := t.TempDir()
	report := Reconcile(Input{
		Targets: []string{"web1"},
		Artifacts: map[string][]string{
			"web1": {writeArtifact(t, root, "a", "web1", `{"hostname":"web1"}`)},
		},
	})
	assert.Equal(t, Completed, report.Status)
	assert.Equal(t, 0.0, report.ImprovementRate)
}

func TestReconcile_NeverExecuted(t *testing.T) {
	root := t.TempDir()
	report := Reconcile(Input{
		Targets:        []string{"web1"},
		Artifacts:      map[string][]string{"web1": {playbook.ArtifactPath(root, "a", "web1", "")}},
		TranscriptPath: filepath.Join(root, "missing.log"),
	})
	assert.Equal(t, NeverExecuted, report.Status)
	assert.Equal(t, []string{"web1"}, report.UnreachableHosts)
	require.NotNil(t, report.Diagnostics)
	assert.False(t, report.Diagnostics.HasTranscript)
}

func TestReconcile_NotLaunched(t *testing.T) {
	root := t.TempDir()
	transcript := filepath.Join(root, "run.log")
	require.NoError(t, os.WriteFile(transcript, []byte("ERROR: 启动执行器失败\n"), 0644))

	report := Reconcile(Input{
		Targets:        []string{"web1"},
		Artifacts:      map[string][]string{"web1": {playbook.ArtifactPath(root, "a", "web1", "")}},
		TranscriptPath: transcript,
		NotLaunched:    true,
	})
	assert.Equal(t, NeverExecuted, report.Status)
	require.NotNil(t, report.Diagnostics)
	assert.Equal(t, []string{"ERROR: 启动执行器失败"}, report.Diagnostics.ErrorLines)
}

// 结果文件存在时以文件为准，即使执行记录没有标记为已启动
func TestReconcile_ArtifactsOverrideNotLaunched(t *testing.T) {
	root := t.TempDir()
	report := Reconcile(Input{
		Targets: []string{"web1", "web2"},
		Artifacts: map[string][]string{
			"web1": {writeArtifact(t, root, "a", "web1", `{"hostname":"web1","is_vulnerable":true,"remediation_applied":false}`)},
			"web2": {playbook.ArtifactPath(root, "a", "web2", "")},
		},
		NotLaunched: true,
	})
	assert.Equal(t, 1, report.ArtifactsLoaded)
	assert.Equal(t, ExecutedPartial, report.Status)
	assert.Equal(t, []string{"web2"}, report.UnreachableHosts)
}

func TestDiagnose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	lines := "[10:00:00] TASK [probe]\n"
	for i := 0; i < 12; i++ {
		lines += "[10:00:01] fatal: [web1]: UNREACHABLE! attempt\n"
	}
	lines += "[10:00:02] ERROR! the playbook could not be found\n"
	lines += "PLAY RECAP ****\n"
	lines += "web1 : ok=0 changed=0 unreachable=1 failed=0\n"
	lines += "web2 : ok=1 changed=0 unreachable=0 failed=1\n"
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))

	d := Diagnose(path)
	assert.True(t, d.HasTranscript)
	assert.Len(t, d.ErrorLines, 10)
	assert.Contains(t, d.ErrorLines[9], "could not be found")
	assert.Len(t, d.FailedSummary, 2)
}
