package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemberFlag(t *testing.T) {
	m, err := parseMemberFlag("Ana:12.5:research, writing")
	require.NoError(t, err)
	assert.Equal(t, "Ana", m.Name)
	assert.Equal(t, 12.5, m.WeeklyHours)
	assert.Equal(t, []string{"research", "writing"}, m.Skills)

	m, err = parseMemberFlag("Bo:8")
	require.NoError(t, err)
	assert.Empty(t, m.Skills)

	for _, bad := range []string{"Bo", ":8", "Bo:lots"} {
		_, err := parseMemberFlag(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadTeamFileAcceptsBothShapes(t *testing.T) {
	dir := t.TempDir()
	wrapped := filepath.Join(dir, "team.yml")
	require.NoError(t, os.WriteFile(wrapped, []byte("team_members:\n  - name: Ana\n    weekly_hours: 10\n    skills: [design]\n"), 0o644))
	bare := filepath.Join(dir, "bare.yml")
	require.NoError(t, os.WriteFile(bare, []byte("- {id: bo, name: Bo, weekly_hours: 6}\n"), 0o644))

	team, err := loadTeamFile(wrapped)
	require.NoError(t, err)
	require.Len(t, team, 1)
	assert.Equal(t, []string{"design"}, team[0].Skills)

	team, err = loadTeamFile(bare)
	require.NoError(t, err)
	require.Len(t, team, 1)
	assert.Equal(t, "bo", team[0].ID)
}

func TestLoadCheckInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "week.yml")
	require.NoError(t, os.WriteFile(path, []byte("checkins:\n  - {member_id: ana, task_id: task_1, percent_complete: 40, blocker: waiting on data}\n"), 0o644))
	items, err := loadCheckInFile(path)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 40.0, items[0].PercentComplete)
	assert.Equal(t, "waiting on data", items[0].Blocker)
}

func TestMimeFromPath(t *testing.T) {
	assert.Equal(t, "text/markdown", mimeFromPath("brief.MD"))
	assert.Equal(t, "application/pdf", mimeFromPath("brief.pdf"))
	assert.Equal(t, "text/plain", mimeFromPath("brief"))
}
