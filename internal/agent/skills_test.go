package agent

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSkills(t *testing.T) {
	all, err := ListSkills()
	require.NoError(t, err)

	var names []string
	for _, s := range all {
		names = append(names, s.Name)
		assert.NotEmpty(t, s.Description, s.Name)
		assert.NotEmpty(t, s.SystemPrompt, s.Name)
		assert.NotEmpty(t, s.Tools, s.Name)
		assert.Positive(t, s.MaxTurns, s.Name)
	}
	assert.Equal(t, []string{"gap-analysis", "narrative-generation", "evidence-collection", "security-review"}, names)
}

func TestGetSkill(t *testing.T) {
	s, err := GetSkill("security-review")
	require.NoError(t, err)
	assert.Equal(t, 25, s.MaxTurns)

	_, err = GetSkill("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownSkill))
	assert.Contains(t, err.Error(), "gap-analysis")
}

func TestListSkillsReturnsCopy(t *testing.T) {
	first, err := ListSkills()
	require.NoError(t, err)
	first[0].Name = "changed"

	second, err := ListSkills()
	require.NoError(t, err)
	assert.Equal(t, "gap-analysis", second[0].Name)
}

func TestParseSkills(t *testing.T) {
	parsed, err := parseSkills([]byte("- name: a\n  description: x\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTurns, parsed[0].MaxTurns)

	_, err = parseSkills([]byte("- name: a\n- name: a\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = parseSkills([]byte("- description: nameless\n"))
	assert.ErrorContains(t, err, "no name")
}

func TestBuildPrompt(t *testing.T) {
	plain := BuildPrompt("  review AC-02  ", nil)
	assert.True(t, strings.HasPrefix(plain, basePrompt))
	assert.True(t, strings.HasSuffix(plain, "Task:\nreview AC-02"))
	assert.NotContains(t, plain, "Skill:")

	skill, err := GetSkill("gap-analysis")
	require.NoError(t, err)
	withSkill := BuildPrompt("find gaps", &skill)
	assert.Contains(t, withSkill, "Skill: gap-analysis\nYou are a compliance gap analysis expert.")
	assert.Less(t, strings.Index(withSkill, "Skill:"), strings.Index(withSkill, "Task:"))
}
