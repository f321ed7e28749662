package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSectionKey(t *testing.T) {
	a := DocumentSection{FilePath: "docs/a.md", SectionTitle: StringPtr("Intro")}
	b := DocumentSection{FilePath: "docs/a.md", SectionTitle: StringPtr("Intro"), Content: "different"}
	pre := DocumentSection{FilePath: "docs/a.md"}
	emptyTitle := DocumentSection{FilePath: "docs/a.md", SectionTitle: StringPtr("")}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), pre.Key())
	assert.NotEqual(t, pre.Key(), emptyTitle.Key(), "a preamble differs from an empty heading")
	assert.Equal(t, "", pre.Title())
	assert.Equal(t, "Intro", a.Title())
}

func TestDocTypeValid(t *testing.T) {
	for _, dt := range []DocType{DocArchitecture, DocStandards, DocADR, DocOther} {
		assert.True(t, dt.Valid())
	}
	assert.False(t, DocType("runbook").Valid())
}

func TestSourceContextIsEmpty(t *testing.T) {
	assert.True(t, SourceContext{SourceName: "slack"}.IsEmpty())
	assert.False(t, SourceContext{RawText: "x"}.IsEmpty())
	assert.False(t, SourceContext{Data: &MeetingContext{}}.IsEmpty())
}

func TestSynthesizedResultIsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &SynthesizedResult{BuiltAt: now, ExpiresAt: now.Add(time.Hour)}
	assert.False(t, r.IsExpired(now))
	assert.True(t, r.IsExpired(now.Add(time.Hour)))
}

func TestVCSContextEmpty(t *testing.T) {
	assert.True(t, VCSContext{}.Empty())
	assert.False(t, VCSContext{RelatedIssues: []Issue{{Number: 1}}}.Empty())
}
