package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectNConst(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "nm0000148", Subject{PersonID: 148}.NConst())
	assert.Equal(t, "nm1234567", Subject{PersonID: 1234567}.NConst())
	assert.Equal(t, "nm12345678", Subject{PersonID: 12345678}.NConst())
}

func TestSubjectNeedsEnrichment(t *testing.T) {
	t.Parallel()

	s := Subject{PersonID: 1, Name: "Test Actor"}
	assert.True(t, s.NeedsEnrichment())

	s.Known.Circumstances = "   "
	assert.True(t, s.NeedsEnrichment())

	s.Known.Circumstances = "died of heart failure"
	assert.False(t, s.NeedsEnrichment())
}

func TestSubjectLifespan(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1923-1999", Subject{BirthYear: "1923", DeathYear: "1999"}.Lifespan())
	assert.Equal(t, "?-1999", Subject{DeathYear: "1999"}.Lifespan())
	assert.Equal(t, "1923-?", Subject{BirthYear: "1923"}.Lifespan())
}
