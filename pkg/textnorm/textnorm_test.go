package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"Quiero hablar.", "quiero hablar"},
		{"  ¿Quieres   HABLAR  conmigo? ", "quieres hablar conmigo"},
		{"l'eau", "l eau"},
		{"私は学生です。", "私は学生です"},
		{"ＡＢＣ", "abc"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Normalize(c.in), "Normalize(%q)", c.in)
	}
}

func TestSurfaceKeepsCase(t *testing.T) {
	assert.Equal(t, "Quiero hablar", Surface("Quiero  hablar!"))
	assert.NotEqual(t, Surface("Quiero"), Surface("quiero"))
	assert.Equal(t, Normalize("Quiero"), Normalize("quiero"))
}

func TestCompactAndWords(t *testing.T) {
	assert.Equal(t, "quierohablar", Compact("Quiero hablar."))
	assert.Equal(t, []string{"quiero", "hablar", "contigo"}, Words("Quiero hablar, contigo"))
	assert.Empty(t, Words(" ... "))
}

func TestIsPunct(t *testing.T) {
	assert.True(t, IsPunct('¿'))
	assert.True(t, IsPunct('。'))
	assert.False(t, IsPunct('a'))
}
