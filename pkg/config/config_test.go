package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/coursegen/pkg/tokenize"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	assert.Equal(t, "eng-spa", c.Pair)
	assert.Equal(t, 10, c.Basket.Size)
	require.Len(t, c.Basket.Buckets, 4)
	assert.Equal(t, 4, c.Basket.Buckets[3].Quota)
	assert.Contains(t, c.Conflict.Prepositions, "a")
	assert.Contains(t, c.Gate.Exempt, "el")
	assert.Equal(t, 3.0, c.Coverage.Sigma)

	tok, err := c.NewTokenizer()
	require.NoError(t, err)
	assert.Equal(t, tokenize.Words{}.Name(), tok.Name())
	assert.False(t, c.Validator().IgnoreSpaces)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "course.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pair: eng-fra\nworkers: 8\nconflict:\n  articles: [le, la, les]\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "eng-fra", c.Pair)
	assert.Equal(t, 8, c.Workers)
	assert.Equal(t, []string{"le", "la", "les"}, c.Conflict.Articles)
	assert.Equal(t, 10, c.Basket.Size, "untouched keys keep their defaults")
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown tokenizer": "tokenizer: mecab\n",
		"zero workers":      "workers: 0\n",
		"bad log level":     "log:\n  level: loud\n",
		"quota sum":         "basket:\n  size: 12\n",
		"unknown key":       "colour: blue\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
