package persona

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Builtins(t *testing.T) {
	r := MustRegistry()

	assert.Equal(t, ModeStandard, r.Default())
	for _, m := range []Mode{ModeStandard, ModeExpert, ModePlayful} {
		instr, err := r.InstructionFor(m)
		require.NoError(t, err)
		assert.NotEmpty(t, instr)
	}

	ps := r.Personas()
	require.Len(t, ps, 3)
	assert.Equal(t, ModeStandard, ps[0].Mode)
	assert.Equal(t, ModePlayful, ps[2].Mode)
}

func TestRegistry_UnknownMode(t *testing.T) {
	r := MustRegistry()

	_, err := r.InstructionFor(Mode("pirate"))
	assert.True(t, errors.Is(err, ErrUnknownMode))

	_, err = r.Lookup("pirate")
	assert.True(t, errors.Is(err, ErrUnknownMode))

	m, err := r.Lookup(" expert ")
	require.NoError(t, err)
	assert.Equal(t, ModeExpert, m)
}

func TestRegistry_Extra(t *testing.T) {
	r, err := NewRegistry(Persona{Mode: "pirate", Instruction: "Arr."})
	require.NoError(t, err)

	m, err := r.Lookup("pirate")
	require.NoError(t, err)
	assert.Equal(t, "pirate", r.Title(m), "title falls back to mode")
	assert.Len(t, r.Personas(), 4)
}

func TestRegistry_RejectsDuplicatesAndEmpty(t *testing.T) {
	_, err := NewRegistry(Persona{Mode: ModeExpert, Instruction: "again"})
	assert.Error(t, err)

	_, err = NewRegistry(Persona{Mode: " ", Instruction: "x"})
	assert.Error(t, err)

	_, err = NewRegistry(Persona{Mode: "quiet"})
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	doc := `personas:
  - mode: pirate
    title: "Пират"
    instruction: "Говори как пират."
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	ps, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, Mode("pirate"), ps[0].Mode)
	assert.Equal(t, "Пират", ps[0].Title)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
