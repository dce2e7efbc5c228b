package binding_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elmbind/internal/binding"
)

func TestParseFunction(t *testing.T) {
	fn, err := binding.ParseFunction("Math.Extra.double")
	require.NoError(t, err)
	assert.Equal(t, []string{"Math", "Extra"}, fn.Module)
	assert.Equal(t, "double", fn.Name)
	assert.Equal(t, "Math.Extra", fn.ModulePath())
	assert.Equal(t, "Math.Extra.double", fn.String())
}

func TestParseFunctionRejects(t *testing.T) {
	for _, ref := range []string{"", "double", "Math.", ".double", "math.double", "Math.Double", "Math.dou-ble"} {
		t.Run(ref, func(t *testing.T) {
			_, err := binding.ParseFunction(ref)
			require.ErrorIs(t, err, binding.ErrInvalidCall)
		})
	}
}

func TestRender(t *testing.T) {
	fn, err := binding.ParseFunction("Main.add")
	require.NoError(t, err)
	spec := binding.Spec{Function: fn, Input: "(Int)", Output: "Int", Seed: "42"}

	assert.Equal(t, "Main_add_Binding42", spec.ModuleName())
	assert.Equal(t, "Main_add_Binding42.elm", spec.FileName())

	src, err := binding.Render(spec)
	require.NoError(t, err)
	want := `port module Main_add_Binding42 exposing (main)

import Json.Encode
import Main


port out : Int -> Cmd msg


main : Program (Int) () Never
main =
    Platform.worker
        { init = \flags -> ( (), out (Main.add flags) )
        , update = \_ _ -> ( (), Cmd.none )
        , subscriptions = \_ -> Sub.none
        }
`
	assert.Equal(t, want, string(src))
}

func TestRenderRejectsIncompleteSpec(t *testing.T) {
	_, err := binding.Render(binding.Spec{Input: "(Int)", Output: "Int"})
	require.ErrorIs(t, err, binding.ErrInvalidCall)

	fn, err := binding.ParseFunction("Main.add")
	require.NoError(t, err)
	_, err = binding.Render(binding.Spec{Function: fn, Output: "Int"})
	require.Error(t, err)
}

func TestNewSpecSeedsAreUnique(t *testing.T) {
	fn, err := binding.ParseFunction("A.B.fn")
	require.NoError(t, err)

	first, err := binding.NewSpec(fn, "(Int)", "Int")
	require.NoError(t, err)
	second, err := binding.NewSpec(fn, "(Int)", "Int")
	require.NoError(t, err)

	assert.NotEqual(t, first.Seed, second.Seed)
	assert.True(t, strings.HasPrefix(first.ModuleName(), "A_B_fn_Binding"))
	assert.Len(t, first.Seed, 32)
}
