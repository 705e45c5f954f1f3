package iocli

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStdio(input string, terminal bool) (*Stdio, *bytes.Buffer) {
	var out bytes.Buffer
	return &Stdio{
		in:       bufio.NewReader(strings.NewReader(input)),
		out:      &out,
		terminal: terminal,
	}, &out
}

// Проверяем что NewStdio возвращает валидный объект
func TestNewStdio(t *testing.T) {
	stdio := NewStdio()
	assert.NotNil(t, stdio)
}

func TestPrintlnAndPrintf(t *testing.T) {
	stdio, out := newTestStdio("", false)

	stdio.Println("hello", "world")
	stdio.Printf("test %d %s", 1, "abc")

	assert.Equal(t, "hello world\ntest 1 abc", out.String())
}

func TestReadInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "line", input: "  yes \nrest\n", want: "yes"},
		{name: "last line without newline", input: "y", want: "y"},
		{name: "no input", input: "", wantErr: io.EOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdio, out := newTestStdio(tt.input, false)

			got, err := stdio.ReadInput("Prompt: ")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Prompt: ", out.String())
		})
	}
}

func TestWriteJSON(t *testing.T) {
	raw := []byte(`{ "a" : [1, 2], "b": {"c": null} }`)

	t.Run("terminal gets indented output", func(t *testing.T) {
		stdio, out := newTestStdio("", true)
		require.NoError(t, WriteJSON(stdio, raw))
		assert.Equal(t, "{\n  \"a\": [\n    1,\n    2\n  ],\n  \"b\": {\n    \"c\": null\n  }\n}\n", out.String())
	})

	t.Run("pipe gets compact output", func(t *testing.T) {
		stdio, out := newTestStdio("", false)
		require.NoError(t, WriteJSON(stdio, raw))
		assert.Equal(t, `{"a":[1,2],"b":{"c":null}}`+"\n", out.String())
	})

	t.Run("invalid JSON", func(t *testing.T) {
		stdio, out := newTestStdio("", false)
		assert.Error(t, WriteJSON(stdio, []byte(`{broken`)))
		assert.Empty(t, out.String())
	})

	t.Run("value", func(t *testing.T) {
		stdio, out := newTestStdio("", false)
		require.NoError(t, WriteValue(stdio, map[string]int{"x": 1}))
		assert.Equal(t, `{"x":1}`+"\n", out.String())
	})
}
