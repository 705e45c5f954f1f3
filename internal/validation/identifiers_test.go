package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUserID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "u1", want: "u1"},
		{name: "trimmed", input: "  device-user  ", want: "device-user"},
		{name: "unicode", input: "пользователь", want: "пользователь"},
		{name: "empty", input: "", wantErr: true},
		{name: "only spaces", input: " \t\n ", wantErr: true},
		{name: "control character", input: "u\x001", wantErr: true},
		{name: "too long", input: strings.Repeat("a", MaxUserIDLen+1), wantErr: true},
		{name: "max length", input: strings.Repeat("a", MaxUserIDLen), want: strings.Repeat("a", MaxUserIDLen)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeUserID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeUserID_EmptySentinel(t *testing.T) {
	_, err := NormalizeUserID("   ")
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestValidateRevision(t *testing.T) {
	assert.NoError(t, ValidateRevision(1))
	assert.Error(t, ValidateRevision(0))
	assert.Error(t, ValidateRevision(-3))
}
