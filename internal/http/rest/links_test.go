package rest

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLinks(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		want        []string
		wantErr     error
		wantInvalid []string
	}{
		{
			name: "single string",
			raw:  `"https://example.com/file.zip"`,
			want: []string{"https://example.com/file.zip"},
		},
		{
			name: "string split on newlines and commas",
			raw:  `"https://a.example/1\n https://b.example/2 ,https://c.example/3\r\n\n,"`,
			want: []string{"https://a.example/1", "https://b.example/2", "https://c.example/3"},
		},
		{
			name: "array trimmed and empties dropped",
			raw:  `[" https://a.example/1 ", "", "magnet:?xt=urn:btih:abc"]`,
			want: []string{"https://a.example/1", "magnet:?xt=urn:btih:abc"},
		},
		{name: "missing", raw: ``, wantErr: ErrNoLinks},
		{name: "null", raw: `null`, wantErr: ErrNoLinks},
		{name: "empty string", raw: `""`, wantErr: ErrNoLinks},
		{name: "only separators", raw: `" ,\n , "`, wantErr: ErrNoLinks},
		{name: "empty array", raw: `[]`, wantErr: ErrNoLinks},
		{name: "number", raw: `42`, wantErr: ErrLinksType},
		{name: "object", raw: `{"url":"https://a.example"}`, wantErr: ErrLinksType},
		{name: "array of numbers", raw: `[1, 2]`, wantErr: ErrLinksType},
		{
			name:        "one malformed entry rejects all",
			raw:         `"https://a.example/1\nnot a url\nhttp://"`,
			wantInvalid: []string{"not a url", "http://"},
		},
		{
			name:        "relative path",
			raw:         `["/downloads/file"]`,
			wantInvalid: []string{"/downloads/file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLinks(json.RawMessage(tt.raw))

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
			case tt.wantInvalid != nil:
				var invalidErr *InvalidLinksError
				require.True(t, errors.As(err, &invalidErr), "got %v", err)
				assert.Equal(t, tt.wantInvalid, invalidErr.Links)
				assert.Nil(t, got)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
