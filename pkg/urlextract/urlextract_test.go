package urlextract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		keyword  string
		fragment string
		want     string
		ok       bool
	}{
		{
			name:     "second url matches",
			text:     "see https://ubuntu.com/info\nreset at https://myhost.example.com/login/reset?token=abc\n",
			keyword:  "login",
			fragment: "myhost.example.com",
			want:     "https://myhost.example.com/login/reset?token=abc",
			ok:       true,
		},
		{
			name:     "first match wins",
			text:     "https://myhost.example.com/login/a https://myhost.example.com/login/b",
			keyword:  "login",
			fragment: "myhost.example.com",
			want:     "https://myhost.example.com/login/a",
			ok:       true,
		},
		{
			name:     "keyword without host",
			text:     "https://other.example.com/login/reset",
			keyword:  "login",
			fragment: "myhost.example.com",
		},
		{
			name:     "plain http ignored",
			text:     "http://myhost.example.com/login",
			keyword:  "login",
			fragment: "myhost.example.com",
		},
		{
			name:     "no urls",
			text:     "nothing to see",
			keyword:  "login",
			fragment: "myhost",
		},
		{
			name:     "ansi colored",
			text:     "\x1b[1;32mhttps://myhost.example.com/login?t=1\x1b[0m\r\n",
			keyword:  "login",
			fragment: "myhost",
			want:     "https://myhost.example.com/login?t=1",
			ok:       true,
		},
		{
			name:     "trailing punctuation",
			text:     "Open (https://myhost.example.com/login/x).",
			keyword:  "login",
			fragment: "myhost",
			want:     "https://myhost.example.com/login/x",
			ok:       true,
		},
		{
			name:     "balanced parenthesis kept",
			text:     "docs: https://myhost.example.com/login/Go_(language) now",
			keyword:  "login",
			fragment: "myhost",
			want:     "https://myhost.example.com/login/Go_(language)",
			ok:       true,
		},
		{
			name:     "wrapped in parenthesis and sentence",
			text:     "Reset it (https://myhost.example.com/login/Go_(language)).",
			keyword:  "login",
			fragment: "myhost",
			want:     "https://myhost.example.com/login/Go_(language)",
			ok:       true,
		},
		{
			name:     "quoted",
			text:     `link="https://myhost.example.com/login?t=1";`,
			keyword:  "login",
			fragment: "myhost",
			want:     "https://myhost.example.com/login?t=1",
			ok:       true,
		},
		{
			name: "empty discriminators take first url",
			text: "a https://a.example/x b https://b.example/y",
			want: "https://a.example/x",
			ok:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.text, tt.keyword, tt.fragment)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractDoesNotMutateInput(t *testing.T) {
	text := "x https://myhost.example.com/login y"
	orig := text
	_, _ = Extract(text, "login", "myhost")
	assert.Equal(t, orig, text)
}

func TestCandidatesSkipsMalformed(t *testing.T) {
	assert.Equal(t, []string{"https://ok.example/a"}, Candidates("https://%zz https://ok.example/a"))
}
