package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "  hello world  ", "hello world"},
		{"keeps formatting", "<p>hi <strong>there</strong></p>", "<p>hi <strong>there</strong></p>"},
		{"drops script", `<p>a</p><script>alert(1)</script>`, "<p>a</p>"},
		{"drops handlers", `<p>hello <b onmouseover="x()">there</b></p>`, "<p>hello <b>there</b></p>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeKeepsSafeURLs(t *testing.T) {
	for _, in := range []string{
		`<a href="https://example.com/a">x</a>`,
		`<a href="http://example.com/a">x</a>`,
		`<a href="mailto:mod@example.com">x</a>`,
		`<a href="/threads/1">x</a>`,
		`<img src="https://cdn.example/x.png" alt="x"/>`,
	} {
		got, err := Sanitize(in)
		require.NoError(t, err)
		assert.Regexp(t, `(href|src)="[^"]+"`, got, in)
	}
}

func TestSanitizeDropsScriptURLs(t *testing.T) {
	for _, in := range []string{
		`<a href="javascript:alert(1)">x</a>`,
		`<a href="JavaScript:alert(1)">x</a>`,
		"<a href=\"java\tscript:alert(1)\">x</a>",
		`<a href="java&#10;script:alert(1)">x</a>`,
		`<a href="&#106;avascript:alert(1)">x</a>`,
		`<a href="  javascript:alert(1)">x</a>`,
		`<a href="vbscript:msgbox(1)">x</a>`,
		`<img src="data:text/html;base64,PHNjcmlwdD4=" onerror="alert(1)"/>`,
		`<svg><a><animate attributeName="href" values="javascript:alert(1)"/><text>x</text></a></svg>`,
		`<math><a xlink:href="javascript:alert(1)">x</a></math>`,
		`<iframe src="https://evil.example"></iframe>x`,
		`<p style="background:url(javascript:alert(1))">x</p>`,
	} {
		got, err := Sanitize(in)
		require.NoError(t, err)
		assert.NotContains(t, got, "script:", in)
		assert.NotContains(t, got, "onerror", in)
		assert.NotContains(t, got, "data:", in)
		assert.NotContains(t, got, "<svg", in)
		assert.NotContains(t, got, "<animate", in)
		assert.NotContains(t, got, "<math", in)
		assert.NotContains(t, got, "<iframe", in)
		assert.NotContains(t, got, "style=", in)
	}
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank("   "))
	assert.True(t, IsBlank("<p> </p>"))
	assert.False(t, IsBlank("<p>x</p>"))
	assert.False(t, IsBlank(`<p><img src="a.png"/></p>`))
}
