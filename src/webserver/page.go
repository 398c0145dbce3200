package webserver

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

//go:embed assets/*
var embeddedAssets embed.FS

var (
	codeSpan          = regexp.MustCompile("`([^`\n]+)`")
	descriptionPolicy = newDescriptionPolicy()
)

func newDescriptionPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("code", "br")
	return p
}

func mustPage() *template.Template {
	return template.Must(template.ParseFS(embeddedAssets, "assets/index.html"))
}

func assetHandler() http.Handler {
	sub, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/assets/", http.FileServer(http.FS(sub)))
}

// descriptionHTML renders plugin usage text for the page. Backtick spans
// become code elements and line breaks are kept; nothing else survives the
// policy.
func descriptionHTML(text string) template.HTML {
	out := template.HTMLEscapeString(text)
	out = codeSpan.ReplaceAllString(out, "<code>$1</code>")
	out = strings.ReplaceAll(out, "\n", "<br>")
	return template.HTML(descriptionPolicy.Sanitize(out))
}
