package view

import (
	"context"
	"io"

	"github.com/a-h/templ"
	cmp "maragu.dev/gomponents"
	g "maragu.dev/gomponents/html"
)

const (
	htmxScript   = "https://unpkg.com/htmx.org@2.0.4"
	htmxWSScript = "https://unpkg.com/htmx-ext-ws@2.0.2/ws.js"
	tailwindCDN  = "https://cdn.tailwindcss.com"

	// StaticPrefix is where the embedded web assets are served.
	StaticPrefix = "/static"
)

// CalculateTitle builds the document title.
func CalculateTitle(title string) string {
	if title != "" {
		return title + " - Parley"
	}
	return "Parley"
}

// Base is the page shell every full page is rendered in.
func Base(title string, flashes FlashData, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return g.Doctype(
			g.HTML(
				g.Lang("en"),
				g.Head(
					g.Meta(g.Charset("utf-8")),
					g.Meta(g.Name("viewport"), g.Content("width=device-width, initial-scale=1")),
					g.TitleEl(cmp.Text(CalculateTitle(title))),
					g.Script(g.Src(tailwindCDN)),
					g.Script(g.Src(htmxScript)),
					g.Script(g.Src(htmxWSScript)),
					g.Link(g.Rel("stylesheet"), g.Href(StaticPrefix+"/chat.css")),
					g.Script(g.Src(StaticPrefix+"/chat.js"), g.Defer()),
				),
				g.Body(
					g.Class("bg-gray-100 min-h-screen"),
					flashBanner(flashes),
					AdaptTemplToGomponent(ctx, body),
				),
			),
		).Render(w)
	})
}

func flashBanner(flashes FlashData) cmp.Node {
	if flashes.Empty() {
		return nil
	}
	return g.Div(
		g.ID("flash"),
		g.Class("max-w-2xl mx-auto mt-4 space-y-2"),
		cmp.Map(flashes.Success, func(msg string) cmp.Node {
			return g.Div(g.Class("p-3 rounded bg-green-100 text-green-800"), cmp.Text(msg))
		}),
		cmp.Map(flashes.Error, func(msg string) cmp.Node {
			return g.Div(g.Class("p-3 rounded bg-red-100 text-red-800"), cmp.Text(msg))
		}),
	)
}
