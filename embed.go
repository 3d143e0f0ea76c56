package mindfulbot

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the web interface. Layouts, pages
// and partial views live in separate directories.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded stylesheet and script served under /static/.
//
//go:embed static/*
var StaticFS embed.FS
