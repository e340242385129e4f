// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package mail

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/samber/oops"
)

//go:embed templates/*
var templateFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt"))
)

type verificationData struct {
	AppName string
	Code    int
	Minutes int
}

type resetData struct {
	AppName  string
	ResetURL string
	Minutes  int
}

// rendered holds the two bodies of a message.
type rendered struct {
	HTML string
	Text string
}

func render(name string, data any) (rendered, error) {
	var html, text bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html", data); err != nil {
		return rendered{}, oops.With("template", name+".html").Wrap(err)
	}
	if err := textTemplates.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return rendered{}, oops.With("template", name+".txt").Wrap(err)
	}
	return rendered{HTML: html.String(), Text: text.String()}, nil
}

// minutes rounds d up to whole minutes for display.
func minutes(d time.Duration) int {
	m := int(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return m
}
