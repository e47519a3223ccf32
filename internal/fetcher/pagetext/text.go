// Package pagetext converts fetched HTML documents into plain text.
package pagetext

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noise holds elements whose text never carries program facts.
const noise = "script, style, noscript, template, svg, iframe, head"

// Extract returns the visible text of an HTML document with whitespace
// collapsed and block elements separated by newlines.
func Extract(body []byte) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(noise).Remove()

	var lines []string
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		collect(sel, &lines)
	})
	if len(lines) == 0 {
		collect(doc.Selection, &lines)
	}
	return strings.Join(lines, "\n"), nil
}

// Title returns the document title, if any.
func Title(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "li": true,
	"tr": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "dd": true, "dt": true, "td": true, "th": true, "table": true,
	"main": true, "header": true, "footer": true, "ul": true, "ol": true,
	"dl": true, "br": true, "aside": true, "nav": true,
}

func collect(sel *goquery.Selection, lines *[]string) {
	var current strings.Builder
	flush := func() {
		text := strings.Join(strings.Fields(current.String()), " ")
		if text != "" {
			*lines = append(*lines, text)
		}
		current.Reset()
	}
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, child *goquery.Selection) {
			node := child.Get(0)
			if node == nil {
				return
			}
			if goquery.NodeName(child) == "#text" {
				current.WriteString(node.Data)
				current.WriteByte(' ')
				return
			}
			block := blockTags[goquery.NodeName(child)]
			if block {
				flush()
			}
			walk(child)
			if block {
				flush()
			}
		})
	}
	walk(sel)
	flush()
}
