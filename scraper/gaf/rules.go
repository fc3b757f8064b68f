package gaf

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// FieldStatus distinguishes why a field has or lacks a value.
type FieldStatus int

const (
	FieldPresent FieldStatus = iota
	FieldAbsent
	FieldMalformed
)

func (s FieldStatus) String() string {
	switch s {
	case FieldPresent:
		return "present"
	case FieldAbsent:
		return "absent"
	case FieldMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// FieldResult is the extraction result for one logical field.
type FieldResult struct {
	Field  string
	Status FieldStatus
	Raw    []string
	Value  any
	Err    error
}

// Outcome collects the field results for one listing card or profile page.
// Err is set only when the page itself could not be loaded.
type Outcome struct {
	Fields []FieldResult
	Err    error
}

// Field returns the result for name, or an absent result.
func (o Outcome) Field(name string) FieldResult {
	for _, f := range o.Fields {
		if f.Field == name {
			return f
		}
	}
	return FieldResult{Field: name, Status: FieldAbsent}
}

// With returns the names of the fields with the given status.
func (o Outcome) With(status FieldStatus) []string {
	var names []string
	for _, f := range o.Fields {
		if f.Status == status {
			names = append(names, f.Field)
		}
	}
	return names
}

// Locator finds the raw string values of a field under a root selection.
type Locator interface {
	Locate(root *goquery.Selection) []string
}

// Text is the trimmed text of the first element matching Selector.
type Text struct {
	Selector string
}

func (l Text) Locate(root *goquery.Selection) []string {
	sel := root.Find(l.Selector).First()
	if sel.Length() == 0 {
		return nil
	}
	return nonEmpty(textOf(sel))
}

// Attr is an attribute of the first element matching Selector.
type Attr struct {
	Selector string
	Name     string
}

func (l Attr) Locate(root *goquery.Selection) []string {
	v, ok := root.Find(l.Selector).First().Attr(l.Name)
	if !ok {
		return nil
	}
	return nonEmpty(strings.TrimSpace(v))
}

// Each yields one value per element matching Items (up to Limit when > 0).
// Each value is the text of Inner within the item, of Fallback when Inner
// is missing, or of the item itself when Inner is empty.
type Each struct {
	Items    string
	Inner    string
	Fallback string
	Limit    int
}

func (l Each) Locate(root *goquery.Selection) []string {
	var out []string
	root.Find(l.Items).EachWithBreak(func(i int, item *goquery.Selection) bool {
		if l.Limit > 0 && i >= l.Limit {
			return false
		}
		target := item
		if l.Inner != "" {
			target = item.Find(l.Inner).First()
			if target.Length() == 0 && l.Fallback != "" {
				target = item.Find(l.Fallback).First()
			}
		}
		if target.Length() == 0 {
			return true
		}
		if v := textOf(target); v != "" {
			out = append(out, v)
		}
		return true
	})
	return out
}

// Detail is the description of the first label/description pair in a
// details panel whose lower-cased label satisfies Match.
type Detail struct {
	Items       string
	Label       string
	Description string
	Match       func(label string) bool
}

func (l Detail) Locate(root *goquery.Selection) []string {
	var out []string
	root.Find(l.Items).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		label := item.Find(l.Label).First()
		if label.Length() == 0 || !l.Match(strings.ToLower(textOf(label))) {
			return true
		}
		desc := item.Find(l.Description).First()
		if desc.Length() == 0 {
			return true
		}
		out = nonEmpty(textOf(desc))
		return false
	})
	return out
}

// Paragraphs joins the non-empty <p> texts inside Selector with a blank
// line. Without paragraphs the section's text nodes are joined by spaces.
type Paragraphs struct {
	Selector string
}

func (l Paragraphs) Locate(root *goquery.Selection) []string {
	section := root.Find(l.Selector).First()
	if section.Length() == 0 {
		return nil
	}
	paras := section.Find("p")
	if paras.Length() > 0 {
		var parts []string
		paras.Each(func(_ int, p *goquery.Selection) {
			if t := textOf(p); t != "" {
				parts = append(parts, t)
			}
		})
		return nonEmpty(strings.Join(parts, "\n\n"))
	}
	return nonEmpty(flatten(section))
}

// Labelled matches a details label containing every one of words.
func Labelled(words ...string) func(string) bool {
	return func(label string) bool {
		for _, w := range words {
			if !strings.Contains(label, w) {
				return false
			}
		}
		return true
	}
}

// Rule maps a logical field to where it lives in the document and how its
// raw text becomes a value.
type Rule struct {
	Field    string
	Locate   Locator
	Fallback Locator
	// Multi keeps every located value; otherwise only the first is used.
	Multi bool
	// Transform converts one raw value. An error marks the field malformed.
	Transform func(raw string) (any, error)
	// Valid rejects transformed values that are out of bounds.
	Valid func(v any) bool
}

// Extract applies rule to root.
func (r Rule) Extract(root *goquery.Selection) FieldResult {
	res := FieldResult{Field: r.Field, Status: FieldAbsent}

	raw := r.Locate.Locate(root)
	if len(raw) == 0 && r.Fallback != nil {
		raw = r.Fallback.Locate(root)
	}
	if len(raw) == 0 {
		return res
	}
	if !r.Multi {
		raw = raw[:1]
	}
	res.Raw = raw

	values := make([]any, 0, len(raw))
	for _, s := range raw {
		v := any(s)
		if r.Transform != nil {
			var err error
			v, err = r.Transform(s)
			if err != nil {
				res.Status = FieldMalformed
				res.Err = fmt.Errorf("%s: %w", r.Field, err)
				if r.Multi {
					continue
				}
				return res
			}
		}
		if r.Valid != nil && !r.Valid(v) {
			res.Status = FieldMalformed
			res.Err = fmt.Errorf("%s: value %v out of bounds", r.Field, v)
			if r.Multi {
				continue
			}
			return res
		}
		values = append(values, v)
	}

	if r.Multi {
		if len(values) == 0 {
			return res
		}
		res.Status = FieldPresent
		res.Value = values
		return res
	}
	res.Status = FieldPresent
	res.Value = values[0]
	return res
}

// Apply runs every rule against root.
func Apply(rules []Rule, root *goquery.Selection) Outcome {
	out := Outcome{Fields: make([]FieldResult, 0, len(rules))}
	for _, r := range rules {
		out.Fields = append(out.Fields, r.Extract(root))
	}
	return out
}

// StringValue returns a present string field, or "".
func (o Outcome) StringValue(name string) string {
	if s, ok := o.Field(name).Value.(string); ok {
		return s
	}
	return ""
}

// Strings returns a present multi-valued string field.
func (o Outcome) Strings(name string) []string {
	vals, _ := o.Field(name).Value.([]any)
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Int returns a present int field.
func (o Outcome) Int(name string) (int, bool) {
	n, ok := o.Field(name).Value.(int)
	return n, ok
}

// Float returns a present float field.
func (o Outcome) Float(name string) (float64, bool) {
	f, ok := o.Field(name).Value.(float64)
	return f, ok
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// textOf is the element's text with whitespace runs collapsed.
func textOf(sel *goquery.Selection) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(sel.Text(), " "))
}

// flatten joins the element's non-blank text nodes with single spaces.
func flatten(sel *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(whitespaceRun.ReplaceAllString(n.Data, " ")); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
