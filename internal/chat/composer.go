// Package chat implements the Gamemaster turn pipeline: layered prompt
// composition, the progressive summarization cascade, the single-flight turn
// orchestrator, and the conversation lifecycle manager on top of the four
// memory store facets.
package chat

import (
	"strings"

	"github.com/MrWong99/gamemaster/pkg/memory"
)

// Fact-store key suffixes per conversation namespace.
const (
	keyShortSummary  = ".short_text_summary"
	keyMediumSummary = ".medium_text_summary"
	keyLongSummary   = ".long_text_summary"
	keyWorld         = ".world"
	keyActive        = ".chat_is_active"
)

// thinkMarker closes a model's leading chain-of-thought block. Everything up
// to and including the last occurrence is discarded by [CleanReply].
const thinkMarker = "</think>"

// sheetDisclaimer follows the character sheet section in every prompt.
const sheetDisclaimer = "These sheets are reference material only. " +
	"Never use them to infer, predict, or author actions on behalf of the player characters."

// Compose renders the layered conversation context into the text of a single
// system message. The section order is a contract the model output quality
// depends on: rules, character sheets (with schema and disclaimer), world
// keywords, short/medium/long summaries, then retrieved snippets. Sections
// whose input is empty are omitted entirely rather than emitted blank.
//
// Compose is a pure function; it performs no I/O.
func Compose(rules string, sheets [][]byte, schema []byte, world []string, short, medium, long string, snippets []memory.Snippet) string {
	var sections []string

	if rules != "" {
		sections = append(sections, strings.TrimSpace(rules))
	}

	if len(sheets) > 0 {
		var b strings.Builder
		b.WriteString("The characters of this story are described by the following sheets:\n")
		for _, sheet := range sheets {
			b.WriteString(string(sheet))
			b.WriteString("\n")
		}
		if len(schema) > 0 {
			b.WriteString("The sheets follow this schema:\n")
			b.WriteString(string(schema))
			b.WriteString("\n")
		}
		b.WriteString(sheetDisclaimer)
		sections = append(sections, b.String())
	}

	if len(world) > 0 {
		sections = append(sections, "The world of this story can be described as: "+strings.Join(world, ", "))
	}

	if short != "" {
		sections = append(sections, "Summary of the most recent events:\n"+short)
	}
	if medium != "" {
		sections = append(sections, "Summary of earlier events:\n"+medium)
	}
	if long != "" {
		sections = append(sections, "Summary of events long past:\n"+long)
	}

	if len(snippets) > 0 {
		var b strings.Builder
		b.WriteString("Potentially related information from the story so far:\n")
		for _, s := range snippets {
			b.WriteString("- ")
			b.WriteString(s.Content)
			b.WriteString("\n")
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	return strings.TrimSpace(strings.Join(sections, "\n\n"))
}

// CleanReply strips a leading chain-of-thought block from a model reply.
// Everything up to and including the last "</think>" marker is removed and the
// remainder is trimmed of surrounding whitespace. Replies without the marker
// are returned trimmed but otherwise unchanged.
func CleanReply(s string) string {
	if idx := strings.LastIndex(s, thinkMarker); idx >= 0 {
		s = s[idx+len(thinkMarker):]
	}
	return strings.TrimSpace(s)
}
