// Package parser separates model reasoning from answer text.
//
// Some models wrap their chain of thought in <thinking>...</thinking> (or
// <think>...</think>) before answering. The Splitter removes those blocks
// from a stream whose tags may be cut across chunk boundaries.
package parser

import (
	"strings"
)

// DefaultTags are the reasoning tag names recognised by NewSplitter.
var DefaultTags = []string{"thinking", "think"}

// Splitter routes streamed text into reasoning and answer parts.
type Splitter struct {
	opens   []string
	closing string
	pending string
}

// NewSplitter creates a splitter for the given tag names, or DefaultTags.
func NewSplitter(tags ...string) *Splitter {
	if len(tags) == 0 {
		tags = DefaultTags
	}
	opens := make([]string, 0, len(tags))
	for _, t := range tags {
		opens = append(opens, "<"+t+">")
	}
	return &Splitter{opens: opens}
}

// InThinking reports whether the stream is inside a reasoning block.
func (s *Splitter) InThinking() bool {
	return s.closing != ""
}

// Feed consumes the next piece of the stream. Text that might be the start
// of a tag is held back until the next Feed or Flush.
func (s *Splitter) Feed(text string) (thinking, message string) {
	s.pending += text
	var th, msg strings.Builder

	for s.pending != "" {
		if s.closing != "" {
			idx := strings.Index(s.pending, s.closing)
			if idx < 0 {
				keep := partialSuffix(s.pending, []string{s.closing})
				th.WriteString(s.pending[:len(s.pending)-keep])
				s.pending = s.pending[len(s.pending)-keep:]
				break
			}
			th.WriteString(s.pending[:idx])
			s.pending = s.pending[idx+len(s.closing):]
			s.closing = ""
			continue
		}

		idx, open := firstTag(s.pending, s.opens)
		if idx < 0 {
			keep := partialSuffix(s.pending, s.opens)
			msg.WriteString(s.pending[:len(s.pending)-keep])
			s.pending = s.pending[len(s.pending)-keep:]
			break
		}
		msg.WriteString(s.pending[:idx])
		s.pending = s.pending[idx+len(open):]
		s.closing = "</" + open[1:]
	}

	return th.String(), msg.String()
}

// Flush releases held-back text. An unterminated reasoning block stays
// reasoning.
func (s *Splitter) Flush() (thinking, message string) {
	rest := s.pending
	s.pending = ""
	if s.closing != "" {
		return rest, ""
	}
	return "", rest
}

// Reset clears the splitter for a new stream.
func (s *Splitter) Reset() {
	s.closing = ""
	s.pending = ""
}

// Strip removes reasoning blocks from a complete text and trims the result.
func Strip(text string, tags ...string) string {
	s := NewSplitter(tags...)
	_, msg := s.Feed(text)
	_, rest := s.Flush()
	return strings.TrimSpace(msg + rest)
}

func firstTag(text string, tags []string) (int, string) {
	best, which := -1, ""
	for _, t := range tags {
		if i := strings.Index(text, t); i >= 0 && (best < 0 || i < best) {
			best, which = i, t
		}
	}
	return best, which
}

// partialSuffix returns the length of the longest suffix of text that is a
// proper prefix of one of tags.
func partialSuffix(text string, tags []string) int {
	longest := 0
	for _, t := range tags {
		for n := len(t) - 1; n > longest; n-- {
			if strings.HasSuffix(text, t[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}
