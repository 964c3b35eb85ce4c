// Package ovpn parses OpenVPN configuration text into a structured Config
// and renders it back for the engine.
//
// The grammar covers what client profiles use in practice: one directive
// per line, optional leading "--", single/double quoted arguments with
// backslash escapes, '#' and ';' comments, and inline blocks such as
// <ca>...</ca>.
package ovpn

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxLineLength caps a single config line, including inline PEM data.
const maxLineLength = 256 * 1024

// ParseError describes malformed configuration text.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

// Directive is a single option line.
type Directive struct {
	Name string
	Args []string
	Line int
}

// Config is a parsed OpenVPN configuration.
type Config struct {
	Directives []Directive
	// Inline holds <tag>...</tag> blocks keyed by tag name.
	Inline map[string]string
	// InlineOrder keeps the order tags appeared in.
	InlineOrder []string
}

// Parser parses configuration text. The zero value is ready to use.
type Parser struct{}

// Parse reads and parses configuration text from r.
func (Parser) Parse(r io.Reader) (*Config, error) {
	return Parse(r)
}

// ParseString parses configuration text held in memory.
func ParseString(text string) (*Config, error) {
	return Parse(strings.NewReader(text))
}

// Parse reads and parses configuration text from r.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{Inline: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	var (
		lineNo    int
		blockTag  string
		blockLine int
		block     strings.Builder
	)

	for scanner.Scan() {
		lineNo++
		raw := strings.TrimRight(scanner.Text(), "\r")
		line := strings.TrimSpace(raw)

		if blockTag != "" {
			if line == "</"+blockTag+">" {
				cfg.addInline(blockTag, block.String())
				blockTag = ""
				block.Reset()
				continue
			}
			block.WriteString(raw)
			block.WriteByte('\n')
			continue
		}

		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		if strings.HasPrefix(line, "</") {
			return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("unexpected closing tag %s", line)}
		}
		if line[0] == '<' {
			if !strings.HasSuffix(line, ">") || len(line) < 3 {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("malformed inline tag %q", line)}
			}
			blockTag = line[1 : len(line)-1]
			if strings.ContainsAny(blockTag, " \t<>/") {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("malformed inline tag %q", line)}
			}
			if _, dup := cfg.Inline[blockTag]; dup {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("duplicate inline block <%s>", blockTag)}
			}
			blockLine = lineNo
			continue
		}

		fields, err := splitArgs(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Msg: err.Error()}
		}
		if len(fields) == 0 {
			continue
		}

		name := strings.TrimPrefix(fields[0], "--")
		if name == "" {
			return nil, &ParseError{Line: lineNo, Msg: "empty directive name"}
		}
		cfg.Directives = append(cfg.Directives, Directive{
			Name: name,
			Args: fields[1:],
			Line: lineNo,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Line: lineNo + 1, Msg: fmt.Sprintf("read error: %v", err)}
	}
	if blockTag != "" {
		return nil, &ParseError{Line: blockLine, Msg: fmt.Sprintf("unterminated inline block <%s>", blockTag)}
	}
	if len(cfg.Directives) == 0 && len(cfg.Inline) == 0 {
		return nil, &ParseError{Msg: "configuration contains no directives"}
	}

	return cfg, nil
}

func (c *Config) addInline(tag, body string) {
	c.Inline[tag] = body
	c.InlineOrder = append(c.InlineOrder, tag)
}

// splitArgs tokenizes one directive line.
// Comments may follow arguments when preceded by whitespace.
func splitArgs(line string) ([]string, error) {
	var (
		fields  []string
		current strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)

	flush := func() {
		if inToken {
			fields = append(fields, current.String())
			current.Reset()
			inToken = false
		}
	}

	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inToken = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			flush()
		case (r == '#' || r == ';') && !inToken:
			flush()
			return fields, nil
		default:
			current.WriteRune(r)
			inToken = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if escaped {
		return nil, fmt.Errorf("dangling escape at end of line")
	}
	flush()
	return fields, nil
}
