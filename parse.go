package histview

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ParseFilter compiles a filter spec into a [Filter]. On failure it returns
// a [*MalformedSpecError] carrying the byte offset of the problem; no
// partial filter is ever returned.
//
// The resulting filter is not normalized; call [Filter.Normalize] or rely
// on [Filter.ID], which normalizes internally.
func ParseFilter(text string) (*Filter, error) {
	p := &specParser{input: text}
	p.skipSpace()

	f, err := p.parseChain(nil)
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, malformed(p.pos, "unexpected trailing input %q", p.rest())
	}
	if f == nil {
		return nil, malformed(0, "empty filter spec")
	}

	return f, nil
}

type specParser struct {
	input string
	pos   int
}

func (p *specParser) rest() string {
	return p.input[p.pos:]
}

func (p *specParser) skipSpace() {
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

// parseChain parses operators until end of input or one of the stop bytes
// at chain depth, returning a single filter or a chain.
func (p *specParser) parseChain(stop []byte) (*Filter, error) {
	var parts []*Filter

	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if isStopByte(c, stop) {
			break
		}
		if c != ':' {
			return nil, malformed(p.pos, "expected ':' to start an operator, got %q", string(c))
		}

		f, err := p.parseOp()
		if err != nil {
			return nil, err
		}
		parts = append(parts, f)
	}

	switch len(parts) {
	case 0:
		return nil, malformed(p.pos, "expected a filter operator")
	case 1:
		return parts[0], nil
	default:
		return &Filter{Op: OpChain, Filters: parts}, nil
	}
}

func isStopByte(c byte, stop []byte) bool {
	for _, s := range stop {
		if c == s {
			return true
		}
	}

	return false
}

// parseOp parses one operator starting at the ':' under p.pos.
func (p *specParser) parseOp() (*Filter, error) {
	start := p.pos
	p.pos++ // consume ':'

	if p.pos >= len(p.input) {
		return nil, malformed(start, "dangling ':' at end of spec")
	}

	switch {
	case p.input[p.pos] == '/':
		p.pos++
		pathstart := p.pos
		raw := p.takeUntil(":, \t\n]")
		if raw == "" {
			return &Filter{Op: OpNop}, nil
		}
		path, err := splitPath(raw, pathstart)
		if err != nil {
			return nil, err
		}
		return &Filter{Op: OpSubdir, Path: path}, nil

	case p.input[p.pos] == ':':
		p.pos++
		patstart := p.pos
		pattern := p.takeUntil(":, \t\n]")
		if pattern == "" {
			return nil, malformed(patstart, "empty glob pattern")
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, malformed(patstart, "invalid glob pattern %q", pattern)
		}
		return &Filter{Op: OpGlob, Pattern: pattern}, nil

	case p.input[p.pos] == '[':
		return p.parseCombine(start)

	case p.hasWord("prefix="):
		pathstart := p.pos
		raw := p.takeUntil(":, \t\n]")
		if raw == "" {
			return nil, malformed(pathstart, "prefix= requires a path")
		}
		path, err := splitPath(raw, pathstart)
		if err != nil {
			return nil, err
		}
		return &Filter{Op: OpPrefix, Path: path}, nil

	case p.hasWord("move="):
		srcstart := p.pos
		rawsrc := p.takeUntil(":, \t\n]")
		if rawsrc == "" {
			return nil, malformed(srcstart, "move= requires a source path")
		}
		if p.pos >= len(p.input) || p.input[p.pos] != ':' {
			return nil, malformed(p.pos, "move= requires ':' between source and destination")
		}
		p.pos++
		dststart := p.pos
		rawdst := p.takeUntil(":, \t\n]")
		if rawdst == "" {
			return nil, malformed(dststart, "move= requires a destination path")
		}
		src, err := splitPath(rawsrc, srcstart)
		if err != nil {
			return nil, err
		}
		dst, err := splitPath(rawdst, dststart)
		if err != nil {
			return nil, err
		}
		return &Filter{Op: OpMove, Src: src, Dst: dst}, nil

	case p.hasWord("squash"):
		return &Filter{Op: OpSquash}, nil

	default:
		return nil, malformed(start, "unknown operator %q", ":"+p.takeUntil(":, \t\n]"))
	}
}

// parseCombine parses ":[ prefix = chain, ... ]" with p.pos at '['.
func (p *specParser) parseCombine(start int) (*Filter, error) {
	p.pos++ // consume '['

	var branches []CombineBranch

	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return nil, malformed(start, "unterminated combine, missing ']'")
		}
		if p.input[p.pos] == ']' {
			p.pos++
			break
		}

		prefixstart := p.pos
		rawprefix := p.takeUntil("=,] \t\n")
		p.skipSpace()
		if rawprefix == "" || p.pos >= len(p.input) || p.input[p.pos] != '=' {
			return nil, malformed(prefixstart, "combine branch must be of the form prefix=filter")
		}
		p.pos++ // consume '='
		p.skipSpace()

		prefix, err := splitPath(rawprefix, prefixstart)
		if err != nil {
			return nil, err
		}

		f, err := p.parseChain([]byte{',', ']'})
		if err != nil {
			return nil, err
		}

		branches = append(branches, CombineBranch{Prefix: prefix, Filter: f})

		p.skipSpace()
		if p.pos < len(p.input) && p.input[p.pos] == ',' {
			p.pos++
		}
	}

	if len(branches) == 0 {
		return nil, malformed(start, "combine requires at least one branch")
	}

	return &Filter{Op: OpCombine, Branches: branches}, nil
}

// takeUntil consumes and returns the run of bytes until one of the cutset
// bytes or end of input.
func (p *specParser) takeUntil(cutset string) string {
	start := p.pos
	for p.pos < len(p.input) && !strings.ContainsRune(cutset, rune(p.input[p.pos])) {
		p.pos++
	}

	return p.input[start:p.pos]
}

// hasWord consumes the word if the input continues with it.
func (p *specParser) hasWord(word string) bool {
	if strings.HasPrefix(p.input[p.pos:], word) {
		p.pos += len(word)
		return true
	}

	return false
}

// splitPath splits a slash separated path into segments, rejecting empty,
// "." and ".." segments. offset is the byte position of raw in the spec.
func splitPath(raw string, offset int) ([]string, error) {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return nil, nil
	}

	segments := strings.Split(raw, "/")
	for _, seg := range segments {
		switch seg {
		case "":
			return nil, malformed(offset, "empty path segment in %q", raw)
		case ".", "..":
			return nil, malformed(offset, "path segment %q is not allowed", seg)
		}
	}

	return segments, nil
}
