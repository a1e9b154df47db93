// Package lockfile reads and writes the deterministic, human-diffable
// lockfile format described for the resolution graph: a document tree
// of named blocks with key/value attributes, modeled in spirit on the
// registry configuration package's own hand-rolled text format rather
// than reused wholesale from any JSON/YAML codec, since the wire
// format here is bespoke.
package lockfile

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/orepkg/ore/internal/oreerrors"
)

// Version is the lockfile format version this package writes and the
// minimum it accepts on read.
const Version = 1

// Node is one non-root entry in the lockfile.
type Node struct {
	InstallPath  string // block key, e.g. "node_modules/left-pad"
	Name         string
	Version      string // only for registry/git resolutions
	Resolved     string // url or local path
	Integrity    string // SSRI string, empty for Dir resolutions
	Dependencies map[string]string // name -> install path of the resolved child
}

// Root is the root block, recording the project's own declared
// dependency sets by kind.
type Root struct {
	Dependencies    map[string]string
	DevDependencies map[string]string
	Optional        map[string]string
	Peer            map[string]string
}

// Lockfile is the full parsed document.
type Lockfile struct {
	Version int
	Root     Root
	Nodes    []Node // Decode keeps document order; Encode writes sorted by InstallPath
}

// Encode writes lf to w in the canonical, lexicographically-ordered
// form. Two Lockfile values with the same logical content always
// produce byte-identical output.
func Encode(w io.Writer, lf *Lockfile) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "version %d\n", lf.Version)
	fmt.Fprintln(bw, "root {")
	writeMapBlock(bw, 1, "dependencies", lf.Root.Dependencies)
	writeMapBlock(bw, 1, "devDependencies", lf.Root.DevDependencies)
	writeMapBlock(bw, 1, "optional", lf.Root.Optional)
	writeMapBlock(bw, 1, "peer", lf.Root.Peer)
	fmt.Fprintln(bw, "}")

	nodes := append([]Node(nil), lf.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].InstallPath < nodes[j].InstallPath })

	for _, n := range nodes {
		fmt.Fprintf(bw, "node %q {\n", n.InstallPath)
		fmt.Fprintf(bw, "    name %q\n", n.Name)
		if n.Version != "" {
			fmt.Fprintf(bw, "    version %q\n", n.Version)
		}
		fmt.Fprintf(bw, "    resolved %q\n", n.Resolved)
		if n.Integrity != "" {
			fmt.Fprintf(bw, "    integrity %q\n", n.Integrity)
		}
		writeMapBlock(bw, 1, "dependencies", n.Dependencies)
		fmt.Fprintln(bw, "}")
	}

	return bw.Flush()
}

func writeMapBlock(w *bufio.Writer, indent int, name string, m map[string]string) {
	pad := strings.Repeat("    ", indent)
	if len(m) == 0 {
		fmt.Fprintf(w, "%s%s {}\n", pad, name)
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "%s%s {\n", pad, name)
	for _, k := range keys {
		fmt.Fprintf(w, "%s    %q %q;\n", pad, k, m[k])
	}
	fmt.Fprintf(w, "%s}\n", pad)
}

// Decode reads a lockfile document produced by Encode. Unknown
// top-level or block-level keys are tolerated and ignored, satisfying
// the forward-compatible-read requirement.
func Decode(r io.Reader) (*Lockfile, error) {
	toks, err := tokenize(r)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.parseLockfile()
}

// --- tokenizer ---

type tokKind int

const (
	tokWord tokKind = iota
	tokString
	tokLBrace
	tokRBrace
	tokSemi
)

type token struct {
	kind tokKind
	text string
}

func tokenize(r io.Reader) ([]token, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var toks []token
	i := 0
	n := len(data)
	for i < n {
		c := data[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '{':
			toks = append(toks, token{tokLBrace, "{"})
			i++
		case c == '}':
			toks = append(toks, token{tokRBrace, "}"})
			i++
		case c == ';':
			toks = append(toks, token{tokSemi, ";"})
			i++
		case c == '"':
			j := i + 1
			var sb strings.Builder
			for j < n && data[j] != '"' {
				if data[j] == '\\' && j+1 < n {
					j++
				}
				sb.WriteByte(data[j])
				j++
			}
			if j >= n {
				return nil, oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{"reason": "unterminated string"})
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		default:
			j := i
			for j < n && !isSpaceOrPunct(data[j]) {
				j++
			}
			if j == i {
				return nil, oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{"reason": fmt.Sprintf("unexpected byte %q", data[i])})
			}
			toks = append(toks, token{tokWord, string(data[i:j])})
			i = j
		}
	}
	return toks, nil
}

func isSpaceOrPunct(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '{', '}', ';', '"':
		return true
	default:
		return false
	}
}

// --- recursive-descent parser ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) expect(kind tokKind) (token, error) {
	t, ok := p.next()
	if !ok || t.kind != kind {
		return token{}, oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{"reason": "unexpected token", "pos": p.pos})
	}
	return t, nil
}

func (p *parser) parseLockfile() (*Lockfile, error) {
	lf := &Lockfile{}

	verWord, err := p.expectWord("version")
	if err != nil {
		return nil, err
	}
	_ = verWord
	vt, err := p.expect(tokWord)
	if err != nil {
		return nil, err
	}
	v, err := strconv.Atoi(vt.text)
	if err != nil {
		return nil, oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{"reason": "invalid version"})
	}
	lf.Version = v
	if v < Version {
		return nil, oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{"reason": "unsupported version"})
	}

	if _, err := p.expectWord("root"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok {
			return nil, oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{"reason": "unterminated root block"})
		}
		if t.kind == tokRBrace {
			p.pos++
			break
		}
		name, err := p.expect(tokWord)
		if err != nil {
			return nil, err
		}
		m, err := p.parseMapBlock()
		if err != nil {
			return nil, err
		}
		switch name.text {
		case "dependencies":
			lf.Root.Dependencies = m
		case "devDependencies":
			lf.Root.DevDependencies = m
		case "optional":
			lf.Root.Optional = m
		case "peer":
			lf.Root.Peer = m
		}
	}

	for {
		_, ok := p.peek()
		if !ok {
			break
		}
		if _, err := p.expectWord("node"); err != nil {
			return nil, err
		}
		pathTok, err := p.expect(tokString)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokLBrace); err != nil {
			return nil, err
		}
		n := Node{InstallPath: pathTok.text}
		for {
			t, ok := p.peek()
			if !ok {
				return nil, oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{"reason": "unterminated node block"})
			}
			if t.kind == tokRBrace {
				p.pos++
				break
			}
			key, err := p.expect(tokWord)
			if err != nil {
				return nil, err
			}
			switch key.text {
			case "name":
				v, err := p.expect(tokString)
				if err != nil {
					return nil, err
				}
				n.Name = v.text
			case "version":
				v, err := p.expect(tokString)
				if err != nil {
					return nil, err
				}
				n.Version = v.text
			case "resolved":
				v, err := p.expect(tokString)
				if err != nil {
					return nil, err
				}
				n.Resolved = v.text
			case "integrity":
				v, err := p.expect(tokString)
				if err != nil {
					return nil, err
				}
				n.Integrity = v.text
			case "dependencies":
				m, err := p.parseMapBlock()
				if err != nil {
					return nil, err
				}
				n.Dependencies = m
			default:
				if err := p.skipUnknownValue(); err != nil {
					return nil, err
				}
			}
		}
		lf.Nodes = append(lf.Nodes, n)
	}

	return lf, nil
}

func (p *parser) expectWord(text string) (token, error) {
	t, err := p.expect(tokWord)
	if err != nil {
		return token{}, err
	}
	if t.text != text {
		return token{}, oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{"reason": fmt.Sprintf("expected %q, got %q", text, t.text)})
	}
	return t, nil
}

func (p *parser) parseMapBlock() (map[string]string, error) {
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	m := map[string]string{}
	for {
		t, ok := p.peek()
		if !ok {
			return nil, oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{"reason": "unterminated map block"})
		}
		if t.kind == tokRBrace {
			p.pos++
			return m, nil
		}
		k, err := p.expect(tokString)
		if err != nil {
			return nil, err
		}
		v, err := p.expect(tokString)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokSemi); err != nil {
			return nil, err
		}
		m[k.text] = v.text
	}
}

// skipUnknownValue consumes one value after an unrecognized key, so
// future-added scalar or block fields don't break reads of
// older-written lockfiles.
func (p *parser) skipUnknownValue() error {
	t, ok := p.next()
	if !ok {
		return oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{"reason": "unexpected end of input"})
	}
	if t.kind == tokLBrace {
		depth := 1
		for depth > 0 {
			nt, ok := p.next()
			if !ok {
				return oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{"reason": "unterminated block"})
			}
			if nt.kind == tokLBrace {
				depth++
			} else if nt.kind == tokRBrace {
				depth--
			}
		}
	}
	return nil
}
