package statusfeed

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/restypanel/restywatch/pkg/types"
)

// LineKind classifies one line of the status page.
type LineKind int

const (
	KindIgnored LineKind = iota
	KindHeader
	KindSection
	KindPeer
)

func (k LineKind) String() string {
	switch k {
	case KindHeader:
		return "HEADER"
	case KindSection:
		return "SECTION"
	case KindPeer:
		return "PEER"
	default:
		return "IGNORED"
	}
}

// Section is the peer group a PEER line belongs to.
type Section string

const (
	SectionNone    Section = ""
	SectionPrimary Section = "primary"
	SectionBackup  Section = "backup"
)

// noCheckerMarker is the substring on an Upstream line meaning the upstream
// has no active health checker.
const noCheckerMarker = "NO checkers"

var (
	headerRe = regexp.MustCompile(`(?i)^Upstream\s+(\S+)(.*)$`)
	peerRe   = regexp.MustCompile(`^(\[[0-9A-Fa-f:.]+\]:\d+|[A-Za-z0-9_.-]+:\d+)\s+(\S+)`)
)

// Line is the context-free classification of one trimmed line. Whether a
// PEER line is recorded depends on parser state.
type Line struct {
	Kind LineKind

	// HEADER fields.
	Upstream  string
	NoChecker bool

	// SECTION field.
	Section Section

	// PEER fields. Address is canonical; Status is the opaque status word.
	Address string
	Status  string
}

// Classify inspects a single line without any parser state.
func Classify(raw string) Line {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Line{Kind: KindIgnored}
	}
	if m := headerRe.FindStringSubmatch(s); m != nil {
		return Line{
			Kind:      KindHeader,
			Upstream:  m[1],
			NoChecker: strings.Contains(m[2], noCheckerMarker),
		}
	}
	switch s {
	case "Primary Peers":
		return Line{Kind: KindSection, Section: SectionPrimary}
	case "Backup Peers":
		return Line{Kind: KindSection, Section: SectionBackup}
	}
	if m := peerRe.FindStringSubmatch(s); m != nil {
		return Line{
			Kind:    KindPeer,
			Address: types.CanonicalAddress(m[1]),
			Status:  m[2],
		}
	}
	return Line{Kind: KindIgnored}
}

// Peer is one recorded server entry.
type Peer struct {
	Address string  `json:"address"`
	Status  string  `json:"status"`
	Section Section `json:"section"`
}

// Stats counts how lines were handled.
type Stats struct {
	Lines   int `json:"lines"`
	Headers int `json:"headers"`
	Peers   int `json:"peers"`
	Ignored int `json:"ignored"`
}

// Snapshot is the parsed status page. It is built once per poll and not
// mutated afterwards.
type Snapshot struct {
	// Upstreams maps upstream name -> canonical address -> peer.
	Upstreams map[string]map[string]Peer `json:"upstreams"`

	// NoChecker is true for upstreams whose header carried the NO checkers marker.
	NoChecker map[string]bool `json:"no_checker"`

	Stats Stats `json:"stats"`
}

// Has reports whether the page contained a header for upstream.
func (s Snapshot) Has(upstream string) bool {
	_, ok := s.Upstreams[upstream]
	return ok
}

// Peers returns the peers recorded for upstream (nil when absent).
func (s Snapshot) Peers(upstream string) map[string]Peer {
	return s.Upstreams[upstream]
}

// Parser is the line-by-line state machine behind Parse. The zero value is
// not ready; use NewParser.
type Parser struct {
	current string
	section Section
	out     Snapshot
}

// NewParser returns a parser in its initial state (no upstream, no section).
func NewParser() *Parser {
	return &Parser{out: Snapshot{
		Upstreams: make(map[string]map[string]Peer),
		NoChecker: make(map[string]bool),
	}}
}

// Feed applies one line and returns how it was treated. A PEER-shaped line
// outside a section, and anything before the first header, is IGNORED.
func (p *Parser) Feed(raw string) LineKind {
	p.out.Stats.Lines++
	l := Classify(raw)

	switch l.Kind {
	case KindHeader:
		p.current = l.Upstream
		p.section = SectionNone
		// A repeated header starts the upstream over.
		p.out.Upstreams[p.current] = make(map[string]Peer)
		p.out.NoChecker[p.current] = l.NoChecker
		p.out.Stats.Headers++
		return KindHeader

	case KindSection:
		if p.current == "" {
			break
		}
		p.section = l.Section
		return KindSection

	case KindPeer:
		if p.current == "" || p.section == SectionNone {
			break
		}
		p.out.Upstreams[p.current][l.Address] = Peer{
			Address: l.Address,
			Status:  l.Status,
			Section: p.section,
		}
		p.out.Stats.Peers++
		return KindPeer
	}

	p.out.Stats.Ignored++
	return KindIgnored
}

// Snapshot returns the result accumulated so far.
func (p *Parser) Snapshot() Snapshot {
	return p.out
}

// Parse runs the parser over every line of text.
func Parse(text string) Snapshot {
	p := NewParser()
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		p.Feed(sc.Text())
	}
	return p.Snapshot()
}
