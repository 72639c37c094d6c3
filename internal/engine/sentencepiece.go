package engine

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"golang.org/x/text/unicode/norm"
	"google.golang.org/protobuf/proto"
)

// SentencePiece is a unigram SentencePiece model decoded straight from the
// .model protobuf, so no filesystem is needed on js/wasm. Segmentation (trie
// plus Viterbi) matches github.com/vikesh-raj/go-sentencepiece-encoder.
type SentencePiece struct {
	root    *pieceNode
	pieces  []piece
	unknown uint32
	bos     int64
	eos     int64
}

type pieceKind uint8

const (
	pieceNormal pieceKind = iota
	pieceUnknown
	pieceControl
)

type piece struct {
	text string
	kind pieceKind
}

// LoadSentencePiece decodes a serialized ModelProto.
func LoadSentencePiece(config []byte) (*SentencePiece, error) {
	if len(config) == 0 {
		return nil, ErrEmptyConfig
	}

	var mp gosp.ModelProto
	if err := proto.Unmarshal(config, &mp); err != nil {
		return nil, fmt.Errorf("unmarshal sentencepiece model: %w", err)
	}

	protoPieces := mp.GetPieces()
	if len(protoPieces) == 0 {
		return nil, errors.New("sentencepiece model has no pieces")
	}

	if uint64(len(protoPieces)) > math.MaxUint32 {
		return nil, fmt.Errorf("sentencepiece model has %d pieces, more than an identifier can address", len(protoPieces))
	}

	m := &SentencePiece{
		root:   newPieceNode(),
		pieces: make([]piece, len(protoPieces)),
		bos:    -1,
		eos:    -1,
	}

	haveUnknown := false

	for i, p := range protoPieces {
		id := uint32(i)
		text := p.GetPiece()
		m.pieces[i] = piece{text: text}

		switch p.GetType() {
		case gosp.ModelProto_SentencePiece_NORMAL, gosp.ModelProto_SentencePiece_USER_DEFINED:
			m.root.insert(text, p.GetScore(), id)
		case gosp.ModelProto_SentencePiece_UNKNOWN:
			if haveUnknown {
				return nil, fmt.Errorf("sentencepiece model defines more than one unknown piece (ids %d and %d)", m.unknown, id)
			}
			haveUnknown = true
			m.unknown = id
			m.pieces[i].kind = pieceUnknown
		case gosp.ModelProto_SentencePiece_CONTROL:
			m.pieces[i].kind = pieceControl
			switch text {
			case "<s>":
				m.bos = int64(id)
			case "</s>":
				m.eos = int64(id)
			}
		}
	}

	if !haveUnknown {
		return nil, errors.New("sentencepiece model has no unknown piece")
	}

	return m, nil
}

func (m *SentencePiece) Kind() Kind { return KindSentencePiece }

func (m *SentencePiece) VocabSize() int { return len(m.pieces) }

func (m *SentencePiece) IDToToken(id uint32) (string, bool) {
	if !m.inRange(id) {
		return "", false
	}

	return m.pieces[id].text, true
}

func (m *SentencePiece) inRange(id uint32) bool {
	return uint64(id) < uint64(len(m.pieces))
}

// Encode segments text. With addSpecialTokens, <s> and </s> wrap the
// sequence when the model defines them.
func (m *SentencePiece) Encode(text string, addSpecialTokens bool) (Output, error) {
	ids := m.segment(text)

	if addSpecialTokens {
		if m.bos >= 0 {
			ids = append([]uint32{uint32(m.bos)}, ids...)
		}
		if m.eos >= 0 {
			ids = append(ids, uint32(m.eos))
		}
	}

	out := Output{
		IDs:               ids,
		AttentionMask:     make([]uint32, len(ids)),
		SpecialTokensMask: make([]uint32, len(ids)),
		Tokens:            make([]string, len(ids)),
	}

	for i, id := range ids {
		out.AttentionMask[i] = 1
		out.Tokens[i] = m.pieces[id].text
		if m.pieces[id].kind == pieceControl {
			out.SpecialTokensMask[i] = 1
		}
	}

	return out, nil
}

// Decode concatenates pieces and turns word-start markers back into spaces.
func (m *SentencePiece) Decode(ids []uint32, skipSpecialTokens bool) (string, error) {
	var b strings.Builder

	for i, id := range ids {
		if !m.inRange(id) {
			return "", fmt.Errorf("id %d at position %d is outside the vocabulary", id, i)
		}

		p := m.pieces[id]
		if p.kind == pieceControl && skipSpecialTokens {
			continue
		}

		b.WriteString(p.text)
	}

	decoded := strings.ReplaceAll(b.String(), string(wordStart), " ")

	return strings.TrimPrefix(decoded, " "), nil
}

// ── trie ─────────────────────────────────────────────────────────────────────

type pieceNode struct {
	score    float32
	id       uint32
	depth    int
	terminal bool
	children map[rune]*pieceNode
}

func newPieceNode() *pieceNode {
	return &pieceNode{children: make(map[rune]*pieceNode)}
}

func (n *pieceNode) insert(word string, score float32, id uint32) {
	_, lastSize := utf8.DecodeLastRuneInString(word)
	lastStart := len(word) - lastSize
	node := n

	for i, r := range word {
		child, ok := node.children[r]
		if !ok {
			child = newPieceNode()
			child.depth = node.depth + 1
			node.children[r] = child
		}

		if i == lastStart {
			child.terminal = true
			child.score = score
			child.id = id
		}

		node = child
	}
}

// prefixes returns every terminal node along runes, shortest first.
func (n *pieceNode) prefixes(runes []rune) []*pieceNode {
	var out []*pieceNode

	node := n
	for _, r := range runes {
		child, ok := node.children[r]
		if !ok {
			break
		}

		if child.terminal {
			out = append(out, child)
		}

		node = child
	}

	return out
}

// ── segmentation ─────────────────────────────────────────────────────────────

const (
	minScore  float32 = -math.MaxFloat32
	wordStart rune    = 0x2581 // ▁
)

type lattice struct {
	score float32
	id    uint32
	start int
}

func (m *SentencePiece) segment(text string) []uint32 {
	if text == "" {
		return []uint32{}
	}

	runes := markWords(normalizePieceText(text))
	best := m.forward(runes)
	path := backward(best)

	ids := make([]uint32, 0, len(path))
	prevUnknown := false

	for _, node := range path {
		isUnknown := node.id == m.unknown
		if !(prevUnknown && isUnknown) {
			ids = append(ids, node.id)
		}

		prevUnknown = isUnknown
	}

	return ids
}

func (m *SentencePiece) forward(runes []rune) []lattice {
	n := len(runes) + 1
	scores := make([]float32, n)
	best := make([]lattice, n)

	for i := range best {
		scores[i] = minScore
		best[i] = lattice{start: -1, id: m.unknown}
	}

	scores[0] = 0

	for i := range runes {
		for _, node := range m.root.prefixes(runes[i:]) {
			candidate := scores[i] + node.score
			end := i + node.depth
			if candidate > scores[end] {
				best[end] = lattice{score: candidate, id: node.id, start: i}
				scores[end] = candidate
			}
		}

		if scores[i+1] <= minScore {
			best[i+1] = lattice{score: minScore, id: m.unknown, start: i}
			scores[i+1] = 0
		}
	}

	return best
}

func backward(best []lattice) []lattice {
	var path []lattice

	for idx := len(best) - 1; idx > 0; {
		node := best[idx]
		if node.start < 0 {
			break
		}

		path = append(path, node)
		idx = node.start
	}

	slices.Reverse(path)

	return path
}

// ── normalization ────────────────────────────────────────────────────────────

var formatChars = []rune{
	0x007F, 0x00AD, 0x0600, 0x0601, 0x0602, 0x0603, 0x0604, 0x0605, 0x061C, 0x06DD, 0x070F,
	0x08E2, 0x180E, 0x200B, 0x200C, 0x200D, 0x200E, 0x200F, 0x202A, 0x202B, 0x202C, 0x202D,
	0x202E, 0x2060, 0x2061, 0x2062, 0x2063, 0x2064, 0x2066, 0x2067, 0x2068, 0x2069, 0x206A,
	0x206B, 0x206C, 0x206D, 0x206E, 0x206F, 0xFEFF, 0xFFF9, 0xFFFA, 0xFFFB, 0x110BD,
	0x110CD, 0x13430, 0x13431, 0x13432, 0x13433, 0x13434, 0x13435, 0x13436, 0x13437,
	0x13438, 0x1BCA0, 0x1BCA1, 0x1BCA2, 0x1BCA3, 0x1D173, 0x1D174, 0x1D175, 0x1D176,
	0x1D177, 0x1D178, 0x1D179, 0x1D17A, 0xE0001,
}

func dropRune(c rune) bool {
	switch {
	case c == ' ', c == '\n', c == '\r', c == '\t':
		return false
	case c <= 0x001F:
		return true
	case c >= 0x0080 && c <= 0x009F,
		c >= 0xE0020 && c <= 0xE007F,
		c >= 0xE000 && c <= 0xF8FF,
		c >= 0xF0000 && c <= 0xFFFFD,
		c >= 0x100000 && c <= 0x10FFFD,
		c >= 0xD800 && c <= 0xDFFF:
		return true
	}

	return slices.Contains(formatChars, c)
}

func normalizePieceText(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if dropRune(r) {
			return -1
		}

		if unicode.IsSpace(r) {
			return ' '
		}

		return r
	}, s)

	return norm.NFKC.String(mapped)
}

// markWords converts text to runes with a leading word-start marker and every
// whitespace rune replaced by one.
func markWords(text string) []rune {
	runes := make([]rune, 0, len(text)+1)

	if first, _ := utf8.DecodeRuneInString(text); first != wordStart {
		runes = append(runes, wordStart)
	}

	for _, r := range text {
		if unicode.IsSpace(r) {
			r = wordStart
		}
		runes = append(runes, r)
	}

	return runes
}
