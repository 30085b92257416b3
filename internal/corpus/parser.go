package corpus

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Kermitos690/lexveille/internal/model"
)

// minFragmentLen is the shortest paragraph/letter text (after trimming)
// persisted as a unit; shorter fragments are treated as scan noise.
const minFragmentLen = 8

// topKeywords is the number of keywords attached to each unit.
const topKeywords = 10

var (
	// articleHeaderRe matches "Art. 389", "Article 12", "Art. 426a" and
	// spaced latin suffixes like "Art. 12 bis". The suffix is part of the
	// article number and must survive into the citation key.
	articleHeaderRe = regexp.MustCompile(`^\s*Art(?:icle)?\.?\s+(\d+(?:\s?(?:bis|ter|quater|quinquies|sexies|septies)|[a-z])?)\b`)

	// paragraphMarkerRe matches a leading integer followed by ".", ")" or
	// "°", or an explicit "al. N" marker.
	paragraphMarkerRe = regexp.MustCompile(`^\s*(?:(\d{1,3})\s*[.)°]|al\.\s*(\d{1,3})\b\.?)\s*`)

	// letterMarkerRe matches a lettered sub-item "a)" at a word boundary.
	letterMarkerRe = regexp.MustCompile(`(?:^|\s)([a-z])\)\s+`)
)

// lineKind is the token class produced by the line scanner.
type lineKind int

const (
	lineBody lineKind = iota
	lineArticleHeader
	lineParagraphMarker
)

// scannedLine is one tokenized input line.
type scannedLine struct {
	kind        lineKind
	articleNum  string // lineArticleHeader
	paragraphNo int    // lineParagraphMarker
	text        string // remainder after the marker, or the full line
}

// scanLine classifies a single line of legal text.
func scanLine(line string) scannedLine {
	if m := articleHeaderRe.FindStringSubmatch(line); m != nil {
		num := strings.ReplaceAll(m[1], " ", "")
		rest := strings.TrimSpace(line[len(m[0]):])
		return scannedLine{kind: lineArticleHeader, articleNum: num, text: rest}
	}
	if m := paragraphMarkerRe.FindStringSubmatch(line); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		no, err := strconv.Atoi(raw)
		if err == nil && no > 0 {
			rest := strings.TrimSpace(line[len(m[0]):])
			return scannedLine{kind: lineParagraphMarker, paragraphNo: no, text: rest}
		}
	}
	return scannedLine{kind: lineBody, text: strings.TrimSpace(line)}
}

// Parse segments raw legal text into an ordered sequence of citable units.
// Each call is independent; the result order is the document-scan order
// across all unit levels combined (articles, their paragraphs and letters
// interleaved as discovered), which downstream citation rendering relies on.
//
// A document with no recognizable article headers yields zero units; that is
// a valid outcome, not an error.
func Parse(rawText, instrumentUID string) []model.LegalUnit {
	lines := strings.Split(rawText, "\n")

	type article struct {
		number string
		lines  []scannedLine
	}

	var articles []article
	for _, raw := range lines {
		sl := scanLine(raw)
		if sl.kind == lineArticleHeader {
			articles = append(articles, article{number: sl.articleNum})
			continue
		}
		if len(articles) == 0 {
			// Preamble text before the first article header is not citable.
			continue
		}
		articles[len(articles)-1].lines = append(articles[len(articles)-1].lines, sl)
	}

	var units []model.LegalUnit
	order := 0

	for _, art := range articles {
		body := articleBody(art.lines)
		articleKey := fmt.Sprintf("art. %s", art.number)

		units = append(units, newUnit(model.LegalUnit{
			CitationKey:   articleKey,
			Type:          model.UnitArticle,
			ArticleNumber: art.number,
			ContentText:   body,
			OrderIndex:    order,
			IsKeyUnit:     true,
		}))
		order++

		for _, par := range collectParagraphs(art.lines) {
			intro, letters := splitLetters(par.text)

			if len(strings.TrimSpace(intro)) >= minFragmentLen {
				units = append(units, newUnit(model.LegalUnit{
					CitationKey:   fmt.Sprintf("%s al. %d", articleKey, par.number),
					Type:          model.UnitParagraph,
					ArticleNumber: art.number,
					ParagraphNo:   par.number,
					ContentText:   strings.TrimSpace(intro),
					OrderIndex:    order,
				}))
				order++
			}

			for _, let := range letters {
				if len(let.text) < minFragmentLen {
					continue
				}
				units = append(units, newUnit(model.LegalUnit{
					CitationKey:   fmt.Sprintf("%s al. %d let. %s", articleKey, par.number, let.letter),
					Type:          model.UnitLetter,
					ArticleNumber: art.number,
					ParagraphNo:   par.number,
					Letter:        let.letter,
					ContentText:   let.text,
					OrderIndex:    order,
				}))
				order++
			}
		}
	}

	if len(units) == 0 {
		zap.L().Debug("corpus: no article headers recognized",
			zap.String("instrument_uid", instrumentUID),
			zap.Int("input_lines", len(lines)),
		)
	}

	return units
}

// newUnit fills the derived fields shared by every unit level.
func newUnit(u model.LegalUnit) model.LegalUnit {
	u.ContentHash = Hash([]byte(u.ContentText))
	u.Keywords = ExtractKeywords(u.ContentText, topKeywords)
	return u
}

// articleBody reassembles the full text of an article, paragraph markers
// included: the article unit always carries the complete body so a citation
// of the article alone remains self-contained.
func articleBody(lines []scannedLine) string {
	var parts []string
	for _, sl := range lines {
		switch sl.kind {
		case lineParagraphMarker:
			parts = append(parts, fmt.Sprintf("%d. %s", sl.paragraphNo, sl.text))
		default:
			if sl.text != "" {
				parts = append(parts, sl.text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// paragraph is one alinea accumulated from the line stream.
type paragraph struct {
	number int
	text   string
}

// collectParagraphs walks an article's lines and groups text under the most
// recent paragraph marker. Body lines before the first marker belong to the
// article itself, not to any paragraph.
func collectParagraphs(lines []scannedLine) []paragraph {
	var paras []paragraph
	for _, sl := range lines {
		switch sl.kind {
		case lineParagraphMarker:
			paras = append(paras, paragraph{number: sl.paragraphNo, text: sl.text})
		case lineBody:
			if len(paras) == 0 || sl.text == "" {
				continue
			}
			last := &paras[len(paras)-1]
			if last.text == "" {
				last.text = sl.text
			} else {
				last.text += "\n" + sl.text
			}
		}
	}
	return paras
}

// letterItem is one lettered sub-item within a paragraph.
type letterItem struct {
	letter string
	text   string
}

// splitLetters separates a paragraph's text into the intro (text before the
// first letter marker) and its lettered sub-items. A letter's text runs to
// the next semicolon-delimited boundary, the next letter marker, or the end
// of the paragraph.
func splitLetters(text string) (string, []letterItem) {
	locs := letterMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, nil
	}

	intro := text[:locs[0][0]]

	var letters []letterItem
	for i, loc := range locs {
		start := loc[1] // end of the marker match
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		segment := text[start:end]
		if idx := strings.Index(segment, ";"); idx >= 0 {
			segment = segment[:idx+1]
		}
		letters = append(letters, letterItem{
			letter: text[loc[2]:loc[3]],
			text:   strings.TrimSpace(segment),
		})
	}

	return intro, letters
}
