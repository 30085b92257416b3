package corpus

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kermitos690/lexveille/internal/model"
)

func TestParse_ArticleParagraphLetter(t *testing.T) {
	raw := "Art. 389\nLe mandat pour cause d'inaptitude.\n1. Premier alinéa du texte.\na) lettre a du texte.\nArt. 390\nSuite du texte légal."

	units := Parse(raw, "ch-cc")
	require.Len(t, units, 4)

	assert.Equal(t, "art. 389", units[0].CitationKey)
	assert.Equal(t, model.UnitArticle, units[0].Type)
	assert.Contains(t, units[0].ContentText, "Le mandat pour cause d'inaptitude.")
	assert.Contains(t, units[0].ContentText, "Premier alinéa du texte.")
	assert.True(t, units[0].IsKeyUnit)

	assert.Equal(t, "art. 389 al. 1", units[1].CitationKey)
	assert.Equal(t, model.UnitParagraph, units[1].Type)
	assert.Equal(t, "Premier alinéa du texte.", units[1].ContentText)
	assert.Equal(t, 1, units[1].ParagraphNo)
	assert.False(t, units[1].IsKeyUnit)

	assert.Equal(t, "art. 389 al. 1 let. a", units[2].CitationKey)
	assert.Equal(t, model.UnitLetter, units[2].Type)
	assert.Equal(t, "lettre a du texte.", units[2].ContentText)
	assert.Equal(t, "a", units[2].Letter)

	assert.Equal(t, "art. 390", units[3].CitationKey)
	assert.Equal(t, "Suite du texte légal.", units[3].ContentText)
}

func TestParse_OrderIndexIsScanOrder(t *testing.T) {
	raw := "Art. 1\n1. Premier alinéa complet.\n2. Deuxième alinéa complet.\nArt. 2\n1. Alinéa de l'article deux."

	units := Parse(raw, "test")
	require.Len(t, units, 5)
	for i, u := range units {
		assert.Equal(t, i, u.OrderIndex)
	}
	assert.Equal(t, "art. 1", units[0].CitationKey)
	assert.Equal(t, "art. 1 al. 1", units[1].CitationKey)
	assert.Equal(t, "art. 1 al. 2", units[2].CitationKey)
	assert.Equal(t, "art. 2", units[3].CitationKey)
	assert.Equal(t, "art. 2 al. 1", units[4].CitationKey)
}

func TestParse_ArticleCountMatchesHeaders(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 7; i++ {
		fmt.Fprintf(&sb, "Art. %d\nContenu de l'article numéro %d.\n", i, i)
	}

	units := Parse(sb.String(), "test")

	seen := map[string]bool{}
	var articles []model.LegalUnit
	for _, u := range units {
		if u.Type == model.UnitArticle {
			assert.False(t, seen[u.CitationKey], "duplicate citation key %s", u.CitationKey)
			seen[u.CitationKey] = true
			articles = append(articles, u)
		}
	}
	require.Len(t, articles, 7)
	for i, a := range articles {
		assert.Equal(t, fmt.Sprintf("art. %d", i+1), a.CitationKey)
	}
}

func TestParse_SuffixPreserved(t *testing.T) {
	units := Parse("Art. 12bis\nDisposition transitoire complète.\nArt. 12 ter\nAutre disposition complète.", "test")
	require.Len(t, units, 2)
	assert.Equal(t, "art. 12bis", units[0].CitationKey)
	assert.Equal(t, "12bis", units[0].ArticleNumber)
	assert.Equal(t, "art. 12ter", units[1].CitationKey)
}

func TestParse_LetterSuffixPreserved(t *testing.T) {
	units := Parse("Article 426a\nPlacement à des fins d'assistance.", "test")
	require.Len(t, units, 1)
	assert.Equal(t, "art. 426a", units[0].CitationKey)
}

func TestParse_NoArticleHeaders(t *testing.T) {
	units := Parse("Préambule sans aucune structure reconnaissable.\nDeuxième ligne.", "test")
	assert.Empty(t, units)
}

func TestParse_ShortFragmentsDiscarded(t *testing.T) {
	// "a) ok." is under the minimum fragment length and must not become a unit.
	raw := "Art. 5\n1. Alinéa suffisamment long pour être conservé.\na) ok.\nb) lettre b suffisamment longue;"

	units := Parse(raw, "test")
	require.Len(t, units, 3)
	assert.Equal(t, "art. 5", units[0].CitationKey)
	assert.Equal(t, "art. 5 al. 1", units[1].CitationKey)
	assert.Equal(t, "art. 5 al. 1 let. b", units[2].CitationKey)
	assert.Equal(t, "lettre b suffisamment longue;", units[2].ContentText)
}

func TestParse_SemicolonBoundsLetterText(t *testing.T) {
	raw := "Art. 8\n1. Le représentant peut notamment:\na) gérer les biens courants; et le reste de la phrase continue ici."

	units := Parse(raw, "test")
	require.Len(t, units, 3)
	letter := units[2]
	assert.Equal(t, "art. 8 al. 1 let. a", letter.CitationKey)
	assert.Equal(t, "gérer les biens courants;", letter.ContentText)
}

func TestParse_ContentHashStableAcrossCalls(t *testing.T) {
	raw := "Art. 389\nLe mandat pour cause d'inaptitude."
	first := Parse(raw, "run-1")
	second := Parse(raw, "run-2")
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ContentHash, second[0].ContentHash)
	assert.Equal(t, Hash([]byte(first[0].ContentText)), first[0].ContentHash)
}

func TestParse_ExplicitAlineaMarker(t *testing.T) {
	raw := "Art. 394\nTexte introductif de l'article.\nal. 2 Le mandataire agit dans l'intérêt du mandant."

	units := Parse(raw, "test")
	require.Len(t, units, 2)
	assert.Equal(t, "art. 394 al. 2", units[1].CitationKey)
	assert.Equal(t, 2, units[1].ParagraphNo)
}
