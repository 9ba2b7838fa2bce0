// Package parser extracts paper cards from daily listing markup.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/daily-papers/internal/papers"
)

const defaultSiteURL = "https://huggingface.co"

var (
	authorCountPattern = regexp.MustCompile(`(\d+)\s*authors?`)
	submitterPattern   = regexp.MustCompile(`Submitted by\s*(\S+)`)
	firstNumberPattern = regexp.MustCompile(`\b(\d+)\b`)
)

// Config configures a Parser.
type Config struct {
	Selectors Selectors
	// SiteURL prefixes relative links.
	SiteURL string
}

type strategy struct {
	name    string
	extract func(doc *goquery.Document, stars map[string]int) []papers.PaperCard
}

// Parser runs an ordered chain of extraction strategies; the first one that
// yields cards wins.
type Parser struct {
	sel        Selectors
	siteURL    string
	strategies []strategy
	logger     *zap.Logger
}

// New builds a Parser with the primary and fallback strategies.
func New(cfg Config, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	siteURL := strings.TrimRight(cfg.SiteURL, "/")
	if siteURL == "" {
		siteURL = defaultSiteURL
	}
	p := &Parser{
		sel:     cfg.Selectors.withDefaults(),
		siteURL: siteURL,
		logger:  logger,
	}
	p.strategies = []strategy{
		{name: "cards", extract: p.extractPrimary},
		{name: "headings", extract: p.extractFallback},
	}
	return p
}

// Parse returns the deduplicated cards found in markup. Markup without
// recognizable cards yields an empty slice.
func (p *Parser) Parse(markup string) ([]papers.PaperCard, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("%w: parse markup: %w", papers.ErrUpstreamShape, err)
	}
	stars := p.starsIndex(doc)
	for _, s := range p.strategies {
		cards := s.extract(doc, stars)
		if len(cards) == 0 {
			continue
		}
		cards = dedupe(cards)
		p.logger.Debug("parsed listing", zap.String("strategy", s.name), zap.Int("cards", len(cards)))
		return cards, nil
	}
	return []papers.PaperCard{}, nil
}

func (p *Parser) extractPrimary(doc *goquery.Document, stars map[string]int) []papers.PaperCard {
	return p.collect(doc.Find(p.sel.Card), func(s *goquery.Selection) (papers.PaperCard, bool) {
		link := s.Find(p.sel.TitleLink).First()
		title := normalize(link.Text())
		if title == "" {
			return papers.PaperCard{}, false
		}
		href, _ := link.Attr("href")
		card := papers.PaperCard{
			Title:       title,
			SourceURL:   p.absolute(href),
			Upvotes:     atoi(s.Find(p.sel.Upvotes).First().Text()),
			GithubStars: stars[title],
		}
		card.ArxivID = papers.ExtractArxivID(card.SourceURL)

		s.Find(p.sel.AuthorLine).EachWithBreak(func(_ int, line *goquery.Selection) bool {
			if m := authorCountPattern.FindStringSubmatch(line.Text()); m != nil {
				card.AuthorCount = atoi(m[1])
				return false
			}
			return true
		})
		s.Find(p.sel.CommentLink).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if n, err := strconv.Atoi(strings.TrimSpace(a.Text())); err == nil {
				card.Comments = &n
				return false
			}
			return true
		})
		s.Find(p.sel.Submitter).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if m := submitterPattern.FindStringSubmatch(el.Text()); m != nil {
				card.Submitter = m[1]
				return false
			}
			return true
		})
		return card, true
	})
}

func (p *Parser) extractFallback(doc *goquery.Document, stars map[string]int) []papers.PaperCard {
	return p.collect(doc.Find(p.sel.Heading), func(h *goquery.Selection) (papers.PaperCard, bool) {
		title := normalize(h.Text())
		if title == "" {
			return papers.PaperCard{}, false
		}
		card := papers.PaperCard{Title: title, GithubStars: stars[title]}
		if href, ok := h.Find("a").First().Attr("href"); ok {
			card.SourceURL = p.absolute(href)
		}
		container := h.Parent()
		container.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			if id := papers.ExtractArxivID(p.absolute(href)); id != "" {
				card.ArxivID = id
				return false
			}
			return true
		})
		card.Meta = ownText(container)
		return card, true
	})
}

// collect applies extract to every node. A node whose extraction panics is
// dropped and logged.
func (p *Parser) collect(nodes *goquery.Selection, extract func(*goquery.Selection) (papers.PaperCard, bool)) []papers.PaperCard {
	cards := make([]papers.PaperCard, 0, nodes.Length())
	nodes.Each(func(i int, s *goquery.Selection) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Warn("skipping malformed card", zap.Int("index", i), zap.Any("panic", r))
				}
			}()
			if card, ok := extract(s); ok {
				cards = append(cards, card)
			}
		}()
	})
	return cards
}

// starsIndex maps card titles to repository star counts using repository
// icons first and then text mentions.
func (p *Parser) starsIndex(doc *goquery.Document) map[string]int {
	stars := make(map[string]int)
	doc.Find("svg").Each(func(_ int, svg *goquery.Selection) {
		markup, err := goquery.OuterHtml(svg)
		if err != nil {
			return
		}
		if !strings.Contains(strings.ToLower(markup), "github") && !strings.Contains(markup, "256 250") {
			return
		}
		p.recordStars(svg.Parent(), stars, true)
	})
	doc.Find("*").Each(func(_ int, el *goquery.Selection) {
		if strings.Contains(strings.ToLower(ownText(el)), "github") {
			p.recordStars(el, stars, false)
		}
	})
	return stars
}

func (p *Parser) recordStars(holder *goquery.Selection, stars map[string]int, override bool) {
	m := firstNumberPattern.FindStringSubmatch(holder.Text())
	if m == nil {
		return
	}
	card := holder.Closest(p.sel.Container)
	if card.Length() == 0 {
		return
	}
	title := normalize(card.Find(p.sel.Heading).First().Text())
	if title == "" {
		return
	}
	if _, seen := stars[title]; seen && !override {
		return
	}
	stars[title] = atoi(m[1])
}

func (p *Parser) absolute(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
		return p.siteURL + href
	}
	return href
}

// dedupe keeps the first card per title and drops untitled cards.
func dedupe(cards []papers.PaperCard) []papers.PaperCard {
	seen := make(map[string]struct{}, len(cards))
	out := make([]papers.PaperCard, 0, len(cards))
	for _, c := range cards {
		if c.Title == "" {
			continue
		}
		if _, ok := seen[c.Title]; ok {
			continue
		}
		seen[c.Title] = struct{}{}
		out = append(out, c)
	}
	return out
}

func ownText(s *goquery.Selection) string {
	var parts []string
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			if t := normalize(c.Text()); t != "" {
				parts = append(parts, t)
			}
		}
	})
	return strings.Join(parts, " ")
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
