package parser

// Selectors are the CSS selectors the listing strategies depend on. They are
// data so that an upstream markup change can be absorbed through config.
type Selectors struct {
	// Card matches one listing entry for the primary strategy.
	Card string `mapstructure:"card"`
	// TitleLink is the title anchor inside a card.
	TitleLink string `mapstructure:"title_link"`
	// Upvotes holds the vote count inside a card.
	Upvotes string `mapstructure:"upvotes"`
	// AuthorLine holds the "N authors" text inside a card.
	AuthorLine string `mapstructure:"author_line"`
	// CommentLink links to the discussion anchor.
	CommentLink string `mapstructure:"comment_link"`
	// Submitter holds the "Submitted by" text.
	Submitter string `mapstructure:"submitter"`
	// Heading is the title element used by the fallback strategy and stars index.
	Heading string `mapstructure:"heading"`
	// Container is the generic card element used to attribute repository stars.
	Container string `mapstructure:"container"`
}

// DefaultSelectors match the current upstream listing markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:        "article.relative.flex.flex-col.overflow-hidden.rounded-xl.border",
		TitleLink:   "h3 a",
		Upvotes:     "div.shadow-alternate div.leading-none",
		AuthorLine:  "div.flex.truncate.text-sm",
		CommentLink: "a[href*='#community']",
		Submitter:   "div.shadow-xs",
		Heading:     "h3",
		Container:   "article",
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if s.Card == "" {
		s.Card = d.Card
	}
	if s.TitleLink == "" {
		s.TitleLink = d.TitleLink
	}
	if s.Upvotes == "" {
		s.Upvotes = d.Upvotes
	}
	if s.AuthorLine == "" {
		s.AuthorLine = d.AuthorLine
	}
	if s.CommentLink == "" {
		s.CommentLink = d.CommentLink
	}
	if s.Submitter == "" {
		s.Submitter = d.Submitter
	}
	if s.Heading == "" {
		s.Heading = d.Heading
	}
	if s.Container == "" {
		s.Container = d.Container
	}
	return s
}
