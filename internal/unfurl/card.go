package unfurl

// Field is one row of a card's field table.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Card is the rich preview posted back for a single URL.
// Fallback, Title and TitleLink are always populated by adapters.
type Card struct {
	Color      string   `json:"color,omitempty"`
	AuthorName string   `json:"author_name,omitempty"`
	AuthorIcon string   `json:"author_icon,omitempty"`
	AuthorLink string   `json:"author_link,omitempty"`
	Fallback   string   `json:"fallback"`
	Title      string   `json:"title"`
	TitleLink  string   `json:"title_link"`
	FooterIcon string   `json:"footer_icon,omitempty"`
	Text       string   `json:"text,omitempty"`
	Footer     string   `json:"footer,omitempty"`
	Timestamp  int64    `json:"ts,omitempty"` // epoch milliseconds
	Fields     []Field  `json:"fields,omitempty"`
	MarkdownIn []string `json:"mrkdwn_in,omitempty"`
}

// Result is the outcome of running one adapter against one URL: either a
// matched card or NotApplicable.
type Result struct {
	Card    Card
	Matched bool
}

// Matched wraps a card as a successful adapter result.
func Matched(card Card) Result {
	return Result{Card: card, Matched: true}
}

// NotApplicable signals that the URL does not belong to the adapter's service
// or could not be unfurled.
func NotApplicable() Result {
	return Result{}
}
