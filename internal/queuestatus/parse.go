package queuestatus

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"queue-monitor/internal/status"
	"queue-monitor/models"
)

const (
	clockLayout = "3:04 PM"
	chatLayout  = "Jan 2, 3:04 PM"
)

// Parser turns a rendered queue page into a Snapshot. Times on the page are
// wall clock times in loc without a date; they are resolved against now.
type Parser struct {
	loc *time.Location
	now func() time.Time
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc, now: time.Now}
}

func (p *Parser) Parse(r io.Reader) (models.Snapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("parse queue page: %w", err)
	}
	now := p.now().In(p.loc)

	snap := models.Snapshot{State: models.QueueClosed}
	if findFirst(doc, and(byTag(atom.A), byAttr("data-target", "#queue_signup"))) != nil {
		snap.State = models.QueueOpen
	}

	if snap.Servers, err = parseServers(doc); err != nil {
		return models.Snapshot{}, err
	}
	if snap.Chat, err = p.parseChat(doc, now); err != nil {
		return models.Snapshot{}, err
	}

	blocks := findAll(doc, and(byTag(atom.Div), byClass("queue-block")))
	snap.Entries = make([]models.Entry, 0, len(blocks))
	for i, block := range blocks {
		entry, err := p.parseEntry(block, now)
		if err != nil {
			return models.Snapshot{}, fmt.Errorf("entry %d: %w", i, err)
		}
		snap.Entries = append(snap.Entries, entry)
	}
	return snap, nil
}

func parseServers(doc *html.Node) ([]models.ActiveServer, error) {
	servers := []models.ActiveServer{}
	for _, container := range findAll(doc, and(byTag(atom.Div), byClass("active-server-container"))) {
		for _, headshot := range findAll(container, and(byTag(atom.Div), byClass("server-headshot-container"))) {
			name := findFirst(headshot, byTag(atom.Span))
			img := findFirst(headshot, byTag(atom.Img))
			if name == nil || img == nil {
				return nil, fmt.Errorf("active server: %w", status.ErrUnexpectedPage)
			}
			servers = append(servers, models.ActiveServer{
				Name:     text(name),
				ImageURL: strings.TrimSpace(attr(img, "src")),
			})
		}
	}
	return servers, nil
}

// parseChat reads the chat box, a flat list of divs in name, time, message
// order. Chat times carry a month and day but no year.
func (p *Parser) parseChat(doc *html.Node, now time.Time) ([]models.ChatMessage, error) {
	messages := []models.ChatMessage{}
	box := findFirst(doc, byAttr("id", "chat-messages"))
	if box == nil {
		return messages, nil
	}

	divs := findAll(box, byTag(atom.Div))
	if len(divs)%3 != 0 {
		return nil, fmt.Errorf("chat has %d parts: %w", len(divs), status.ErrUnexpectedPage)
	}
	for i := 0; i < len(divs); i += 3 {
		at, err := chatTime(text(divs[i+1]), now)
		if err != nil {
			return nil, err
		}
		messages = append(messages, models.ChatMessage{
			Name:      text(divs[i]),
			Message:   text(divs[i+2]),
			Timestamp: at,
		})
	}
	return messages, nil
}

func (p *Parser) parseEntry(block *html.Node, now time.Time) (models.Entry, error) {
	var entry models.Entry

	nameNode := findFirst(block, and(byTag(atom.Div), byClass("name")))
	signup := findFirst(block, and(byTag(atom.Div), byAttr("title", "Signup time")))
	if nameNode == nil || signup == nil {
		return entry, fmt.Errorf("missing name or signup time: %w", status.ErrUnexpectedPage)
	}
	entry.Name = text(nameNode)

	timeIn, err := wallClock(text(signup), now)
	if err != nil {
		return entry, err
	}
	entry.TimeIn = timeIn

	if img := findFirst(block, byTag(atom.Img)); img != nil {
		entry.ImageURL = strings.TrimSpace(attr(img, "src"))
	}
	if idNode := findFirst(block, hasAttr("data-queue_entry_id")); idNode != nil {
		if id := strings.TrimSpace(attr(idNode, "data-queue_entry_id")); id != "" {
			entry.ExternalID = &id
		}
	}

	entry.Questions = parseQuestions(block)

	entry.Status = models.EntryWaiting
	switch {
	case findFirst(block, byClass("in-process-block")) != nil:
		entry.Status = models.EntryInProgress
	case findFirst(block, byClass("served-block")) != nil:
		entry.Status = models.EntryServed
		served := findFirst(block, and(byTag(atom.Div), byAttr("title", "Served time")))
		if served == nil {
			return entry, fmt.Errorf("served entry without served time: %w", status.ErrUnexpectedPage)
		}
		timeOut, err := wallClock(text(served), now)
		if err != nil {
			return entry, err
		}
		entry.TimeOut = &timeOut
	}

	if entry.Status != models.EntryWaiting {
		if server, ok := serverName(block); ok {
			entry.Server = &server
		}
	}
	return entry, nil
}

// parseQuestions reads "<b>Question:</b> Answer" pairs in page order.
func parseQuestions(block *html.Node) []models.Question {
	questions := []models.Question{}
	menu := findFirst(block, and(byTag(atom.Div), byClass("menu-selections")))
	if menu == nil {
		return questions
	}
	for c := menu.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		label := findFirst(c, byTag(atom.B))
		if label == nil {
			continue
		}
		full := text(c)
		prefix := text(label)
		questions = append(questions, models.Question{
			Question: strings.TrimSpace(strings.TrimSuffix(prefix, ":")),
			Answer:   strings.TrimSpace(strings.TrimPrefix(full, prefix)),
		})
	}
	return questions
}

// serverName finds "<b>Server:</b> Name" and returns Name.
func serverName(block *html.Node) (string, bool) {
	label := findFirst(block, func(n *html.Node) bool {
		return n.DataAtom == atom.B && text(n) == "Server:"
	})
	if label == nil {
		return "", false
	}
	var sb strings.Builder
	for s := label.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.TextNode {
			sb.WriteString(s.Data)
			break
		}
	}
	name := strings.TrimSpace(sb.String())
	return name, name != ""
}

// wallClock resolves a "3:04 PM" time to the most recent such moment not
// after now, in now's location.
func wallClock(value string, now time.Time) (time.Time, error) {
	clock, err := time.Parse(clockLayout, strings.ToUpper(strings.TrimSpace(value)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return nowify(clock, now).UTC(), nil
}

// nowify places the hour and minute of clock on now's date, or on the day
// before when that would be later than now.
func nowify(clock, now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if clock.Hour() > now.Hour() || (clock.Hour() == now.Hour() && clock.Minute() > now.Minute()) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// chatTime resolves a "Jan 2, 3:04 PM" time to this year, or to last year
// when that would be in the future.
func chatTime(value string, now time.Time) (time.Time, error) {
	parsed, err := time.Parse(chatLayout, strings.ToUpper(strings.TrimSpace(value)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse chat time %q: %w", value, err)
	}
	t := time.Date(now.Year(), parsed.Month(), parsed.Day(), parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if t.After(now) {
		t = t.AddDate(-1, 0, 0)
	}
	return t.UTC(), nil
}

type predicate func(*html.Node) bool

func byTag(a atom.Atom) predicate {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.DataAtom == a }
}

func byClass(class string) predicate {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

func byAttr(key, value string) predicate {
	return func(n *html.Node) bool {
		v, ok := lookupAttr(n, key)
		return ok && v == value
	}
}

func hasAttr(key string) predicate {
	return func(n *html.Node) bool {
		_, ok := lookupAttr(n, key)
		return ok
	}
}

func and(preds ...predicate) predicate {
	return func(n *html.Node) bool {
		for _, p := range preds {
			if !p(n) {
				return false
			}
		}
		return true
	}
}

// findAll returns the descendants of root matching pred in document order.
func findAll(root *html.Node, pred predicate) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if pred(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, pred predicate) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if pred(c) {
			return c
		}
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	if n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

// text returns the trimmed text content of n.
func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
