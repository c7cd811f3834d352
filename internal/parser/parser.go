// Package parser extracts roster records from Enkord profile pages.
package parser

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
)

// Profile parses account pages with goquery.
type Profile struct {
	// Rich also harvests the per-game account listing.
	Rich bool
}

// New returns a profile parser.
func New(rich bool) *Profile {
	return &Profile{Rich: rich}
}

// Parse extracts the record for id. It returns false when the page has no
// account block or the block carries no display name. Missing secondary
// fields are left empty.
func (p *Profile) Parse(body []byte, id uint64) (crawler.Record, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Record{}, false
	}
	info := doc.Find("div.account-info").First()
	if info.Length() == 0 {
		return crawler.Record{}, false
	}
	name := strings.TrimSpace(info.Find("b").First().Text())
	if name == "" {
		return crawler.Record{}, false
	}
	rec := crawler.Record{ID: id, DisplayName: name}
	if title, ok := info.Find("span[title]").First().Attr("title"); ok {
		rec.Registered = strings.TrimSpace(title)
	}
	if p.Rich {
		rec.Games = parseGames(info)
	}
	return rec, true
}

func parseGames(info *goquery.Selection) []crawler.GameAccounts {
	list := info.Find("div.text-box ul").First()
	if list.Length() == 0 {
		return nil
	}
	var games []crawler.GameAccounts
	list.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		game := strings.TrimSpace(li.Find("b").First().Text())
		if game == "" {
			return
		}
		entry := crawler.GameAccounts{Game: game, Accounts: []string{}}
		// The first nested item repeats the game heading.
		li.Find("li").Each(func(i int, acc *goquery.Selection) {
			if i == 0 {
				return
			}
			if text := strings.TrimSpace(acc.Text()); text != "" {
				entry.Accounts = append(entry.Accounts, text)
			}
		})
		games = append(games, entry)
	})
	return games
}
