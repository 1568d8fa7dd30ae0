package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

var issuerLinkPattern = regexp.MustCompile(`(?i)emidocs\.aspx\?id=(\d+)`)

// FetchIssuePage downloads the public HTML page of one listing.
func (c *Client) FetchIssuePage(ctx context.Context, boardID, secid string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/ru/issue.aspx?board=%s&code=%s", c.siteURL, url.QueryEscape(boardID), url.QueryEscape(secid))

	page, err := c.get(ctx, endpoint, "text/html")
	if err != nil {
		return nil, fmt.Errorf("fetch issue page %s/%s: %w", boardID, secid, err)
	}
	return page, nil
}

// ExtractIssuerID finds the numeric issuer id behind an emidocs.aspx link.
// Anchor hrefs are checked first; the raw markup is scanned as a fallback
// because the link sometimes sits inside inline scripts.
func ExtractIssuerID(page []byte) (string, bool) {
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page)); err == nil {
		var id string
		doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			if m := issuerLinkPattern.FindStringSubmatch(href); m != nil {
				id = m[1]
				return false
			}
			return true
		})
		if id != "" {
			return id, true
		}
	}

	if m := issuerLinkPattern.FindSubmatch(page); m != nil {
		return string(m[1]), true
	}
	return "", false
}
