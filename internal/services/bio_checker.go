package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// BioLookup tells whether a user's public bio carries the bot tag.
type BioLookup interface {
	HasTag(ctx context.Context, username string) (bool, error)
}

// BioChecker reads the public t.me profile page of a user and looks for the
// bot tag in its description.
type BioChecker struct {
	baseURL    string
	tag        string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBioChecker(baseURL, tag string, timeoutMS int, log *zap.Logger) *BioChecker {
	if baseURL == "" {
		baseURL = "https://t.me"
	}
	return &BioChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		tag:     tag,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		log: log,
	}
}

func (b *BioChecker) Tag() string { return b.tag }

func (b *BioChecker) HasTag(ctx context.Context, username string) (bool, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" || b.tag == "" {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/"+username, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("HTTP %d for %s", resp.StatusCode, username)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return false, err
	}

	bio := strings.TrimSpace(doc.Find(".tgme_page_description").First().Text())
	return ContainsTag(bio, b.tag), nil
}

// ContainsTag matches the tag case-insensitively, the way usernames compare.
func ContainsTag(bio, tag string) bool {
	if tag == "" {
		return false
	}
	return strings.Contains(strings.ToLower(bio), strings.ToLower(tag))
}
