// Package scrape fetches web pages and extracts the image URLs on them,
// guarding every outbound request against internal addresses.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ImageRef is one <img> found on a scraped page, with its src resolved
// against the page URL.
type ImageRef struct {
	SourceURL string
	Alt       string
}

type Scraper struct {
	client        *http.Client
	maxImageBytes int64
}

func NewScraper(client *http.Client, maxImageBytes int64) *Scraper {
	return &Scraper{client: client, maxImageBytes: maxImageBytes}
}

// ScrapePage fetches the page at pageURL and returns the images it
// references, in document order with duplicates removed.
func (s *Scraper) ScrapePage(ctx context.Context, pageURL string) ([]ImageRef, error) {
	if err := ValidateURL(ctx, pageURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	return extractImages(resp.Body, base)
}

// extractImages walks the HTML token stream collecting <img src> values
// resolved against base.
func extractImages(r io.Reader, base *url.URL) ([]ImageRef, error) {
	tokenizer := html.NewTokenizer(r)

	var refs []ImageRef
	seen := make(map[string]bool)

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != io.EOF {
				return nil, fmt.Errorf("parse html: %w", err)
			}
			return refs, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "img" {
				continue
			}
			var src, alt string
			for _, attr := range token.Attr {
				switch attr.Key {
				case "src":
					src = strings.TrimSpace(attr.Val)
				case "alt":
					alt = attr.Val
				}
			}
			if src == "" {
				continue
			}
			resolved, err := base.Parse(src)
			if err != nil {
				continue
			}
			abs := resolved.String()
			if seen[abs] {
				continue
			}
			seen[abs] = true
			refs = append(refs, ImageRef{SourceURL: abs, Alt: alt})
		}
	}
}

// FetchImage downloads a single image, enforcing the URL guard and the
// configured size cap. Returns the bytes and the response content type.
func (s *Scraper) FetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	if err := ValidateURL(ctx, imageURL); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > s.maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d byte limit", s.maxImageBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
