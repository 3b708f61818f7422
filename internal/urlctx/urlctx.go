// Package urlctx turns URLs found in a prompt into plain-text context.
package urlctx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"github.com/jaytaylor/html2text"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/starford/tiwaz/internal/apperr"
)

// MaxChars caps the text kept from one URL.
const MaxChars = 5000

const (
	headTimeout = 5 * time.Second
	htmlTimeout = 10 * time.Second
	pdfTimeout  = 20 * time.Second

	maxBodyBytes = 20 << 20
)

// Fetcher downloads URLs and extracts their visible text.
type Fetcher struct {
	client    *http.Client
	blacklist []string
}

// ParseBlacklist splits a newline-separated blacklist, dropping blank lines.
func ParseBlacklist(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// New creates a fetcher. A nil client uses http.DefaultClient; per-request
// timeouts are applied through the request context.
func New(client *http.Client, blacklist []string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, blacklist: blacklist}
}

// Blacklisted reports whether u contains any blacklist entry.
func (f *Fetcher) Blacklisted(u string) bool {
	for _, b := range f.blacklist {
		if strings.Contains(u, b) {
			return true
		}
	}
	return false
}

// Fetch builds the context block for urls in order. Blacklisted URLs are
// annotated and skipped. Any other URL that cannot be fetched or parsed
// aborts the whole call with an error naming it.
func (f *Fetcher) Fetch(ctx context.Context, urls []string) (string, error) {
	var b strings.Builder
	for _, u := range urls {
		if f.Blacklisted(u) {
			fmt.Fprintf(&b, "(System: The URL '%s' was skipped because it is on the blacklist.)\n\n", u)
			continue
		}
		contentType, err := f.headType(ctx, u)
		if err != nil {
			return "", apperr.User(fmt.Sprintf("Could not access URL: %s", u), err)
		}

		var text string
		if strings.Contains(contentType, "application/pdf") {
			text, err = f.pdfText(ctx, u)
		} else {
			text, err = f.htmlText(ctx, u)
		}
		if err != nil {
			slog.WarnContext(ctx, "url fetch failed", slog.String("url", u), slog.String("error", err.Error()))
			return "", apperr.User(fmt.Sprintf("Failed to retrieve or parse content from URL: %s", u), err)
		}
		fmt.Fprintf(&b, "Content from URL '%s':\n%s\n\n", u, Truncate(text, MaxChars))
	}
	return b.String(), nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func (f *Fetcher) headType(ctx context.Context, u string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrTransientProvider, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("urlctx: HEAD %s: status %d", u, resp.StatusCode)
	}
	return resp.Header.Get("Content-Type"), nil
}

func (f *Fetcher) get(ctx context.Context, u string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperr.ErrTransientProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("urlctx: GET %s: status %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("urlctx: read %s: %w", u, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (f *Fetcher) htmlText(ctx context.Context, u string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, htmlTimeout)
	defer cancel()
	body, contentType, err := f.get(ctx, u)
	if err != nil {
		return "", err
	}
	text, err := html2text.FromString(string(toUTF8(body, contentType)), html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		return "", fmt.Errorf("urlctx: extract html: %w", err)
	}
	return strings.Join(strings.Fields(text), " "), nil
}

func (f *Fetcher) pdfText(ctx context.Context, u string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()
	body, _, err := f.get(ctx, u)
	if err != nil {
		return "", err
	}
	return PDFText(body)
}

// PDFText concatenates the plain text of every page in a PDF document.
func PDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("urlctx: open pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("urlctx: pdf page %d: %w", i, err)
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// toUTF8 converts body to UTF-8 using the declared charset, or a detected one
// when none is declared. Undecodable input is returned unchanged.
func toUTF8(body []byte, contentType string) []byte {
	charset := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		charset = params["charset"]
	}
	if charset == "" {
		if utf8.Valid(body) {
			return body
		}
		res, err := chardet.NewTextDetector().DetectBest(body)
		if err != nil {
			return body
		}
		charset = res.Charset
	}
	if strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return body
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return body
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}
