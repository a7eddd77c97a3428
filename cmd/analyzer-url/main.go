// cmd/analyzer-url is a reference analyzer backend for URL objects: it
// fetches the page (optionally rendering JS via chromedp when
// requested), converts the DOM to markdown, and emits one child per
// discovered link, at most maxLinks of them - grounded on the
// teacher's internal/services/crawler package (goquery link
// extraction, html-to-markdown conversion) and internal/services/navexa's
// rate.Limiter / internal/connectors/github's oauth2.StaticTokenSource
// patterns.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/ternarybob/ctxpipe/internal/wireproto"
)

var (
	addr            = flag.String("addr", "127.0.0.1:9104", "Listen address")
	stageDir        = flag.String("stage-dir", "", "Directory to stage rendered children in (defaults to os.TempDir())")
	requestsPerSec  = flag.Float64("requests-per-second", 2, "Outbound fetch rate limit")
	oauthTokenURL   = flag.String("oauth-token-url", "", "OAuth2 client-credentials token URL (optional)")
	oauthClientID   = flag.String("oauth-client-id", "", "OAuth2 client id (optional)")
	oauthClientSecr = flag.String("oauth-client-secret", "", "OAuth2 client secret (optional)")
	maxLinks        = 50
)

func main() {
	flag.Parse()

	logger := arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	})

	dir := *stageDir
	if dir == "" {
		dir = os.TempDir()
	}

	httpClient := http.DefaultClient
	if *oauthTokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     *oauthClientID,
			ClientSecret: *oauthClientSecr,
			TokenURL:     *oauthTokenURL,
		}
		httpClient = cc.Client(context.Background())
	}

	b := &backend{
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(*requestsPerSec), 1),
		httpClient: httpClient,
		stageDir:   dir,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	logger.Info().Str("addr", *addr).Msg("analyzer-url ready")
	if err := wireproto.ListenAndServe(ctx, *addr, logger, b.analyze); err != nil {
		logger.Fatal().Err(err).Msg("analyzer-url stopped")
	}
}

type backend struct {
	logger     arbor.ILogger
	limiter    *rate.Limiter
	httpClient *http.Client
	stageDir   string
}

func (b *backend) analyze(ctx context.Context, req wireproto.BackendRequest) (wireproto.BackendReply, error) {
	targetURL, renderJS := extractURLRequest(req)
	if targetURL == "" {
		return wireproto.BackendReply{Symbols: []string{"URL_INVALID"}}, nil
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return wireproto.BackendReply{}, fmt.Errorf("analyzer-url: rate limit wait: %w", err)
	}

	html, err := b.fetch(ctx, targetURL, renderJS)
	if err != nil {
		b.logger.Warn().Err(err).Str("url", targetURL).Msg("analyzer-url: fetch failed")
		return wireproto.BackendReply{Symbols: []string{"URL_FETCH_FAILED"}}, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return wireproto.BackendReply{Symbols: []string{"URL_PARSE_FAILED"}}, nil
	}

	converter := md.NewConverter(targetURL, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		b.logger.Warn().Err(err).Msg("analyzer-url: markdown conversion failed")
		markdown = doc.Text()
	}

	var children []wireproto.BackendChild
	if path, err := b.stageText(markdown); err == nil {
		children = append(children, wireproto.BackendChild{
			Path:             path,
			ForcedType:       "TEXT",
			Symbols:          []string{"URL_MARKDOWN"},
			RelationMetadata: map[string]any{"source_url": targetURL},
		})
	}

	for _, link := range extractLinks(doc, targetURL) {
		children = append(children, wireproto.BackendChild{
			ForcedType:       "URL",
			RelationMetadata: map[string]any{"link": link, "source_url": targetURL},
		})
	}

	return wireproto.BackendReply{
		Symbols:        []string{"URL_FETCHED"},
		ObjectMetadata: map[string]any{"rendered_js": renderJS, "link_count": len(children) - 1},
		Children:       children,
	}, nil
}

// extractURLRequest pulls the target URL out of the job's object and
// whether _global.render_js was set in its relation metadata.
func extractURLRequest(req wireproto.BackendRequest) (targetURL string, renderJS bool) {
	if obj, ok := req.Object.(map[string]any); ok {
		if u, ok := obj["url"].(string); ok {
			targetURL = u
		}
	}
	if rel, ok := req.RelationMetadata.(map[string]any); ok {
		if g, ok := rel["_global"].(map[string]any); ok {
			if v, ok := g["render_js"].(bool); ok {
				renderJS = v
			}
		}
	}
	return targetURL, renderJS
}

func (b *backend) fetch(ctx context.Context, targetURL string, renderJS bool) (string, error) {
	if !renderJS {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}
		resp, err := b.httpClient.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("get: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		return string(body), nil
	}

	browserCtx, cancel := chromedp.NewContext(ctx)
	defer cancel()
	runCtx, runCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer runCancel()

	var html string
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(targetURL),
		chromedp.OuterHTML("html", &html),
	); err != nil {
		return "", fmt.Errorf("chromedp render: %w", err)
	}
	return html, nil
}

func extractLinks(doc *goquery.Document, sourceURL string) []string {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil
	}
	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if len(links) >= maxLinks {
			return
		}
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref).String()
		if !strings.HasPrefix(resolved, "http") || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
	})
	return links
}

func (b *backend) stageText(text string) (string, error) {
	out, err := os.CreateTemp(b.stageDir, "ctx-url-markdown-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer out.Close()
	if _, err := out.WriteString(text); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("write markdown: %w", err)
	}
	return out.Name(), nil
}
