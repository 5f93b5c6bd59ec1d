package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthq/internal/model"
	"healthq/internal/pkg/pdfextract"
)

// PageExtractor turns raw PDF bytes into per-page text.
type PageExtractor func(r io.Reader) ([]string, error)

type Options struct {
	TempDir         string
	RetainTempFiles bool
	FetchTimeout    time.Duration
	HTTPClient      *http.Client
	Extract         PageExtractor
}

// Loader turns document references into page records. Remote and in-memory
// documents are spooled to a temporary .pdf file first; whether that file is
// removed afterwards is governed by Options.RetainTempFiles.
type Loader struct {
	tempDir    string
	retain     bool
	httpClient *http.Client
	extract    PageExtractor
	log        *zap.Logger
}

func New(opts Options, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.FetchTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	extract := opts.Extract
	if extract == nil {
		extract = pdfextract.ExtractPages
	}
	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Loader{
		tempDir:    tempDir,
		retain:     opts.RetainTempFiles,
		httpClient: client,
		extract:    extract,
		log:        log,
	}
}

// Load returns the pages of every ref, in input order then page order. The
// first failing ref aborts the whole batch.
func (l *Loader) Load(ctx context.Context, refs []model.DocumentRef) ([]model.PageRecord, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no documents", model.ErrInvalidInput)
	}
	var pages []model.PageRecord
	for _, ref := range refs {
		docPages, err := l.loadOne(ctx, ref)
		if err != nil {
			return nil, err
		}
		pages = append(pages, docPages...)
	}
	return pages, nil
}

// Fetch downloads rawURL into a DocumentRef blob. Unreachable sources and
// non-200 responses are reported as ErrDocumentFetch.
func (l *Loader) Fetch(ctx context.Context, rawURL string) (model.DocumentRef, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return model.DocumentRef{}, fmt.Errorf("%w: build request: %w", model.ErrDocumentFetch, err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return model.DocumentRef{}, fmt.Errorf("%w: %w", model.ErrDocumentFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.DocumentRef{}, fmt.Errorf("%w: status %d", model.ErrDocumentFetch, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.DocumentRef{}, fmt.Errorf("%w: read body: %w", model.ErrDocumentFetch, err)
	}

	l.log.Info("document downloaded",
		zap.String("url", rawURL),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return model.DocumentRef{URL: rawURL, Name: nameFromURL(rawURL), Content: body}, nil
}

func (l *Loader) loadOne(ctx context.Context, ref model.DocumentRef) ([]model.PageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := ref.DisplayName()
	if ref.Name == "" && ref.Path == "" && ref.URL != "" {
		name = nameFromURL(ref.URL)
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return nil, fmt.Errorf("%w: %s is not a pdf", model.ErrDocumentParse, name)
	}

	filePath := ref.Path
	if filePath == "" {
		if ref.URL != "" && ref.Content == nil {
			fetched, err := l.Fetch(ctx, ref.URL)
			if err != nil {
				return nil, err
			}
			ref.Content = fetched.Content
		}
		spooled, err := l.spool(ref.Content)
		if err != nil {
			return nil, err
		}
		filePath = spooled
		if !l.retain {
			defer func() {
				if err := os.Remove(spooled); err != nil {
					l.log.Warn("remove temp file failed", zap.String("path", spooled), zap.Error(err))
				}
			}()
		}
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", model.ErrDocumentParse, name, err)
	}
	texts, err := l.extract(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrDocumentParse, name, err)
	}

	docID := uuid.NewString()
	pages := make([]model.PageRecord, len(texts))
	for i, text := range texts {
		pages[i] = model.PageRecord{
			DocumentID: docID,
			Source:     name,
			PageIndex:  i,
			Text:       text,
		}
	}
	l.log.Debug("document loaded", zap.String("source", name), zap.Int("pages", len(pages)))
	return pages, nil
}

func (l *Loader) spool(content []byte) (string, error) {
	tmp, err := os.CreateTemp(l.tempDir, "healthq-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file failed: %w", err)
	}
	defer tmp.Close()
	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("write temp file failed: %w", err)
	}
	return tmp.Name(), nil
}

// nameFromURL keeps the last path segment and ignores the query, so that
// signed blob URLs still resolve to "policy.pdf".
func nameFromURL(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" || base == "" {
		return "document.pdf"
	}
	if filepath.Ext(base) == "" {
		return base + ".pdf"
	}
	return base
}
