package agent

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"botward/internal/llm"
	"botward/internal/permission"
)

// Builtins returns the default tool set. workDir roots the filesystem tools;
// completer powers the summarize tool.
func Builtins(workDir string, completer llm.Completer) []Tool {
	client := &http.Client{Timeout: 10 * time.Second}
	return []Tool{
		&FetchTool{Client: client},
		&RSSTool{Client: client},
		&SummarizeTool{Completer: completer},
		&FileWriteTool{Root: workDir},
		&FileDeleteTool{Root: workDir},
	}
}

// FetchTool retrieves one web page. The first http(s) URL found in the input
// is fetched; the body is returned truncated.
type FetchTool struct {
	Client *http.Client
}

func (t *FetchTool) Key() string                { return "web_fetch" }
func (t *FetchTool) Permission() permission.Key { return permission.KeyWebFetch }
func (t *FetchTool) Critical() bool             { return false }
func (t *FetchTool) Cancellable() bool          { return true }

func (t *FetchTool) Invoke(ctx context.Context, input string) (Result, error) {
	url := firstURL(input)
	if url == "" {
		return Result{}, errors.New("no url in input")
	}
	body, err := t.get(ctx, url)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: body, Rationale: "fetched " + url}, nil
}

func (t *FetchTool) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// RSSTool fetches an RSS feed and returns its item titles.
type RSSTool struct {
	Client *http.Client
}

func (t *RSSTool) Key() string                { return "web_rss" }
func (t *RSSTool) Permission() permission.Key { return permission.KeyWebRSS }
func (t *RSSTool) Critical() bool             { return false }
func (t *RSSTool) Cancellable() bool          { return true }

type rssFeed struct {
	Channel struct {
		Items []struct {
			Title string `xml:"title"`
		} `xml:"item"`
	} `xml:"channel"`
}

func (t *RSSTool) Invoke(ctx context.Context, input string) (Result, error) {
	url := firstURL(input)
	if url == "" {
		return Result{}, errors.New("no feed url in input")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("feed %s: status %d", url, resp.StatusCode)
	}
	var feed rssFeed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 256<<10)).Decode(&feed); err != nil {
		return Result{}, fmt.Errorf("parse feed: %w", err)
	}
	titles := make([]string, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		titles = append(titles, item.Title)
	}
	return Result{Output: strings.Join(titles, "\n"), Rationale: fmt.Sprintf("read %d items from %s", len(titles), url)}, nil
}

// SummarizeTool sends text to the reasoning collaborator.
type SummarizeTool struct {
	Completer llm.Completer
}

func (t *SummarizeTool) Key() string                { return "llm_summarize" }
func (t *SummarizeTool) Permission() permission.Key { return permission.KeyLLMUse }
func (t *SummarizeTool) Critical() bool             { return false }

func (t *SummarizeTool) Invoke(ctx context.Context, input string) (Result, error) {
	if t.Completer == nil {
		return Result{}, errors.New("no completer configured")
	}
	out, err := t.Completer.Complete(ctx, "Summarize concisely:\n"+input, 512)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: out}, nil
}

// FileWriteTool writes a file under its root. Input is "path\ncontent".
type FileWriteTool struct {
	Root string
}

func (t *FileWriteTool) Key() string                { return "fs_write" }
func (t *FileWriteTool) Permission() permission.Key { return permission.KeyFSWrite }
func (t *FileWriteTool) Critical() bool             { return true }

func (t *FileWriteTool) Invoke(ctx context.Context, input string) (Result, error) {
	path, content, _ := strings.Cut(input, "\n")
	full, err := resolveUnder(t.Root, path)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Result{}, err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return Result{}, err
	}
	return Result{Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

// FileDeleteTool removes a file under its root. High risk; disabled by
// default policy.
type FileDeleteTool struct {
	Root string
}

func (t *FileDeleteTool) Key() string                { return "fs_delete" }
func (t *FileDeleteTool) Permission() permission.Key { return permission.KeyFSDelete }
func (t *FileDeleteTool) Critical() bool             { return true }

func (t *FileDeleteTool) Invoke(ctx context.Context, input string) (Result, error) {
	path := strings.TrimSpace(strings.SplitN(input, "\n", 2)[0])
	full, err := resolveUnder(t.Root, path)
	if err != nil {
		return Result{}, err
	}
	if err := os.Remove(full); err != nil {
		return Result{}, err
	}
	return Result{Output: "deleted " + path}, nil
}

// resolveUnder joins path to root and rejects escapes.
func resolveUnder(root, path string) (string, error) {
	path = strings.TrimSpace(path)
	if root == "" {
		return "", errors.New("no working directory configured")
	}
	if path == "" {
		return "", errors.New("path required")
	}
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes working directory", path)
	}
	return filepath.Join(root, clean), nil
}

// firstURL scans free text for the first http(s) URL.
func firstURL(s string) string {
	for _, field := range strings.Fields(s) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return strings.TrimRight(field, ".,;)")
		}
	}
	return ""
}
