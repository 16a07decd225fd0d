package tools

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"

	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
	"github.com/zhy0216/toolbox/pkg/util"
)

const webUserAgent = "Mozilla/5.0 (compatible; toolbox/1.0)"

// WebTool fetches a page and returns its readable text.
type WebTool struct {
	client *http.Client
	policy *bluemonday.Policy
}

// NewWebTool creates a WebTool. A nil client gets a 30 second timeout.
func NewWebTool(client *http.Client) *WebTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	policy := bluemonday.StrictPolicy()
	policy.AddSpaceWhenStrippingTag(true)
	return &WebTool{client: client, policy: policy}
}

func (t *WebTool) Name() string { return "web" }

func (t *WebTool) Kind() types.Kind { return types.KindFunction }

func (t *WebTool) Description() string {
	return "Fetch a web page and return its text content. Can extract a specific element with a simple selector (tag, #id, .class)."
}

func (t *WebTool) Schema() schema.Schema {
	return schema.New(
		schema.Param{Name: "url", Type: schema.String, Required: true,
			Description: "The URL to visit (e.g., 'https://example.com' or just 'example.com')"},
		schema.Param{Name: "selector", Type: schema.String,
			Description: "Optional selector to extract specific content (e.g., 'main', '#content', 'div.article')"},
		schema.Param{Name: "max_length", Type: schema.Integer, Default: types.WebMaxOutput,
			Description: fmt.Sprintf("Maximum number of characters to return (default: %d)", types.WebMaxOutput)},
	)
}

func (t *WebTool) Execute(ctx context.Context, args map[string]any) *types.ToolResult {
	url, err := util.ExtractString(args, "url")
	if err != nil {
		return types.ErrorResult(err.Error())
	}
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	selector := util.ExtractOptionalString(args, "selector", "")
	maxLen := util.ExtractInt(args, "max_length", types.WebMaxOutput)
	if maxLen <= 0 {
		maxLen = types.WebMaxOutput
	}

	body, contentType, err := t.fetch(ctx, url)
	if err != nil {
		return types.ErrorResult(fmt.Sprintf("Error accessing %s: %v", url, err))
	}

	var text string
	if strings.Contains(contentType, "html") || (contentType == "" && looksLikeHTML(body)) {
		text, err = t.extract(body, selector)
		if err != nil {
			return types.ErrorResult(fmt.Sprintf("Error accessing %s: %v", url, err))
		}
	} else {
		if selector != "" {
			return types.ErrorResult(fmt.Sprintf("selector is only supported for HTML pages, got %s", contentType))
		}
		text = string(body)
	}

	text = util.CollapseWhitespace(text)
	if text == "" {
		return types.NewToolResult("(page has no text content)")
	}
	return types.NewToolResult(util.TruncateOutput(text, maxLen))
}

func (t *WebTool) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("HTTP error %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, types.WebMaxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// extract returns the text of the selected element, or of the whole
// document when selector is empty.
func (t *WebTool) extract(body []byte, selector string) (string, error) {
	if selector == "" {
		return html.UnescapeString(string(t.policy.SanitizeBytes(bytesWithBreaks(body)))), nil
	}

	doc, err := xhtml.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	node := findNode(doc, parseSelector(selector))
	if node == nil {
		return "", fmt.Errorf("selector '%s' not found on page", selector)
	}
	var buf bytes.Buffer
	if err := xhtml.Render(&buf, node); err != nil {
		return "", fmt.Errorf("failed to render element: %w", err)
	}
	return html.UnescapeString(string(t.policy.SanitizeBytes(bytesWithBreaks(buf.Bytes())))), nil
}

// bytesWithBreaks puts a newline before block-level closing tags so
// paragraphs stay on separate lines once tags are stripped.
func bytesWithBreaks(body []byte) []byte {
	r := strings.NewReplacer(
		"</p>", "\n</p>", "</div>", "\n</div>", "</li>", "\n</li>", "</tr>", "\n</tr>",
		"</h1>", "\n</h1>", "</h2>", "\n</h2>", "</h3>", "\n</h3>", "</h4>", "\n</h4>",
		"<br>", "\n<br>", "<br/>", "\n<br/>", "<br />", "\n<br />",
	)
	return []byte(r.Replace(string(body)))
}

type simpleSelector struct {
	tag, id, class string
}

// parseSelector understands tag, #id, .class, tag#id and tag.class.
func parseSelector(sel string) simpleSelector {
	sel = strings.TrimSpace(sel)
	var s simpleSelector
	if i := strings.IndexAny(sel, "#."); i >= 0 {
		s.tag = sel[:i]
		if sel[i] == '#' {
			s.id = sel[i+1:]
		} else {
			s.class = sel[i+1:]
		}
		return s
	}
	s.tag = sel
	return s
}

func (s simpleSelector) matches(n *xhtml.Node) bool {
	if n.Type != xhtml.ElementNode {
		return false
	}
	if s.tag != "" && !strings.EqualFold(n.Data, s.tag) {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func findNode(n *xhtml.Node, sel simpleSelector) *xhtml.Node {
	if sel.matches(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, sel); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}
