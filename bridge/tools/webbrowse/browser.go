// Package webbrowse drives a disposable headless-Chrome session over the
// W3C WebDriver wire protocol: one chromedriver container per objective,
// launched through sandbox.Runner.LaunchService, torn down when the
// objective concludes.
package webbrowse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/StarfleetAI/bridge-common/internal/sandbox"
)

// ElementType classifies one viewport element for the LLM's benefit.
type ElementType string

const (
	ElementText   ElementType = "text"
	ElementLink   ElementType = "link"
	ElementButton ElementType = "button"
	ElementInput  ElementType = "input"
)

// Element is one interactive or textual node the page script found within
// the current viewport, tagged with a data-sfai attribute matching ID so
// later tool calls can address it.
type Element struct {
	ID      int64       `json:"id"`
	Type    ElementType `json:"type"`
	Content *string     `json:"content"`
}

// Browser owns one WebDriver session against a chromedriver container
// started for it. Close tears down both the session and the container.
type Browser struct {
	http      *http.Client
	baseURL   string
	sessionID string
	runner    *sandbox.Runner
	service   *sandbox.ServiceHandle
}

// Connect launches a chromedriver container from imageRef, exposing
// containerPort, waits for Docker to bind that port to a host port, and
// opens a headless session sized to a common desktop viewport. The session
// request is sent once; it is not retried if WebDriver is not yet answering.
func Connect(ctx context.Context, runner *sandbox.Runner, imageRef, containerPort string) (*Browser, error) {
	service, err := runner.LaunchService(ctx, imageRef, []string{containerPort})
	if err != nil {
		return nil, fmt.Errorf("webbrowse: launch chromedriver container: %w", err)
	}

	hostPort, ok := service.HostPortFor(containerPort)
	if !ok {
		_ = runner.Kill(ctx, service)
		return nil, fmt.Errorf("webbrowse: chromedriver port %s not bound", containerPort)
	}

	b := &Browser{
		http:    &http.Client{},
		baseURL: "http://localhost:" + hostPort,
		runner:  runner,
		service: service,
	}

	caps := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{
				"browserName": "chrome",
				"goog:chromeOptions": map[string]any{
					"args": []string{"--headless", "--disable-gpu", "--no-sandbox", "--disable-dev-shm-usage"},
				},
			},
		},
	}
	var sessResp struct {
		Value struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	if err := b.do(ctx, http.MethodPost, "/session", caps, &sessResp); err != nil {
		_ = runner.Kill(ctx, service)
		return nil, fmt.Errorf("webbrowse: create webdriver session: %w", err)
	}
	b.sessionID = sessResp.Value.SessionID

	if err := b.do(ctx, http.MethodPost, b.sessionPath("/window/rect"), map[string]int{"width": 1920, "height": 1080}, nil); err != nil {
		_ = b.Close(ctx)
		return nil, fmt.Errorf("webbrowse: set window size: %w", err)
	}

	return b, nil
}

// Close deletes the WebDriver session and kills its chromedriver
// container. Best-effort: a session already gone is not an error.
func (b *Browser) Close(ctx context.Context) error {
	if b.sessionID != "" {
		_ = b.do(ctx, http.MethodDelete, b.sessionPath(""), nil, nil)
	}
	return b.runner.Kill(ctx, b.service)
}

// Goto navigates the session to url.
func (b *Browser) Goto(ctx context.Context, url string) error {
	return b.do(ctx, http.MethodPost, b.sessionPath("/url"), map[string]string{"url": url}, nil)
}

// CurrentURL returns the page currently loaded in the session.
func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	var resp struct {
		Value string `json:"value"`
	}
	if err := b.do(ctx, http.MethodGet, b.sessionPath("/url"), nil, &resp); err != nil {
		return "", err
	}
	return resp.Value, nil
}

// ListViewportElements runs the element-enumeration script against the
// current page and returns every element it found within the viewport.
func (b *Browser) ListViewportElements(ctx context.Context) ([]Element, error) {
	raw, err := b.execute(ctx, listViewportElementsScript)
	if err != nil {
		return nil, fmt.Errorf("webbrowse: list viewport elements: %w", err)
	}
	var elements []Element
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, fmt.Errorf("webbrowse: parse viewport elements: %w", err)
	}
	return elements, nil
}

// ScrollDown scrolls the page down by one viewport height.
func (b *Browser) ScrollDown(ctx context.Context) error {
	_, err := b.execute(ctx, "window.scrollBy(0, window.innerHeight);")
	return err
}

// ScrollPosition returns how far down the page the viewport has scrolled,
// as a percentage rounded up to the nearest whole number.
func (b *Browser) ScrollPosition(ctx context.Context) (int64, error) {
	raw, err := b.execute(ctx, scrollPositionScript)
	if err != nil {
		return 0, fmt.Errorf("webbrowse: get scroll position: %w", err)
	}
	var pct float64
	if err := json.Unmarshal(raw, &pct); err != nil {
		return 0, fmt.Errorf("webbrowse: parse scroll position: %w", err)
	}
	return int64(math.Ceil(pct)), nil
}

// Click clicks the element tagged data-sfai=id.
func (b *Browser) Click(ctx context.Context, id int64) error {
	script := fmt.Sprintf(`document.querySelector('[data-sfai="%d"]').click();`, id)
	_, err := b.execute(ctx, script)
	return err
}

// SendKeys types text into the element tagged data-sfai=id.
func (b *Browser) SendKeys(ctx context.Context, id int64, text string) error {
	selector := fmt.Sprintf(`[data-sfai="%d"]`, id)
	elementID, err := b.findElement(ctx, selector)
	if err != nil {
		return err
	}
	return b.do(ctx, http.MethodPost, b.sessionPath("/element/"+elementID+"/value"), map[string]string{"text": text}, nil)
}

func (b *Browser) findElement(ctx context.Context, selector string) (string, error) {
	var resp struct {
		Value map[string]string `json:"value"`
	}
	if err := b.do(ctx, http.MethodPost, b.sessionPath("/element"), map[string]string{"using": "css selector", "value": selector}, &resp); err != nil {
		return "", fmt.Errorf("webbrowse: find element %q: %w", selector, err)
	}
	for _, id := range resp.Value {
		return id, nil
	}
	return "", fmt.Errorf("webbrowse: element %q not found", selector)
}

func (b *Browser) execute(ctx context.Context, script string) (json.RawMessage, error) {
	var resp struct {
		Value json.RawMessage `json:"value"`
	}
	err := b.do(ctx, http.MethodPost, b.sessionPath("/execute/sync"), map[string]any{
		"script": script,
		"args":   []any{},
	}, &resp)
	return resp.Value, err
}

func (b *Browser) sessionPath(suffix string) string {
	return "/session/" + b.sessionID + suffix
}

func (b *Browser) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("webdriver request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read webdriver response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webdriver %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode webdriver response: %w", err)
		}
	}
	return nil
}

// listViewportElementsScript tags every candidate element currently inside
// the viewport with a data-sfai index and returns {id, type, content} for
// each. Invented: the original's equivalent is rendered from a .js
// template file not present in the retrieved source tree.
const listViewportElementsScript = `
const results = [];
let counter = 0;
const viewportHeight = window.innerHeight;
const candidates = document.querySelectorAll(
  'a, button, input, textarea, select, [role="button"], p, h1, h2, h3, h4, li, label'
);
for (const el of candidates) {
  const rect = el.getBoundingClientRect();
  if (rect.width === 0 || rect.height === 0) continue;
  if (rect.bottom < 0 || rect.top > viewportHeight) continue;

  let type = 'text';
  const tag = el.tagName;
  if (tag === 'A') {
    type = 'link';
  } else if (tag === 'BUTTON' || el.getAttribute('role') === 'button' ||
      (tag === 'INPUT' && (el.type === 'submit' || el.type === 'button'))) {
    type = 'button';
  } else if (tag === 'INPUT' || tag === 'TEXTAREA' || tag === 'SELECT') {
    type = 'input';
  }

  const id = counter++;
  el.setAttribute('data-sfai', String(id));
  const text = (el.innerText || el.value || el.getAttribute('placeholder') || '').trim();
  const content = text ? text.slice(0, 200) : null;
  results.push({ id: id, type: type, content: content });
}
return results;
`

// scrollPositionScript returns how far the page has scrolled as a 0-100
// percentage of its scrollable height.
const scrollPositionScript = `
const scrollable = document.body.scrollHeight - window.innerHeight;
if (scrollable <= 0) return 0;
return (window.scrollY / scrollable) * 100;
`
