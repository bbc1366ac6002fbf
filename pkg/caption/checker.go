// Package caption checks that an uploaded photo plausibly shows what the
// description says, using a hosted image captioning model. The check never
// blocks a submission on its own failure: any problem approves.
package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://api-inference.huggingface.co/models/Salesforce/blip-image-captioning-large"
	DefaultTimeout  = 12 * time.Second

	// MismatchReason is shown when the photo and description share no keywords.
	MismatchReason = "The image may not match the description provided."

	minTokenLen   = 4
	minDescTokens = 4
	maxBody       = 1 << 20
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "with": {}, "from": {}, "near": {}, "very": {}, "this": {},
	"that": {}, "there": {}, "issue": {}, "problem": {}, "please": {}, "help": {},
	"have": {}, "been": {}, "area": {}, "city": {}, "road": {}, "street": {},
	"local": {}, "nearby": {},
}

type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

var approved = Result{OK: true}

type Checker struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewChecker creates a checker. With an empty apiKey every check approves
// without a network call.
func NewChecker(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *Checker {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.With("adapter", "caption"),
	}
}

func (c *Checker) Enabled() bool { return c != nil && c.apiKey != "" }

// Check captions image and compares the caption with description.
func (c *Checker) Check(ctx context.Context, image []byte, description string) Result {
	if !c.Enabled() || len(image) == 0 {
		return approved
	}

	text, err := c.caption(ctx, image)
	if err != nil {
		c.log.WarnContext(ctx, "caption check skipped", slog.String("error", err.Error()))
		return approved
	}
	if text == "" {
		return approved
	}
	return Compare(description, text)
}

// Compare rejects only when the description has enough keywords and none
// of them appear in the caption.
func Compare(description, caption string) Result {
	desc := tokens(description, true)
	if len(desc) < minDescTokens {
		return approved
	}
	capSet := make(map[string]struct{})
	for _, t := range tokens(caption, false) {
		capSet[t] = struct{}{}
	}
	for _, t := range desc {
		if _, ok := capSet[t]; ok {
			return approved
		}
	}
	return Result{OK: false, Reason: MismatchReason}
}

// tokens lower-cases s, splits on anything that is not a-z or 0-9 and
// keeps distinct words of at least four characters.
func tokens(s string, dropStopwords bool) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < minTokenLen {
			continue
		}
		if _, stop := stopwords[f]; stop && dropStopwords {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

type generated struct {
	GeneratedText string `json:"generated_text"`
}

func (c *Checker) caption(ctx context.Context, image []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("caption: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("caption: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("caption: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("caption: read body: %w", err)
	}
	var out []generated
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("caption: decode json: %w", err)
	}
	if len(out) == 0 {
		return "", nil
	}
	return strings.ToLower(out[0].GeneratedText), nil
}
