// Package ai drafts LinkedIn posts from GitHub activity through Groq's
// OpenAI-compatible chat completions API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/commitcast/commitcast/backend/internal/models"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	model          = "llama-3.3-70b-versatile"
	temperature    = 0.7
	maxTokens      = 600
)

// Post styles. Standard is the fallback for anything unrecognized.
const (
	StyleStandard          = "standard"
	StyleBuildInPublic     = "build_in_public"
	StyleThoughtLeadership = "thought_leadership"
	StyleJobSearch         = "job_search"
)

var stylePrompts = map[string]string{
	StyleStandard: `Write a standard update about recent coding activity.
Open with a relatable hook, develop one concrete example over a few short
paragraphs, close with what was learned and a question for the network.
Finish with 8-12 relevant hashtags on their own line.
Tone: genuine, enthusiastic but professional.`,

	StyleBuildInPublic: `Write a build-in-public post sharing progress on a project.
Say what is being built and why, name the stack in accessible terms, mention
one struggle or win, and end with what's next plus an invitation to look at
the repo. Include #buildinpublic in the hashtags.
Tone: transparent, excited, maker energy.`,

	StyleThoughtLeadership: `Write a thought leadership post with an opinion about software development.
Open with a bold observation, argue it from recent hands-on experience,
acknowledge the counterpoint, and land on one piece of advice. Close by
asking whether readers agree.
Tone: confident, insightful, discussion-starter.`,

	StyleJobSearch: `Write a post that showcases skills to potential employers without saying so outright.
Describe a recent project, the tech behind it, and the real problem it
solved. Mention collaboration or learning. Close with an invitation to
connect about roles involving this stack.
Tone: professional, capable, results-oriented.`,
}

const promptFrame = `You write LinkedIn posts for a software developer who shares their work as they go.

%s

FORMAT:
- 200-300 words, multiple short paragraphs
- conversational, like talking to peers
- a few emojis where they fit naturally
- no markdown, no code blocks, no bullet points
- the post must read complete, never cut off mid-sentence`

// NormalizeStyle maps arbitrary input to a known style.
func NormalizeStyle(s string) string {
	if _, ok := stylePrompts[s]; ok {
		return s
	}
	return StyleStandard
}

// Styles lists the supported generation styles.
func Styles() []string {
	return []string{StyleStandard, StyleBuildInPublic, StyleThoughtLeadership, StyleJobSearch}
}

// Client calls Groq chat completions. APIKey is the app-level fallback;
// callers pass a per-user key when the user configured one.
type Client struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Limiter *rate.Limiter
	Logger  *log.Logger
}

func NewClient(apiKey string) *Client {
	c := &Client{APIKey: apiKey}
	c.ensureDefaults()
	return c
}

func (c *Client) ensureDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Limiter == nil {
		c.Limiter = rate.NewLimiter(rate.Limit(1), 2)
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// GeneratePost drafts one LinkedIn post for the event in the given style.
// userKey overrides the app-level key when non-empty.
func (c *Client) GeneratePost(ctx context.Context, userKey string, event models.GithubEvent, style string) (string, error) {
	c.ensureDefaults()

	key := strings.TrimSpace(userKey)
	if key == "" {
		key = c.APIKey
	}
	if key == "" {
		return "", fmt.Errorf("no Groq API key configured")
	}

	if err := c.Limiter.Wait(ctx); err != nil {
		return "", err
	}

	style = NormalizeStyle(style)
	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(promptFrame, stylePrompts[style])},
			{Role: "user", Content: userPromptFor(event)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("groq request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read groq response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("groq status=%d body=%s", resp.StatusCode, truncate(string(respBody), 600))
	}

	content := strings.TrimSpace(gjson.GetBytes(respBody, "choices.0.message.content").String())
	if content == "" {
		return "", fmt.Errorf("groq returned an empty completion")
	}
	c.Logger.Printf("[AI] generated style=%s event=%s chars=%d", style, event.Type, len(content))
	return content, nil
}

func userPromptFor(event models.GithubEvent) string {
	switch event.Type {
	case "push":
		return fmt.Sprintf(`Write a LinkedIn post about my recent coding session.
Activity: %s.
Context: %s.
Key takeaway: consistent progress matters, even small commits add up.`, event.Title, event.Description)
	case "pull_request":
		return fmt.Sprintf(`Write a LinkedIn post about a pull request of mine.
Activity: %s.
PR title: %s.
Focus: collaboration, code quality, and shipping features.`, event.Title, event.Description)
	case "new_repo":
		return fmt.Sprintf(`Write a LinkedIn post about a new project I just started.
Repository: %s.
Description: %s.
Excitement: high, the beginning of a new journey.`, event.Repo, event.Description)
	case "release":
		return fmt.Sprintf(`Write a LinkedIn post about a release I shipped.
Activity: %s.
Release notes: %s.
Focus: milestone reached, what the release delivers.`, event.Title, event.Description)
	default:
		topic := event.Title
		if topic == "" {
			topic = "Coding & Development"
		}
		details := event.Description
		if details == "" {
			details = "Sharing an update from my developer journey."
		}
		return fmt.Sprintf(`Write a LinkedIn post about: %s
Details: %s
Context: I want to share this update with my professional network.`, topic, details)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
