package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/lnfetch/models"
)

func main() {
	apiURL := os.Getenv("LNFETCH_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("LNFETCH_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "LNFETCH_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"lnfetch",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	fetchChapterTool := mcp.NewTool("fetch_chapter",
		mcp.WithDescription("Fetch one chapter page and return its body. Anti-bot challenges are solved automatically, so a first call may take a minute."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The chapter URL"),
		),
		mcp.WithString("output_format",
			mcp.Description("Output format: 'markdown' (default), 'text' or 'html'"),
			mcp.Enum("markdown", "text", "html"),
		),
	)
	s.AddTool(fetchChapterTool, handleFetchChapter(apiURL, apiKey))

	fetchNovelTool := mcp.NewTool("fetch_novel",
		mcp.WithDescription("Build the full chapter listing of a novel, walking every listing page. Optionally downloads every chapter body."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The novel info page URL"),
		),
		mcp.WithBoolean("download",
			mcp.Description("Also download every chapter body (default: false)"),
		),
		mcp.WithString("output_format",
			mcp.Description("Chapter body format when downloading: 'markdown' (default), 'text' or 'html'"),
			mcp.Enum("markdown", "text", "html"),
		),
	)
	s.AddTool(fetchNovelTool, handleFetchNovel(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the lnfetch API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJobCompletion polls a job endpoint until status is no longer "processing" or context is cancelled.
func pollJobCompletion(ctx context.Context, client *http.Client, apiURL, apiKey, endpoint string) ([]byte, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("create poll request: %w", err)
			}
			req.Header.Set("X-API-Key", apiKey)

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}

			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read poll response: %w", err)
			}

			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}
			if status.Status != "processing" {
				return body, nil
			}
		}
	}
}

func errorText(d *models.ErrorDetail, fallback string) string {
	if d == nil {
		return fallback
	}
	return fmt.Sprintf("[%s] %s", d.Code, d.Message)
}

func handleFetchChapter(apiURL, apiKey string) server.ToolHandlerFunc {
	// Long enough for a challenge solve plus a rotation.
	client := &http.Client{Timeout: 15 * time.Minute}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/chapter", models.ChapterRequest{
			URL:          url,
			OutputFormat: request.GetString("output_format", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("chapter request failed: %v", err)), nil
		}

		var resp models.ChapterResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(errorText(resp.Error, "chapter fetch failed")), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Title: %s\nSource: %s\n\n%s", resp.Title, resp.FinalURL, resp.Content)), nil
	}
}

func handleFetchNovel(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 60 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/novel", models.NovelRequest{
			URL:          url,
			Download:     request.GetBool("download", false),
			OutputFormat: request.GetString("output_format", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("novel request failed: %v", err)), nil
		}

		var created models.NovelResponse
		if err := json.Unmarshal(respBody, &created); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse novel response: %v", err)), nil
		}
		if created.ID == "" {
			return mcp.NewToolResultError(errorText(created.Error, "novel job creation failed")), nil
		}

		resultBody, err := pollJobCompletion(ctx, client, apiURL, apiKey, "/api/v1/novel/"+created.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling novel job failed: %v", err)), nil
		}

		var status models.NovelStatusResponse
		if err := json.Unmarshal(resultBody, &status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse novel status: %v", err)), nil
		}
		if status.Status == "failed" {
			return mcp.NewToolResultError(errorText(status.Error, "novel job failed")), nil
		}

		return mcp.NewToolResultText(formatNovel(status)), nil
	}
}

func formatNovel(status models.NovelStatusResponse) string {
	var sb strings.Builder
	if l := status.Listing; l != nil {
		sb.WriteString(fmt.Sprintf("%s by %s (%s)\n", l.Novel.Title, l.Novel.Author, status.Status))
		sb.WriteString(fmt.Sprintf("%d chapters across %d listing pages", len(l.Chapters), l.Pages))
		if len(l.FailedPages) > 0 {
			sb.WriteString(fmt.Sprintf(", pages %v failed", l.FailedPages))
		}
		sb.WriteString("\n\n")
		if len(status.Bodies) == 0 {
			for _, ch := range l.Chapters {
				sb.WriteString(fmt.Sprintf("%d. %s <%s>\n", ch.ID, ch.Title, ch.URL))
			}
		}
	}
	for _, b := range status.Bodies {
		if b.Error != nil {
			sb.WriteString(fmt.Sprintf("--- [%d] %s FAILED: %s ---\n\n", b.ID, b.Title, b.Error.Message))
			continue
		}
		sb.WriteString(fmt.Sprintf("--- [%d] %s ---\n%s\n\n", b.ID, b.Title, b.Content))
	}
	return sb.String()
}
