// Package ytdlp shells out to the yt-dlp binary. It is the production
// Adapter for the worker engine and the RemoteLister for the watcher.
package ytdlp

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sudoStacks/retreivr/internal/models"
)

const defaultBinary = "yt-dlp"

// defaultOutputTemplate mirrors yt-dlp's artist/title layout.
const defaultOutputTemplate = "%(artist,uploader)s/%(title)s.%(ext)s"

// Client invokes yt-dlp for downloads and playlist listings.
type Client struct {
	// Binary is the yt-dlp executable; looked up on PATH when not absolute.
	Binary string

	// LibraryDir is the root directory downloads land in.
	LibraryDir string

	// ResolveURL maps a playlist ID to its remote URL. Returns false for
	// playlists that are no longer configured.
	ResolveURL func(playlistID string) (string, bool)
}

func New(libraryDir string, resolveURL func(string) (string, bool)) *Client {
	return &Client{
		Binary:     defaultBinary,
		LibraryDir: libraryDir,
		ResolveURL: resolveURL,
	}
}

// Execute downloads a single job's URL. The final path is the last path
// yt-dlp prints after moving the file into place.
func (c *Client) Execute(ctx context.Context, job *models.DownloadJob) (string, map[string]string, error) {
	template := job.OutputTemplate
	if template == "" {
		template = defaultOutputTemplate
	}

	args := []string{
		"--no-progress",
		"--no-playlist",
		"--print", "after_move:filepath",
		"-o", filepath.Join(c.LibraryDir, template),
	}
	if job.MediaType == "" || job.MediaType == "audio" {
		args = append(args, "-f", "bestaudio", "-x")
	}
	args = append(args, job.URL)

	stdout, err := c.run(ctx, args)
	if err != nil {
		return "", nil, err
	}

	finalPath := lastLine(stdout)
	if finalPath == "" {
		return "", nil, fmt.Errorf("yt-dlp reported no output file for %s", job.URL)
	}
	return finalPath, map[string]string{"title": strings.TrimSuffix(filepath.Base(finalPath), filepath.Ext(finalPath))}, nil
}

// ListItems returns the canonical item URLs of a playlist without
// downloading anything. Item URLs double as ledger item IDs.
func (c *Client) ListItems(ctx context.Context, playlistID string) ([]string, error) {
	url, ok := c.ResolveURL(playlistID)
	if !ok {
		return nil, fmt.Errorf("playlist %s is not configured", playlistID)
	}

	stdout, err := c.run(ctx, []string{
		"--flat-playlist",
		"--print", "%(url)s",
		url,
	})
	if err != nil {
		return nil, err
	}

	var items []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			items = append(items, line)
		}
	}
	return items, nil
}

// run executes yt-dlp and folds stderr into the returned error so the
// retryability classifier can see the tool's own failure text.
func (c *Client) run(ctx context.Context, args []string) (string, error) {
	binary := c.Binary
	if binary == "" {
		binary = defaultBinary
	}
	cmd := exec.CommandContext(ctx, binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		detail := lastLine(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("yt-dlp failed: %s", detail)
	}
	return stdout.String(), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
