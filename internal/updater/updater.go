package updater

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/inconshreveable/go-update"
	"github.com/rs/zerolog"
)

const (
	Owner = "kukks"
	Repo  = "rag-mcp"
)

// Updater handles self-updates from GitHub releases
type Updater struct {
	client         *github.Client
	currentVersion string
	logger         zerolog.Logger
}

// New creates a new updater
func New(currentVersion string, logger zerolog.Logger) *Updater {
	return &Updater{
		client:         github.NewClient(nil),
		currentVersion: currentVersion,
		logger:         logger,
	}
}

// CheckForUpdate checks if a newer version is available
func (u *Updater) CheckForUpdate(ctx context.Context) (*github.RepositoryRelease, bool, error) {
	release, _, err := u.client.Repositories.GetLatestRelease(ctx, Owner, Repo)
	if err != nil {
		return nil, false, err
	}

	if release.TagName == nil {
		return nil, false, fmt.Errorf("no tag name in release")
	}

	// Compare dot-separated numeric parts; a leading "v" is ignored.
	latest := strings.Split(strings.TrimPrefix(*release.TagName, "v"), ".")
	current := strings.Split(strings.TrimPrefix(u.currentVersion, "v"), ".")
	for i := 0; i < len(latest) || i < len(current); i++ {
		var l, c int
		if i < len(latest) {
			l, _ = strconv.Atoi(latest[i])
		}
		if i < len(current) {
			c, _ = strconv.Atoi(current[i])
		}
		if l != c {
			return release, l > c, nil
		}
	}

	return release, false, nil
}

// Update downloads and applies an update
func (u *Updater) Update(ctx context.Context, release *github.RepositoryRelease) error {
	// Find asset for current platform
	assetName := fmt.Sprintf("rag-mcp_%s_%s", runtime.GOOS, runtime.GOARCH)
	if runtime.GOOS == "windows" {
		assetName += ".exe"
	}

	var assetURL string
	for _, asset := range release.Assets {
		if asset.Name != nil && *asset.Name == assetName {
			assetURL = *asset.BrowserDownloadURL
			break
		}
	}

	if assetURL == "" {
		return fmt.Errorf("no asset found for platform %s_%s", runtime.GOOS, runtime.GOARCH)
	}

	u.logger.Info().Str("url", assetURL).Msg("Downloading update")

	// Download binary
	resp, err := http.Get(assetURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Apply update
	err = update.Apply(resp.Body, update.Options{})
	if err != nil {
		if rerr := update.RollbackError(err); rerr != nil {
			u.logger.Error().Err(rerr).Msg("Failed to rollback")
		}
		return err
	}

	u.logger.Info().Str("version", *release.TagName).Msg("Update successful")
	return nil
}
