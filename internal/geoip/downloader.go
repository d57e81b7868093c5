// Package geoip keeps a MaxMind country database on disk and resolves the
// game server address to a country code.
package geoip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// EnsureDB makes sure path holds a database younger than maxAge. A missing or
// outdated file is downloaded from url when url is set; an outdated file is
// kept as is when the download fails.
func EnsureDB(ctx context.Context, path, url string, maxAge time.Duration) error {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if maxAge <= 0 || time.Since(info.ModTime()) < maxAge {
			log.Debug().Str("path", path).Msg("GeoIP database is up to date")
			return nil
		}
		if url == "" {
			log.Warn().Str("path", path).Msg("GeoIP database is outdated and no download URL is set")
			return nil
		}
		log.Info().Str("path", path).Msg("GeoIP database is outdated, updating...")
		if err := download(ctx, path, url); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("GeoIP update failed, using the existing database")
		}
		return nil

	case os.IsNotExist(err):
		if url == "" {
			return fmt.Errorf("geoip database %s not found and no download URL is set", path)
		}
		log.Info().Str("path", path).Msg("GeoIP database missing, downloading...")
		return download(ctx, path, url)

	default:
		return err
	}
}

// download writes url into path through a temporary file and a rename.
func download(ctx context.Context, path, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req) //nolint:gosec
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	tmpPath := path + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
