package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

const connectivityTTL = time.Minute

// ConnectionTester probes one provider with the given settings. It returns
// the number of results and, for poster sources, a sample poster.
type ConnectionTester func(ctx context.Context, settings domain.Settings) (count int, poster string, err error)

// TestConnection probes provider with the stored settings overlaid by patch.
// Results are cached for a minute per provider and credential set.
func (s *Service) TestConnection(ctx context.Context, provider string, patch domain.Settings) (domain.ConnectionResult, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		return domain.ConnectionResult{}, ErrUnknownProvider
	}
	settings := s.settings().Overlay(patch)

	tester, ok := s.testers[name]
	if !ok {
		if _, isWeb := s.backends[name]; !isWeb {
			return domain.ConnectionResult{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
		}
		tester = s.webTester(name)
	}

	key := connectivityKey(name, settings)
	if cached, ok := s.connCache.Get(key); ok {
		return cached, nil
	}

	startedAt := time.Now()
	count, poster, err := tester(ctx, settings)
	result := domain.ConnectionResult{
		Provider:  name,
		OK:        err == nil,
		LatencyMS: time.Since(startedAt).Milliseconds(),
		Count:     count,
		Poster:    poster,
	}
	if err != nil {
		result.Error = err.Error()
		var statusErr *common.StatusError
		if errors.As(err, &statusErr) {
			result.Status = statusErr.StatusCode
		}
	}
	s.logCall("test:"+name, "", nil, count, time.Since(startedAt), err)
	s.connCache.Set(key, result)
	return result, nil
}

func (s *Service) webTester(name string) ConnectionTester {
	return func(ctx context.Context, settings domain.Settings) (int, string, error) {
		creds := settings.WebSearch
		creds.Provider = name
		count, err := s.web.Test(ctx, creds)
		return count, "", err
	}
}

func connectivityKey(provider string, settings domain.Settings) string {
	data, _ := json.Marshal(settings)
	sum := sha256.Sum256(data)
	return provider + ":" + hex.EncodeToString(sum[:])
}
