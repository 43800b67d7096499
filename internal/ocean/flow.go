package ocean

import (
	"context"
	"errors"
	"net/http"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/camarigor/ocean-hq/internal/collector"
)

// UserInfoFetcher is the part of the API client the config flow needs
type UserInfoFetcher interface {
	FetchUserInfoFull(ctx context.Context, username string) (map[string]any, error)
}

// ValidateUsername checks that username is a Bitcoin mainnet address
func ValidateUsername(username string) error {
	if username == "" {
		return &collector.Error{Kind: collector.KindConfig, Op: "validate username", Err: collector.ErrInvalidUsername}
	}
	addr, err := btcutil.DecodeAddress(username, &chaincfg.MainNetParams)
	if err != nil || !addr.IsForNet(&chaincfg.MainNetParams) {
		return &collector.Error{Kind: collector.KindConfig, Op: "validate username " + username, Err: collector.ErrInvalidUsername}
	}
	return nil
}

// ValidateInput checks username and confirms OCEAN knows it. It returns the
// entry title on success; every failure is a config error.
func ValidateInput(ctx context.Context, fetcher UserInfoFetcher, username string) (string, error) {
	if err := ValidateUsername(username); err != nil {
		return "", err
	}

	if _, err := fetcher.FetchUserInfoFull(ctx, username); err != nil {
		cfgErr := &collector.Error{Kind: collector.KindConfig, Op: "lookup " + username, StatusCode: collector.StatusCode(err)}
		switch {
		case cfgErr.StatusCode == http.StatusNotFound:
			cfgErr.Err = collector.ErrUsernameNotFound
		case errors.Is(err, collector.ErrEmptyResult):
			cfgErr.Op = "invalid response for " + username
			cfgErr.Err = err
		default:
			cfgErr.Err = errors.Join(collector.ErrCannotConnect, err)
		}
		return "", cfgErr
	}

	return Title(username), nil
}
