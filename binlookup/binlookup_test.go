package binlookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
)

func TestCacheMemoizes(t *testing.T) {
	calls := 0
	resolver := ResolverFunc(func(ctx context.Context, bin string) (*entity.BINInfo, error) {
		calls++
		return &entity.BINInfo{Bank: "Garanti", BankCode: "garanti", Country: "tr"}, nil
	})

	cache := NewCache(resolver)
	for i := 0; i < 3; i++ {
		info, err := cache.Resolve(context.Background(), "42822090")
		require.NoError(t, err)
		assert.Equal(t, "garanti", info.BankCode)
	}
	assert.Equal(t, 1, calls)
}

func TestCacheRejectsShortBIN(t *testing.T) {
	cache := NewCache(ResolverFunc(func(ctx context.Context, bin string) (*entity.BINInfo, error) {
		t.Fatal("resolver must not be called")
		return nil, nil
	}))

	_, err := cache.Resolve(context.Background(), "1234")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCacheTruncatesToEightDigits(t *testing.T) {
	var seen string
	cache := NewCache(ResolverFunc(func(ctx context.Context, bin string) (*entity.BINInfo, error) {
		seen = bin
		return &entity.BINInfo{}, nil
	}))

	_, err := cache.Resolve(context.Background(), "4282209004348016")
	require.NoError(t, err)
	assert.Equal(t, "42822090", seen)
}

func TestHTTPResolver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/428220":
			w.Write([]byte(`{"bank":"Garanti BBVA","bankCode":"garanti","brand":"visa","type":"credit","family":"bonus","country":"tr"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	resolver := NewHTTPResolver(server.URL)

	info, err := resolver.Resolve(context.Background(), "428220")
	require.NoError(t, err)
	assert.Equal(t, "Garanti BBVA", info.Bank)
	assert.Equal(t, "bonus", info.Family)
	assert.Equal(t, "credit", info.Type)

	_, err = resolver.Resolve(context.Background(), "999999")
	assert.True(t, apperr.IsNotFound(err))
}
